package core

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
)

func txt(s string) pgtype.Text { return pgtype.Text{String: s, Valid: true} }

var null = pgtype.Text{}

var userColumns = []string{ColLoginID, ColMailAddress, ColCreatedAt, "name"}

// users builds records over userColumns from rows of (login, mail, created, name);
// "<null>" marks a null cell.
func users(rows ...[4]string) []Record {
	out := make([]Record, len(rows))
	for i, row := range rows {
		vals := make([]pgtype.Text, len(row))
		for j, s := range row {
			if s == "<null>" {
				vals[j] = null
			} else {
				vals[j] = txt(s)
			}
		}
		out[i] = NewRecord(userColumns, vals)
	}
	return out
}

func issues(rs []RejectedRecord) []Issue {
	out := make([]Issue, len(rs))
	for i, r := range rs {
		out[i] = r.Issue
	}
	return out
}

func equalIssues(a, b []Issue) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestClassify_Guards(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		res := Classify(Dataset{Columns: userColumns})
		if len(res.Accepted) != 0 || len(res.Rejected) != 0 {
			t.Errorf("got %d accepted, %d rejected, want 0, 0", len(res.Accepted), len(res.Rejected))
		}
	})

	t.Run("missing login_id returns records unchanged", func(t *testing.T) {
		cols := []string{ColMailAddress, "name"}
		recs := []Record{
			NewRecord(cols, []pgtype.Text{txt("bad"), txt("café")}),
			NewRecord(cols, []pgtype.Text{txt("bad"), txt("café")}),
		}
		res := Classify(Dataset{Columns: cols, Records: recs})
		if len(res.Accepted) != 2 {
			t.Fatalf("accepted = %d, want 2", len(res.Accepted))
		}
		if len(res.Rejected) != 0 {
			t.Errorf("rejected = %d, want 0", len(res.Rejected))
		}
		if got := res.Accepted[0].Get("name"); got != txt("café") {
			t.Errorf("name = %+v, want unsanitized café", got)
		}
		if got := res.Accepted[0].MailAddress; got != txt("bad") {
			t.Errorf("mail_address = %+v, want untouched", got)
		}
	})
}

func TestClassify_Scenarios(t *testing.T) {
	tests := []struct {
		name         string
		columns      []string
		records      []Record
		wantAccepted int
		wantIssues   []Issue
		check        func(t *testing.T, res Result)
	}{
		{
			name:    "identical rows rejected once as duplicate mail",
			columns: []string{ColLoginID, ColMailAddress},
			records: []Record{
				NewRecord([]string{ColLoginID, ColMailAddress}, []pgtype.Text{txt("a"), txt("x@y.com")}),
				NewRecord([]string{ColLoginID, ColMailAddress}, []pgtype.Text{txt("a"), txt("x@y.com")}),
			},
			wantAccepted: 1,
			wantIssues:   []Issue{IssueDuplicateMail},
		},
		{
			name:    "both keys blank",
			columns: []string{ColLoginID, ColMailAddress},
			records: []Record{
				NewRecord([]string{ColLoginID, ColMailAddress}, []pgtype.Text{txt(""), txt("")}),
			},
			wantAccepted: 0,
			// The empty address fails validation before the blank-key stage runs.
			wantIssues: []Issue{IssueInvalidMail, IssueBlankKeys},
		},
		{
			name:    "both keys null",
			columns: []string{ColLoginID, ColMailAddress},
			records: []Record{
				NewRecord([]string{ColLoginID, ColMailAddress}, []pgtype.Text{null, null}),
			},
			wantAccepted: 0,
			wantIssues:   []Issue{IssueInvalidMail, IssueBlankKeys},
		},
		{
			name:    "invalid mail is flagged but kept",
			columns: []string{ColLoginID, ColMailAddress},
			records: []Record{
				NewRecord([]string{ColLoginID, ColMailAddress}, []pgtype.Text{txt("b"), txt("not-an-email")}),
			},
			wantAccepted: 1,
			wantIssues:   []Issue{IssueInvalidMail},
			check: func(t *testing.T, res Result) {
				if res.Accepted[0].MailAddress.Valid {
					t.Errorf("accepted mail_address = %q, want null", res.Accepted[0].MailAddress.String)
				}
				if res.Rejected[0].LoginID != txt("b") {
					t.Errorf("rejected login_id = %+v, want b", res.Rejected[0].LoginID)
				}
			},
		},
		{
			name:         "non-ascii stripped",
			columns:      userColumns,
			records:      users([4]string{"c", "c@y.com", "<null>", "café"}),
			wantAccepted: 1,
			check: func(t *testing.T, res Result) {
				if got := res.Accepted[0].Get("name"); got != txt("caf") {
					t.Errorf("name = %+v, want caf", got)
				}
			},
		},
		{
			name:         "created_at truncated to date",
			columns:      userColumns,
			records:      users([4]string{"d", "d@y.com", "2020-01-15T10:30:00Z", "n"}),
			wantAccepted: 1,
			check: func(t *testing.T, res Result) {
				if got := res.Accepted[0].CreatedAt; got != txt("2020-01-15") {
					t.Errorf("created_at = %+v, want 2020-01-15", got)
				}
			},
		},
		{
			name:    "duplicate login with distinct mail",
			columns: userColumns,
			records: users(
				[4]string{"e", "e1@y.com", "<null>", "first"},
				[4]string{"e", "e2@y.com", "<null>", "second"},
			),
			wantAccepted: 1,
			wantIssues:   []Issue{IssueDuplicateLogin},
			check: func(t *testing.T, res Result) {
				if got := res.Accepted[0].Get("name"); got != txt("first") {
					t.Errorf("kept %+v, want first", got)
				}
				if got := res.Rejected[0].Get("name"); got != txt("second") {
					t.Errorf("rejected %+v, want second", got)
				}
			},
		},
		{
			name:    "null addresses group together",
			columns: userColumns,
			records: users(
				[4]string{"f", "bad-1", "<null>", "first"},
				[4]string{"g", "bad-2", "<null>", "second"},
			),
			wantAccepted: 1,
			wantIssues:   []Issue{IssueInvalidMail, IssueInvalidMail, IssueDuplicateMail},
		},
		{
			name:    "identical invalid rows collapse but keep distinct issues",
			columns: userColumns,
			records: users(
				[4]string{"h", "bad", "<null>", "n"},
				[4]string{"h", "bad", "<null>", "n"},
			),
			wantAccepted: 1,
			wantIssues:   []Issue{IssueInvalidMail, IssueDuplicateMail},
		},
		{
			name:         "blank mail with login survives blank-key stage",
			columns:      userColumns,
			records:      users([4]string{"i", "", "<null>", "n"}),
			wantAccepted: 1,
			wantIssues:   []Issue{IssueInvalidMail},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Classify(Dataset{Columns: tt.columns, Records: tt.records})
			if len(res.Accepted) != tt.wantAccepted {
				t.Fatalf("accepted = %d, want %d", len(res.Accepted), tt.wantAccepted)
			}
			if got := issues(res.Rejected); !equalIssues(got, tt.wantIssues) {
				t.Fatalf("issues = %v, want %v", got, tt.wantIssues)
			}
			if tt.check != nil {
				tt.check(t, res)
			}
		})
	}
}

func TestClassify_CapturesValuesAtRejectionTime(t *testing.T) {
	recs := users([4]string{"", "", "2020-01-15T10:30:00Z", "n"})
	res := Classify(Dataset{Columns: userColumns, Records: recs})

	if got := issues(res.Rejected); !equalIssues(got, []Issue{IssueInvalidMail, IssueBlankKeys}) {
		t.Fatalf("issues = %v", got)
	}
	if got := res.Rejected[0].CreatedAt; got != txt("2020-01-15T10:30:00Z") {
		t.Errorf("mail capture created_at = %+v, want untruncated", got)
	}
	if got := res.Rejected[1].CreatedAt; got != txt("2020-01-15") {
		t.Errorf("blank-key capture created_at = %+v, want truncated", got)
	}
}

func TestClassify_DoesNotModifyInput(t *testing.T) {
	recs := users([4]string{"a", "bad", "2020-01-15T10:30:00Z", "café"})
	Classify(Dataset{Columns: userColumns, Records: recs})

	if recs[0].MailAddress != txt("bad") {
		t.Errorf("input mail_address changed to %+v", recs[0].MailAddress)
	}
	if recs[0].Get("name") != txt("café") {
		t.Errorf("input name changed to %+v", recs[0].Get("name"))
	}
}

func TestClassify_WithoutMailColumn(t *testing.T) {
	cols := []string{ColLoginID, "name"}
	recs := []Record{
		NewRecord(cols, []pgtype.Text{txt("a"), txt("1")}),
		NewRecord(cols, []pgtype.Text{txt(""), txt("2")}),
		NewRecord(cols, []pgtype.Text{txt("a"), txt("3")}),
	}
	res := Classify(Dataset{Columns: cols, Records: recs})

	if len(res.Accepted) != 1 {
		t.Fatalf("accepted = %d, want 1", len(res.Accepted))
	}
	want := []Issue{IssueBlankKeys, IssueDuplicateLogin}
	if got := issues(res.Rejected); !equalIssues(got, want) {
		t.Errorf("issues = %v, want %v", got, want)
	}
}

func TestClassify_CountsDateParseFailures(t *testing.T) {
	recs := users(
		[4]string{"a", "a@y.com", "yesterday", "n"},
		[4]string{"b", "b@y.com", "2021-03-04 05:06:07", "n"},
		[4]string{"c", "c@y.com", "<null>", "n"},
	)
	res := Classify(Dataset{Columns: userColumns, Records: recs})

	if res.Stats.DateParseFailures != 1 {
		t.Errorf("DateParseFailures = %d, want 1", res.Stats.DateParseFailures)
	}
	if res.Accepted[0].CreatedAt.Valid {
		t.Errorf("unparseable created_at = %q, want null", res.Accepted[0].CreatedAt.String)
	}
	if res.Accepted[1].CreatedAt != txt("2021-03-04") {
		t.Errorf("created_at = %+v, want 2021-03-04", res.Accepted[1].CreatedAt)
	}
}

func TestClassify_ShortRowsAreNull(t *testing.T) {
	recs := []Record{NewRecord(userColumns, []pgtype.Text{txt("a")})}
	res := Classify(Dataset{Columns: userColumns, Records: recs})

	if len(res.Accepted) != 1 {
		t.Fatalf("accepted = %d, want 1", len(res.Accepted))
	}
	if got := res.Accepted[0].Get("name"); got.Valid {
		t.Errorf("name = %q, want null", got.String)
	}
}

func TestClassify_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	logins := []string{"<null>", "", "a", "b", "c", "d"}
	mails := []string{"<null>", "", "a@x.com", "b@x.com", "bad", "c@x.com"}

	var rows [][4]string
	for i := 0; i < 200; i++ {
		rows = append(rows, [4]string{
			logins[rng.Intn(len(logins))],
			mails[rng.Intn(len(mails))],
			"2020-01-15T10:30:00Z",
			fmt.Sprintf("n%d", rng.Intn(3)),
		})
	}
	res := Classify(Dataset{Columns: userColumns, Records: users(rows...)})

	mailSeen := map[string]bool{}
	loginSeen := map[string]bool{}
	for _, r := range res.Accepted {
		if isBlank(r.LoginID) && isBlank(r.MailAddress) {
			t.Errorf("blank-key record accepted: %+v", r)
		}
		if mk := valueKey(r.MailAddress); mailSeen[mk] {
			t.Errorf("duplicate accepted mail_address %q", mk)
		} else {
			mailSeen[mk] = true
		}
		if lk := valueKey(r.LoginID); loginSeen[lk] {
			t.Errorf("duplicate accepted login_id %q", lk)
		} else {
			loginSeen[lk] = true
		}
	}

	rejectedSeen := map[string]bool{}
	for _, rr := range res.Rejected {
		k := rowKey(userColumns, rr)
		if rejectedSeen[k] {
			t.Errorf("rejected set repeats %+v", rr)
		}
		rejectedSeen[k] = true
	}
}

func TestDuplicateStage_FirstWins(t *testing.T) {
	recs := users(
		[4]string{"a", "m@x.com", "<null>", "0"},
		[4]string{"b", "m@x.com", "<null>", "1"},
		[4]string{"c", "", "<null>", "2"},
		[4]string{"d", "", "<null>", "3"},
		[4]string{"e", "<null>", "<null>", "4"},
	)
	kept, captured := DuplicateStage(ColMailAddress, IssueDuplicateMail)(recs)

	var names []string
	for _, r := range kept {
		names = append(names, r.Get("name").String)
	}
	if fmt.Sprint(names) != "[0 2 4]" {
		t.Errorf("kept = %v, want [0 2 4]", names)
	}
	if len(captured) != 2 {
		t.Errorf("captured = %d, want 2", len(captured))
	}
}
