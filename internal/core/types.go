package core

import (
	"maps"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// Columns the classifier knows about. Every other column is carried through untouched.
const (
	ColLoginID     = "login_id"
	ColMailAddress = "mail_address"
	ColCreatedAt   = "created_at"
)

// IssueColumn is the header of the reason column appended to rejected output.
const IssueColumn = "issue"

// Issue is the reason tag attached to a rejected record.
type Issue string

const (
	IssueInvalidMail    Issue = "Invalid mail_address"
	IssueBlankKeys      Issue = "Both login_id and mail_address blank"
	IssueDuplicateMail  Issue = "Duplicate mail_address"
	IssueDuplicateLogin Issue = "Duplicate login_id"
)

// Issues lists every reason tag in the order the stages emit them.
var Issues = []Issue{IssueInvalidMail, IssueBlankKeys, IssueDuplicateMail, IssueDuplicateLogin}

// Record is one input row. Known columns get their own fields; anything else
// lives in Other keyed by column name. A value with Valid=false is null.
type Record struct {
	LoginID     pgtype.Text
	MailAddress pgtype.Text
	CreatedAt   pgtype.Text
	Other       map[string]pgtype.Text
}

// NewRecord builds a record from positional values. Columns without a value
// (short rows) are null.
func NewRecord(columns []string, values []pgtype.Text) Record {
	var r Record
	for i, col := range columns {
		var v pgtype.Text
		if i < len(values) {
			v = values[i]
		}
		switch col {
		case ColLoginID:
			r.LoginID = v
		case ColMailAddress:
			r.MailAddress = v
		case ColCreatedAt:
			r.CreatedAt = v
		default:
			if r.Other == nil {
				r.Other = make(map[string]pgtype.Text, len(columns))
			}
			r.Other[col] = v
		}
	}
	return r
}

// Get returns the value of col, or null if the record does not carry it.
func (r Record) Get(col string) pgtype.Text {
	switch col {
	case ColLoginID:
		return r.LoginID
	case ColMailAddress:
		return r.MailAddress
	case ColCreatedAt:
		return r.CreatedAt
	default:
		return r.Other[col]
	}
}

// With returns a copy of r with col set to v. The receiver is not modified.
func (r Record) With(col string, v pgtype.Text) Record {
	switch col {
	case ColLoginID:
		r.LoginID = v
	case ColMailAddress:
		r.MailAddress = v
	case ColCreatedAt:
		r.CreatedAt = v
	default:
		other := make(map[string]pgtype.Text, len(r.Other)+1)
		maps.Copy(other, r.Other)
		other[col] = v
		r.Other = other
	}
	return r
}

// Map returns a copy of r with fn applied to every value.
func (r Record) Map(fn func(pgtype.Text) pgtype.Text) Record {
	out := Record{
		LoginID:     fn(r.LoginID),
		MailAddress: fn(r.MailAddress),
		CreatedAt:   fn(r.CreatedAt),
	}
	if len(r.Other) > 0 {
		out.Other = make(map[string]pgtype.Text, len(r.Other))
		for k, v := range r.Other {
			out.Other[k] = fn(v)
		}
	}
	return out
}

// Values returns the record's values in column order.
func (r Record) Values(columns []string) []pgtype.Text {
	out := make([]pgtype.Text, len(columns))
	for i, col := range columns {
		out[i] = r.Get(col)
	}
	return out
}

// RejectedRecord is a record captured by one of the rejection stages.
type RejectedRecord struct {
	Record
	Issue Issue
}

// Dataset is the classifier input: the header of the export plus its rows in
// input order.
type Dataset struct {
	Columns []string
	Records []Record
}

// Capabilities records which optional columns a dataset carries. Stages whose
// column is absent are skipped.
type Capabilities struct {
	HasLoginID     bool
	HasMailAddress bool
	HasCreatedAt   bool
}

// DetectCapabilities inspects the column set once.
func DetectCapabilities(columns []string) Capabilities {
	var c Capabilities
	for _, col := range columns {
		switch col {
		case ColLoginID:
			c.HasLoginID = true
		case ColMailAddress:
			c.HasMailAddress = true
		case ColCreatedAt:
			c.HasCreatedAt = true
		}
	}
	return c
}

// Missing lists the optional columns that are absent.
func (c Capabilities) Missing() []string {
	var missing []string
	if !c.HasLoginID {
		missing = append(missing, ColLoginID)
	}
	if !c.HasMailAddress {
		missing = append(missing, ColMailAddress)
	}
	if !c.HasCreatedAt {
		missing = append(missing, ColCreatedAt)
	}
	return missing
}

// Stats carries counters gathered while classifying.
type Stats struct {
	DateParseFailures int
}

// Result is the classifier output.
type Result struct {
	Columns  []string
	Accepted []Record
	Rejected []RejectedRecord
	Stats    Stats
}

// RejectedColumns is the header of the rejected output: the dataset columns
// followed by the issue column.
func (r Result) RejectedColumns() []string {
	cols := make([]string, 0, len(r.Columns)+1)
	cols = append(cols, r.Columns...)
	return append(cols, IssueColumn)
}

// CountByIssue tallies rejected records per reason tag.
func (r Result) CountByIssue() map[Issue]int {
	counts := make(map[Issue]int, len(Issues))
	for _, rr := range r.Rejected {
		counts[rr.Issue]++
	}
	return counts
}

// valueKey encodes a value so that null and every string map to distinct keys.
func valueKey(v pgtype.Text) string {
	if !v.Valid {
		return "\x00"
	}
	return "=" + v.String
}

// rowKey encodes every column value plus the issue for structural equality.
func rowKey(columns []string, rr RejectedRecord) string {
	var b strings.Builder
	for _, col := range columns {
		v := rr.Get(col)
		if !v.Valid {
			b.WriteString("n;")
			continue
		}
		b.WriteString(strconv.Itoa(len(v.String)))
		b.WriteByte(':')
		b.WriteString(v.String)
		b.WriteByte(';')
	}
	b.WriteString(string(rr.Issue))
	return b.String()
}

// isBlank reports whether v is null or the empty string.
func isBlank(v pgtype.Text) bool {
	return !v.Valid || v.String == ""
}
