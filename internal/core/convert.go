package core

// convert.go holds the value-level rules the classifier applies to a single
// cell: ASCII stripping, mail address validation and timestamp truncation.
//
// All functions take and return pgtype.Text so that null flows through
// unchanged; none of them ever fails.

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgtype"
)

// mailPattern is the accepted shape of a mail address.
var mailPattern = regexp.MustCompile(`^[\w.-]+@[\w.-]+\.\w+$`)

// DateLayout is the format of a truncated created_at value.
const DateLayout = "2006-01-02"

// timestampLayouts are tried in order. Fractional seconds are accepted after
// the seconds field even when a layout does not list them.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05Z07",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05-0700",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05 -0700 MST",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"2006/01/02",
	"01/02/2006 15:04:05",
	"1/2/2006 15:04",
	"01/02/2006",
	"1/2/2006",
	"20060102",
	time.RFC1123Z,
	time.RFC1123,
	"Jan 2, 2006",
	"2 Jan 2006",
}

// StripNonASCII deletes every byte outside 0x00-0x7F. Mojibake such as "â€"
// consists only of such bytes and goes with them.
func StripNonASCII(s string) string {
	if isASCII(s) {
		return s
	}
	b := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] < utf8.RuneSelf {
			b = append(b, s[i])
		}
	}
	return string(b)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// SanitizeText applies StripNonASCII to a non-null value.
func SanitizeText(v pgtype.Text) pgtype.Text {
	if !v.Valid {
		return v
	}
	return pgtype.Text{String: StripNonASCII(v.String), Valid: true}
}

// ValidMailAddress reports whether s looks like a mail address.
func ValidMailAddress(s string) bool {
	return mailPattern.MatchString(s)
}

// ValidateMailAddress keeps a well-formed address and nulls anything else.
// Null stays null.
func ValidateMailAddress(v pgtype.Text) pgtype.Text {
	if !v.Valid || ValidMailAddress(v.String) {
		return v
	}
	return pgtype.Text{}
}

// ToPgDate parses a timestamp in any supported layout. The date is taken in
// the value's own offset; time of day and zone are dropped.
func ToPgDate(s string) pgtype.Date {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Date{Valid: false}
	}

	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			y, m, d := t.Date()
			return pgtype.Date{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC), Valid: true}
		}
	}

	return pgtype.Date{Valid: false}
}

// TruncateDate rewrites a timestamp value as its calendar date. ok is false
// when a non-null value could not be parsed; the value is then null.
func TruncateDate(v pgtype.Text) (out pgtype.Text, ok bool) {
	if !v.Valid {
		return v, true
	}
	d := ToPgDate(v.String)
	if !d.Valid {
		return pgtype.Text{}, false
	}
	return pgtype.Text{String: d.Time.Format(DateLayout), Valid: true}, true
}
