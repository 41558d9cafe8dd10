package core

// classifier.go partitions a dataset into accepted and rejected records.
//
// Each stage takes the current accepted records and returns the records that
// survive plus the records it captured. Stages never modify their input, so
// a captured record holds the values it had when the stage ran:
//
//	sanitize -> validate mail -> truncate dates -> blank keys -> duplicate mail -> duplicate login
//
// The mail validation stage only copies rows into the rejected set; the row
// stays accepted unless a later stage removes it.

// Stage is one step of the classifier.
type Stage func(accepted []Record) (kept []Record, captured []RejectedRecord)

// Classify runs every enabled stage over ds and returns the partition.
// An empty dataset yields an empty result; a dataset without login_id is
// returned as accepted without any processing.
func Classify(ds Dataset) Result {
	res := Result{Columns: ds.Columns}
	if len(ds.Records) == 0 {
		return res
	}

	caps := DetectCapabilities(ds.Columns)
	if !caps.HasLoginID {
		res.Accepted = ds.Records
		return res
	}

	accepted := ds.Records
	var rejected []RejectedRecord
	for _, stage := range stagesFor(caps, &res.Stats) {
		var captured []RejectedRecord
		accepted, captured = stage(accepted)
		rejected = append(rejected, captured...)
	}

	res.Accepted = accepted
	res.Rejected = distinctRejected(ds.Columns, rejected)
	return res
}

// stagesFor returns the stage sequence enabled by caps. The date stage
// reports parse failures into stats.
func stagesFor(caps Capabilities, stats *Stats) []Stage {
	stages := []Stage{SanitizeStage}
	if caps.HasMailAddress {
		stages = append(stages, MailValidationStage)
	}
	if caps.HasCreatedAt {
		stages = append(stages, func(rs []Record) ([]Record, []RejectedRecord) {
			out, failures := truncateDates(rs)
			stats.DateParseFailures += failures
			return out, nil
		})
	}
	stages = append(stages, BlankKeyStage)
	if caps.HasMailAddress {
		stages = append(stages, DuplicateStage(ColMailAddress, IssueDuplicateMail))
	}
	if caps.HasLoginID {
		stages = append(stages, DuplicateStage(ColLoginID, IssueDuplicateLogin))
	}
	return stages
}

// SanitizeStage strips non-ASCII bytes from every value. It never rejects.
func SanitizeStage(rs []Record) ([]Record, []RejectedRecord) {
	out := make([]Record, len(rs))
	for i, r := range rs {
		out[i] = r.Map(SanitizeText)
	}
	return out, nil
}

// MailValidationStage nulls malformed mail addresses and captures every
// record whose address is null afterwards, including ones that were null on
// input. Captured records remain accepted.
func MailValidationStage(rs []Record) ([]Record, []RejectedRecord) {
	out := make([]Record, len(rs))
	var captured []RejectedRecord
	for i, r := range rs {
		r = r.With(ColMailAddress, ValidateMailAddress(r.MailAddress))
		out[i] = r
		if !r.MailAddress.Valid {
			captured = append(captured, RejectedRecord{Record: r, Issue: IssueInvalidMail})
		}
	}
	return out, captured
}

// truncateDates rewrites created_at as a calendar date and counts values
// that did not parse. Nothing is rejected here.
func truncateDates(rs []Record) ([]Record, int) {
	out := make([]Record, len(rs))
	failures := 0
	for i, r := range rs {
		v, ok := TruncateDate(r.CreatedAt)
		if !ok {
			failures++
		}
		out[i] = r.With(ColCreatedAt, v)
	}
	return out, failures
}

// BlankKeyStage removes records whose login_id and mail_address are both
// null or empty.
func BlankKeyStage(rs []Record) ([]Record, []RejectedRecord) {
	kept := make([]Record, 0, len(rs))
	var captured []RejectedRecord
	for _, r := range rs {
		if isBlank(r.LoginID) && isBlank(r.MailAddress) {
			captured = append(captured, RejectedRecord{Record: r, Issue: IssueBlankKeys})
			continue
		}
		kept = append(kept, r)
	}
	return kept, captured
}

// DuplicateStage keeps the first record for each value of col and captures
// the rest with issue. Nulls form one group; the empty string is its own
// group.
func DuplicateStage(col string, issue Issue) Stage {
	return func(rs []Record) ([]Record, []RejectedRecord) {
		seen := make(map[string]struct{}, len(rs))
		kept := make([]Record, 0, len(rs))
		var captured []RejectedRecord
		for _, r := range rs {
			key := valueKey(r.Get(col))
			if _, dup := seen[key]; dup {
				captured = append(captured, RejectedRecord{Record: r, Issue: issue})
				continue
			}
			seen[key] = struct{}{}
			kept = append(kept, r)
		}
		return kept, captured
	}
}

// distinctRejected drops captures that repeat an earlier one in every column
// and in issue.
func distinctRejected(columns []string, rejected []RejectedRecord) []RejectedRecord {
	if len(rejected) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(rejected))
	out := make([]RejectedRecord, 0, len(rejected))
	for _, rr := range rejected {
		key := rowKey(columns, rr)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, rr)
	}
	return out
}
