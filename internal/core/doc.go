// Package core classifies user records exported from a login database.
//
// This package holds the only part of the cleaner with decision logic. It
// performs no I/O: callers hand it a [Dataset] read by the record source and
// write the returned [Result] with a record sink.
//
// # Records
//
// A [Record] carries the three columns the rules look at (login_id,
// mail_address, created_at) as typed fields and every other column in a
// bag. Values are pgtype.Text; Valid=false means null.
//
// # Classification
//
// [Classify] runs these stages in order over the accepted records:
//
//  1. Strip non-ASCII bytes from every value.
//  2. Null malformed mail addresses and copy every record with a null
//     address into the rejected set ("Invalid mail_address"). The record
//     stays accepted.
//  3. Truncate created_at to a calendar date; unparseable values become null.
//  4. Remove records with both keys blank ("Both login_id and mail_address blank").
//  5. Remove later records sharing a mail_address ("Duplicate mail_address").
//  6. Remove later records sharing a login_id ("Duplicate login_id").
//
// Stages whose column is missing are skipped. Without login_id nothing runs
// and the input is returned as accepted. The rejected set keeps one copy of
// captures that are identical in every column and in issue.
//
// # Error Handling
//
// Classification never fails. The sentinels in errors.go describe failures
// around it, and [Describe] turns any of them into a coded message.
package core
