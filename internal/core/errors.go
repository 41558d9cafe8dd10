package core

// errors.go maps pipeline failures to short coded messages for the process log.
//
// Codes are grouped by where the failure happened:
//
//	SRC001 - Input unreadable: the export could not be opened, decoded or parsed
//	         Action: the run continues with no records; check INPUT_PATH and INPUT_ENCODING
//	SRC002 - Input empty: the export has no header row
//	OUT001 - Output write failed: a cleaned or rejected file could not be written
//	         Action: check OUTPUT_PATH / REJECTED_PATH permissions and free space
//	DB001  - Export failed: rows could not be copied into Postgres
//	DB002  - Migration failed: the export schema could not be migrated
//	RUN001 - Cancelled: the run was interrupted
//	ERR000 - Unknown error: check the log entry for the technical error
//
// Sentinels are matched with errors.Is, so wrapping with %w keeps the code.

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrSourceRead wraps every failure of the record source. The pipeline
	// treats it as an empty input.
	ErrSourceRead = errors.New("source read failed")

	// ErrEmptyInput is returned (wrapped in ErrSourceRead) when the export has no header.
	ErrEmptyInput = errors.New("empty input")

	// ErrSinkWrite wraps failures writing the output files.
	ErrSinkWrite = errors.New("output write failed")

	// ErrExport wraps failures of the optional database export.
	ErrExport = errors.New("export failed")

	// ErrMigrate wraps failures migrating the export schema.
	ErrMigrate = errors.New("migration failed")
)

// UserMessage is the coded description of a failure.
type UserMessage struct {
	Message string // What happened
	Action  string // What to do about it
	Code    string // Reference code
}

type errorMapping struct {
	target error
	msg    UserMessage
}

// errorMappings is checked in order; the first sentinel found in the chain wins.
var errorMappings = []errorMapping{
	{ErrEmptyInput, UserMessage{Message: "Input file is empty", Action: "Provide an export with a header row", Code: "SRC002"}},
	{ErrSourceRead, UserMessage{Message: "Input file could not be read", Action: "Check INPUT_PATH and INPUT_ENCODING", Code: "SRC001"}},
	{ErrSinkWrite, UserMessage{Message: "Output file could not be written", Action: "Check OUTPUT_PATH and REJECTED_PATH", Code: "OUT001"}},
	{ErrMigrate, UserMessage{Message: "Export schema could not be migrated", Action: "Check DATABASE_URL and database permissions", Code: "DB002"}},
	{ErrExport, UserMessage{Message: "Rows could not be exported", Action: "Check DATABASE_URL; output files were still written", Code: "DB001"}},
	{context.Canceled, UserMessage{Message: "Run was cancelled", Action: "Run again when ready", Code: "RUN001"}},
	{context.DeadlineExceeded, UserMessage{Message: "Run timed out", Action: "Raise DB_EXPORT_TIMEOUT or try again", Code: "RUN001"}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "See the error field of this log entry",
	Code:    "ERR000",
}

// MapError returns the coded message for err. A nil error maps to the zero message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.msg
		}
	}
	return defaultMessage
}

// Describe formats err as "Message (Code: XXX). Action".
func Describe(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}
