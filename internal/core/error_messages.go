package core

// error_messages.go maps technical errors to user-facing messages with
// stable codes for support reference.
//
// # Error Codes Reference
//
// Typed errors from the codec packages are matched with errors.As / errors.Is
// first, so a wrapped error keeps its code no matter how much context was
// added. Anything else falls back to substring patterns.
//
// # Schema Errors (SCH)
//
//	SCH001 - The record layout is invalid (copybook.SchemaError)
//	SCH002 - No schema with that name is registered (ErrSchemaNotFound)
//
// # Stream Errors (EOF, LEN)
//
//	EOF001 - Input ended in the middle of a record (record.EndOfFileError)
//	LEN001 - A length header disagrees with the record layout (record.RecordLengthError)
//	LEN002 - Layout ends in an open-ended field and needs length headers (record.ErrNeedsFraming)
//
// # Field Errors (FLD, TYP, VAL, DEP)
//
//	FLD001 - Field bytes are not valid for the field type (codec.FieldParsingError)
//	TYP001 - No record layout matches, or an unknown type (codec.UnexpectedFieldTypeError)
//	VAL001 - A value has the wrong type for its field (codec.ValueTypeMismatchError)
//	VAL002 - A value does not fit its field (codec.ValueOverflowError)
//	VAL003 - JSON input does not describe a record (ErrInvalidRecordJSON)
//	VAL004 - Value count does not match the layout (record.ErrValueCount)
//	DEP001 - A repeat count or length field is missing or invalid (record.DependencyError)
//
// # Job Errors (JOB)
//
//	JOB001 - All job slots are busy (ErrTooManyJobs)
//	JOB002 - The job was cancelled (context.Canceled)
//	JOB003 - The job ran out of time (context.DeadlineExceeded)
//	JOB004 - Input exceeds the size limit (ErrInputTooLarge)
//	JOB005 - Unknown job id (ErrJobNotFound)
//
// # Database Errors (DB)
//
//	DB001 - Target table does not exist; patterns "does not exist"
//	DB002 - Records of this job were already loaded; patterns "duplicate key"
//	DB003 - Database unreachable; patterns "connection refused", "connection reset"
//	DB004 - Database is not configured (ErrNoDatabase)

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/copybook/internal/codec"
	"github.com/JonMunkholm/copybook/internal/copybook"
	"github.com/JonMunkholm/copybook/internal/record"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

var (
	msgSchemaInvalid = UserMessage{
		Message: "The record layout is invalid",
		Action:  "Fix the schema file; the error names the offending field",
		Code:    "SCH001",
	}
	msgSchemaNotFound = UserMessage{
		Message: "No schema with that name is registered",
		Action:  "List available schemas and check the name",
		Code:    "SCH002",
	}
	msgEndOfFile = UserMessage{
		Message: "Input ended in the middle of a record",
		Action:  "Check that the file was transferred completely and in binary mode",
		Code:    "EOF001",
	}
	msgRecordLength = UserMessage{
		Message: "A record length header disagrees with the record layout",
		Action:  "Check the framing settings and that the schema matches the file",
		Code:    "LEN001",
	}
	msgNeedsFraming = UserMessage{
		Message: "This layout needs length-prefixed records",
		Action:  "Use prefixed framing or give the last field a length field",
		Code:    "LEN002",
	}
	msgFieldParsing = UserMessage{
		Message: "A field contains bytes that are not valid for its type",
		Action:  "Check the charset, sign settings and that the schema matches the file",
		Code:    "FLD001",
	}
	msgUnexpectedType = UserMessage{
		Message: "No record layout matches the data",
		Action:  "Check the discriminator patterns and record offsets",
		Code:    "TYP001",
	}
	msgTypeMismatch = UserMessage{
		Message: "A value has the wrong type for its field",
		Action:  "Send strings for alpha fields, hex for bytes and numbers for numeric fields",
		Code:    "VAL001",
	}
	msgOverflow = UserMessage{
		Message: "A value does not fit its field",
		Action:  "Shorten the value or reduce its precision",
		Code:    "VAL002",
	}
	msgBadJSON = UserMessage{
		Message: "The JSON input does not describe a record of this schema",
		Action:  "Check field names and the shape of each object",
		Code:    "VAL003",
	}
	msgValueCount = UserMessage{
		Message: "The number of values does not match the record layout",
		Action:  "Provide one value per non-filler field",
		Code:    "VAL004",
	}
	msgDependency = UserMessage{
		Message: "A repeat count or length field is missing or invalid",
		Action:  "Check the count field that the repeating data depends on",
		Code:    "DEP001",
	}
	msgTooManyJobs = UserMessage{
		Message: "Too many jobs are running",
		Action:  "Please wait a moment before trying again",
		Code:    "JOB001",
	}
	msgCancelled = UserMessage{
		Message: "The job was cancelled",
		Action:  "Start the job again if this was not intended",
		Code:    "JOB002",
	}
	msgTimeout = UserMessage{
		Message: "The job ran out of time",
		Action:  "Split the input into smaller files or try again later",
		Code:    "JOB003",
	}
	msgTooLarge = UserMessage{
		Message: "Input exceeds the maximum size",
		Action:  "Split the input into smaller files",
		Code:    "JOB004",
	}
	msgJobNotFound = UserMessage{
		Message: "No job with that id exists",
		Action:  "Jobs are forgotten a while after they finish; start a new one",
		Code:    "JOB005",
	}
	msgNoDatabase = UserMessage{
		Message: "No database is configured",
		Action:  "Set DATABASE_URL to load records into Postgres",
		Code:    "DB004",
	}
)

// typedErrors is checked in order; the first match wins.
var typedErrors = []struct {
	match func(error) bool
	msg   UserMessage
}{
	{isType[*copybook.SchemaError], msgSchemaInvalid},
	{is(copybook.ErrInvalidSchema), msgSchemaInvalid},
	{is(ErrSchemaNotFound), msgSchemaNotFound},
	{isType[*record.EndOfFileError], msgEndOfFile},
	{isType[*record.RecordLengthError], msgRecordLength},
	{is(record.ErrNeedsFraming), msgNeedsFraming},
	{isType[*codec.FieldParsingError], msgFieldParsing},
	{isType[*codec.UnexpectedFieldTypeError], msgUnexpectedType},
	{isType[*codec.ValueTypeMismatchError], msgTypeMismatch},
	{isType[*codec.ValueOverflowError], msgOverflow},
	{is(ErrInvalidRecordJSON), msgBadJSON},
	{is(record.ErrValueCount), msgValueCount},
	{isType[*record.DependencyError], msgDependency},
	{is(ErrTooManyJobs), msgTooManyJobs},
	{is(ErrInputTooLarge), msgTooLarge},
	{is(ErrJobNotFound), msgJobNotFound},
	{is(ErrNoDatabase), msgNoDatabase},
	{is(context.Canceled), msgCancelled},
	{is(context.DeadlineExceeded), msgTimeout},
}

func isType[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

func is(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error text (case-insensitive) to user
// messages for errors without a typed match, mostly from the database.
var errorPatterns = []errorPattern{
	{
		pattern: "does not exist",
		msg: UserMessage{
			Message: "The target table does not exist",
			Action:  "Create the table or let the loader create it",
			Code:    "DB001",
		},
	},
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "Records of this job were already loaded",
			Action:  "Start a new job instead of retrying the old one",
			Code:    "DB002",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB003",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB003",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000). Support staff
// should check the logs for the original error.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Returns the zero UserMessage for nil and ERR000 when nothing matches.
//
// Example:
//
//	_, err := reader.Next()
//	msg := MapError(err)
//	// msg.Code == "FLD001" for a bad packed sign nibble
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, te := range typedErrors {
		if te.match(err) {
			return te.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific code rather than the
// ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-friendly message.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
