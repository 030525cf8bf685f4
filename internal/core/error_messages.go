package core

// error_messages.go turns errors into messages a user can act on.
//
// Every message carries a code that users can quote to support staff.
//
// # Mapping Errors (MAP001-MAP099)
//
//	MAP001 - Missing required field: a required field has no source column
//	MAP002 - Unknown target field: the mapping names a field that does not exist
//	MAP003 - Duplicate target field: two columns are mapped to one field
//	MAP004 - Unknown source column: the mapping names a column not in the file
//
// # Job Errors (JOB001-JOB099)
//
//	JOB001 - Job not found
//	JOB002 - Job is already executing
//	JOB003 - Job has already been executed
//	JOB004 - Job has already been rolled back
//	JOB005 - Nothing to roll back
//	JOB006 - Job is not completed
//	JOB007 - Rollback reason missing
//
// # Template Errors (TPL001-TPL099)
//
//	TPL001 - Template not found
//	TPL002 - Template name already taken
//	TPL003 - Template name missing
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key          Patterns: "duplicate key"
//	DB002 - Unique constraint      Patterns: "unique constraint", "violates unique"
//	DB003 - Foreign key            Patterns: "foreign key constraint", "violates foreign key"
//	DB004 - Connection refused     Patterns: "connection refused"
//	DB005 - Connection reset       Patterns: "connection reset"
//	DB006 - Timeout                Patterns: "timeout", "context deadline exceeded"
//	DB007 - Deadlock               Patterns: "deadlock"
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large
//	FILE002 - Unsupported format
//	FILE004 - No file
//	FILE005 - Empty file
//
// FILE003 is retired: undecodable text falls back to Windows-1252.
//
// # Request Errors (REQ001-REQ099)
//
//	REQ001 - Request body failed validation (set by the web layer)
//	REQ002 - Request cancelled     Patterns: "context canceled"
//
// # Capacity (IMP001, RATE001)
//
//	IMP001  - Too many concurrent imports
//	RATE001 - Too many requests    Patterns: "rate limit"
//
// # Default Error (ERR000)
//
//	ERR000 - An unexpected error occurred. Check the logs for the original error.
//
// Known sentinels are matched first with errors.Is. Anything else is matched
// case-insensitively against errorPatterns with strings.Contains; the first
// match wins, so specific patterns come before general ones.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/auditimport/internal/tabular"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Support reference
}

type sentinelMessage struct {
	err error
	msg UserMessage
}

var sentinelMessages = []sentinelMessage{
	// Mapping
	{ErrMissingRequiredField, UserMessage{"Required fields are not mapped to any column", "Map a column to each required field or add the column to your file", "MAP001"}},
	{ErrUnknownTargetField, UserMessage{"The mapping names a field that does not exist", "Choose target fields from the field list", "MAP002"}},
	{ErrDuplicateTargetField, UserMessage{"Two columns are mapped to the same field", "Map each field from one column only", "MAP003"}},
	{ErrUnknownSourceColumn, UserMessage{"The mapping names a column that is not in the file", "Check the column headers of your file", "MAP004"}},

	// Jobs
	{ErrJobNotFound, UserMessage{"Import job not found", "Check the job ID or upload the file again", "JOB001"}},
	{ErrJobAlreadyExecuting, UserMessage{"This import is already running", "Wait for it to finish and check its status", "JOB002"}},
	{ErrJobAlreadyCompleted, UserMessage{"This import has already been executed", "Upload the file again to start a new import", "JOB003"}},
	{ErrJobAlreadyRolledBack, UserMessage{"This import has already been rolled back", "No further action is needed", "JOB004"}},
	{ErrNothingToRollback, UserMessage{"This import created no records", "There is nothing to roll back", "JOB005"}},
	{ErrJobNotCompleted, UserMessage{"Only completed imports can be rolled back", "Check the import status", "JOB006"}},
	{ErrRollbackReasonRequired, UserMessage{"A rollback reason is required", "Describe why the import is being reversed", "JOB007"}},

	// Templates
	{ErrTemplateNotFound, UserMessage{"Mapping template not found", "Refresh the template list", "TPL001"}},
	{ErrTemplateExists, UserMessage{"A template with this name already exists", "Choose a different name", "TPL002"}},
	{ErrTemplateNameRequired, UserMessage{"A template name is required", "Give the template a name", "TPL003"}},

	// Files
	{ErrFileTooLarge, UserMessage{"File exceeds the maximum size limit", "Split the file into smaller files", "FILE001"}},
	{tabular.ErrUnsupportedFormat, UserMessage{"File type is not supported", "Upload a .csv, .tsv, .txt, .xlsx or .xlsm file", "FILE002"}},
	{ErrNoFile, UserMessage{"No file was selected", "Please select a file to upload", "FILE004"}},
	{tabular.ErrEmptyFile, UserMessage{"The uploaded file is empty", "Upload a file with a header row and data rows", "FILE005"}},

	// Requests
	{context.Canceled, UserMessage{"Request was cancelled", "Please try again", "REQ002"}},

	// Capacity
	{ErrTooManyImports, UserMessage{"System is busy processing other imports", "Please wait a moment and try again", "IMP001"}},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error text (case-insensitive) to user
// messages. Storage errors reach the pipeline as driver text, so they are
// matched here rather than by type.
var errorPatterns = []errorPattern{
	// =========================================================================
	// Database Constraint Errors (DB001-DB003)
	// =========================================================================
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this ID already exists",
			Action:  "Download the rejected rows to review duplicates",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "This value must be unique but already exists",
			Action:  "Check for duplicate entries in your file",
			Code:    "DB002",
		},
	},
	{
		pattern: "violates unique",
		msg: UserMessage{
			Message: "A duplicate value was found",
			Action:  "Review your data for duplicate key values",
			Code:    "DB002",
		},
	},
	{
		pattern: "foreign key constraint",
		msg: UserMessage{
			Message: "Referenced record does not exist",
			Action:  "Check the audit and entity IDs in your file",
			Code:    "DB003",
		},
	},
	{
		pattern: "violates foreign key",
		msg: UserMessage{
			Message: "Referenced record does not exist",
			Action:  "Check the audit and entity IDs in your file",
			Code:    "DB003",
		},
	},

	// =========================================================================
	// Database Connection Errors (DB004-DB007)
	// =========================================================================
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try importing a smaller file or try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try importing a smaller file or try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},

	// =========================================================================
	// Request errors
	// =========================================================================
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "REQ002",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts an error to a user-facing message. Missing-field errors
// name the fields in the message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, sm := range sentinelMessages {
		if !errors.Is(err, sm.err) {
			continue
		}
		msg := sm.msg
		var me *MappingError
		if errors.As(err, &me) {
			msg.Message = fmt.Sprintf("%s: %s", msg.Message, strings.Join(me.Missing, ", "))
		}
		return msg
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError renders an error as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something other than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user message. Error returns
// the user message; Unwrap returns the original for logging.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
