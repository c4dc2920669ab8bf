// Package core provides the business logic for spreadsheet import operations.
//
// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support reference.
// When operators encounter errors, they can quote the error code to support staff
// for faster diagnosis.
//
// Error codes are grouped by category:
//
// # Configuration Errors (CFG001-CFG099)
//
//	CFG001 - Import password not configured on the server
//	         Patterns: "importer_password is not set"
//
//	CFG002 - Server configuration incomplete
//	         Patterns: "configuration error"
//
// # Authorization Errors (AUTH001-AUTH099)
//
//	AUTH001 - Import password rejected
//	          Patterns: "unauthorized"
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Spreadsheet reference is not a Google Sheets URL or id
//	         Patterns: "invalid spreadsheet"
//
//	VAL002 - Mapping is empty
//	         Patterns: "mapping is empty"
//
//	VAL003 - Slug field is not mapped
//	         Patterns: "slug field"
//
//	VAL004 - Content type is missing
//	         Patterns: "content type id is required"
//
//	VAL005 - Mapping template has the wrong shape
//	         Patterns: "want string"
//
//	VAL006 - Generic input validation failure
//	         Patterns: "validation error"
//
// # Source Errors (SRC001-SRC099)
//
//	SRC001 - Sheet range holds no data rows
//	         Patterns: "no data rows found"
//
//	SRC002 - Sheet or range does not exist
//	         Patterns: "unable to parse range"
//
//	SRC003 - Service account cannot read the spreadsheet
//	         Patterns: "does not have permission"
//
//	SRC004 - Google token exchange failed
//	         Patterns: "token exchange"
//
// # Content Store Errors (CMS001-CMS099)
//
//	CMS001 - Store access revoked or token invalid, run aborted
//	         Patterns: "unrecoverable store error"
//
//	CMS002 - Content type not found
//	         Patterns: "unknowncontenttype", "content type not found"
//
//	CMS003 - Entry changed concurrently
//	         Patterns: "versionmismatch"
//
//	CMS004 - Entry rejected by content type validations
//	         Patterns: "validationfailed"
//
//	CMS005 - Store rate limit exhausted
//	         Patterns: "ratelimitexceeded", "rate limit"
//
// # Run Errors (RUN001-RUN099)
//
//	RUN001 - Too many imports in progress
//	         Patterns: "too many concurrent import runs"
//
//	RUN002 - Run not found
//	         Patterns: "run not found"
//
//	RUN003 - Run cancelled
//	         Patterns: "context canceled"
//
//	RUN004 - Run timed out
//	         Patterns: "context deadline exceeded"
//
// # Template Errors (TPL001-TPL099)
//
//	TPL001 - Template name already used for this content type
//	         Patterns: "already exists"
//
//	TPL002 - Template not found
//	         Patterns: "template not found"
//
//	TPL003 - Templates need a database
//	         Patterns: "templates are not available"
//
// # Default Error (ERR000)
//
//	ERR000 - Unknown error: An unexpected error occurred
//
// # Pattern Matching
//
// Error patterns are matched case-insensitively using strings.Contains.
// The first matching pattern wins, so more specific patterns are defined
// before general ones.
package core

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
// The first matching pattern wins, so order matters.
var errorPatterns = []errorPattern{
	// =========================================================================
	// Configuration (CFG001-CFG002)
	// =========================================================================
	{
		pattern: "importer_password is not set",
		msg: UserMessage{
			Message: "Server configuration incomplete: import password is not set",
			Action:  "Set IMPORTER_PASSWORD on the server",
			Code:    "CFG001",
		},
	},
	{
		pattern: "configuration error",
		msg: UserMessage{
			Message: "Server configuration incomplete",
			Action:  "Check the server environment and restart",
			Code:    "CFG002",
		},
	},

	// =========================================================================
	// Aborted runs (CMS001), matched before password and validation text
	// =========================================================================
	{
		pattern: "unrecoverable store error",
		msg: UserMessage{
			Message: "The content store rejected the import credentials; the run was stopped",
			Action:  "Check the management token, space and environment, then rerun",
			Code:    "CMS001",
		},
	},

	// =========================================================================
	// Authorization (AUTH001)
	// =========================================================================
	{
		pattern: "unauthorized",
		msg: UserMessage{
			Message: "Access denied: import password is invalid",
			Action:  "Check the import password and try again",
			Code:    "AUTH001",
		},
	},

	// =========================================================================
	// Validation (VAL001-VAL006)
	// =========================================================================
	{
		pattern: "invalid spreadsheet",
		msg: UserMessage{
			Message: "Spreadsheet URL is not valid",
			Action:  "Paste the full Google Sheets URL or the spreadsheet id",
			Code:    "VAL001",
		},
	},
	{
		pattern: "mapping is empty",
		msg: UserMessage{
			Message: "No fields are mapped",
			Action:  "Map at least the slug field before importing",
			Code:    "VAL002",
		},
	},
	{
		pattern: "slug field",
		msg: UserMessage{
			Message: "The slug field is not mapped",
			Action:  "Map the slug field to a spreadsheet column",
			Code:    "VAL003",
		},
	},
	{
		pattern: "content type id is required",
		msg: UserMessage{
			Message: "Content type is missing",
			Action:  "Choose the content type to import into",
			Code:    "VAL004",
		},
	},
	{
		pattern: "want string",
		msg: UserMessage{
			Message: "A mapping value has the wrong shape",
			Action:  "Use a text template or a list of text templates for every field",
			Code:    "VAL005",
		},
	},

	// =========================================================================
	// Source (SRC001-SRC004)
	// =========================================================================
	{
		pattern: "no data rows found",
		msg: UserMessage{
			Message: "No data rows found in the spreadsheet",
			Action:  "Check the sheet name and range; the first row must hold headers",
			Code:    "SRC001",
		},
	},
	{
		pattern: "unable to parse range",
		msg: UserMessage{
			Message: "Sheet or range does not exist",
			Action:  "Check the sheet name and A1 range",
			Code:    "SRC002",
		},
	},
	{
		pattern: "does not have permission",
		msg: UserMessage{
			Message: "The importer cannot read this spreadsheet",
			Action:  "Share the spreadsheet with the service account email",
			Code:    "SRC003",
		},
	},
	{
		pattern: "token exchange",
		msg: UserMessage{
			Message: "Could not authenticate with Google",
			Action:  "Check the service account email and private key",
			Code:    "SRC004",
		},
	},

	// Generic validation text, after the source errors it may wrap
	{
		pattern: "validation error",
		msg: UserMessage{
			Message: "Input data is incomplete",
			Action:  "Check the request fields and try again",
			Code:    "VAL006",
		},
	},

	// =========================================================================
	// Content store (CMS002-CMS005)
	// =========================================================================
	{
		pattern: "unknowncontenttype",
		msg: UserMessage{
			Message: "Content type not found",
			Action:  "Verify the content type id",
			Code:    "CMS002",
		},
	},
	{
		pattern: "content type not found",
		msg: UserMessage{
			Message: "Content type not found",
			Action:  "Verify the content type id",
			Code:    "CMS002",
		},
	},
	{
		pattern: "versionmismatch",
		msg: UserMessage{
			Message: "The entry was changed by someone else during the import",
			Action:  "Rerun the import; existing entries are updated by slug",
			Code:    "CMS003",
		},
	},
	{
		pattern: "validationfailed",
		msg: UserMessage{
			Message: "The entry does not satisfy the content type validations",
			Action:  "Check required fields and value formats in the mapping",
			Code:    "CMS004",
		},
	},
	{
		pattern: "ratelimitexceeded",
		msg: UserMessage{
			Message: "The content store rate limit was exhausted",
			Action:  "Increase the delay between records and rerun",
			Code:    "CMS005",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "CMS005",
		},
	},

	// =========================================================================
	// Runs (RUN001-RUN004)
	// =========================================================================
	{
		pattern: "too many concurrent import runs",
		msg: UserMessage{
			Message: "Another import is already running",
			Action:  "Wait for it to finish or cancel it, then try again",
			Code:    "RUN001",
		},
	},
	{
		pattern: "run not found",
		msg: UserMessage{
			Message: "Import run not found",
			Action:  "The run may have finished; check the run history",
			Code:    "RUN002",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Import was cancelled",
			Action:  "Start a new import when ready",
			Code:    "RUN003",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Import timed out",
			Action:  "Import a smaller range or raise IMPORT_TIMEOUT",
			Code:    "RUN004",
		},
	},

	// =========================================================================
	// Templates (TPL001-TPL003)
	// =========================================================================
	{
		pattern: "already exists",
		msg: UserMessage{
			Message: "A mapping template with this name already exists",
			Action:  "Choose a different name or update the existing template",
			Code:    "TPL001",
		},
	},
	{
		pattern: "template not found",
		msg: UserMessage{
			Message: "Mapping template not found",
			Action:  "Refresh the template list",
			Code:    "TPL002",
		},
	},
	{
		pattern: "templates are not available",
		msg: UserMessage{
			Message: "Mapping templates need a database",
			Action:  "Configure DATABASE_URL to save templates",
			Code:    "TPL003",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// It searches through known error patterns (case-insensitive) and returns
// the first match. If no pattern matches, a generic fallback message with
// code ERR000 is returned.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
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

// IsUserFacing reports whether err matches a known pattern rather than the
// generic ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError wraps a technical error with its user-facing message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string { return e.User.Message }

func (e *UserError) Unwrap() error { return e.Technical }

// NewUserError maps err and wraps it. Returns nil for a nil error.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{Technical: err, User: MapError(err)}
}
