package web

// errors.go provides unified error response handling for the web layer.
//
// Every error is logged with its technical detail and request id, then
// returned to the client as a user-facing message from core.MapError with
// an action suggestion and support code.

import (
	"net/http"

	"github.com/JonMunkholm/sheetimport/internal/core"
	"github.com/JonMunkholm/sheetimport/internal/logging"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// runErrorResponse carries the partial result of a run that stopped early.
type runErrorResponse struct {
	*core.RunResult
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// respondError logs err and writes the mapped user message. A zero status
// derives one from the error.
func respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	if status == 0 {
		status = core.StatusCode(err)
	}
	msg := core.MapError(err)
	logRequestError(r, err, status, msg.Code)

	writeJSONStatus(w, r, status, ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// respondRunError writes the partial result of a failed run with the
// mapped user message.
func respondRunError(w http.ResponseWriter, r *http.Request, result *core.RunResult, err error) {
	status := core.StatusCode(err)
	msg := core.MapError(err)
	logRequestError(r, err, status, msg.Code)

	if result.Error == "" {
		result.Error = msg.Message
	}
	writeJSONStatus(w, r, status, runErrorResponse{
		RunResult: result,
		Message:   msg.Message,
		Action:    msg.Action,
		Code:      msg.Code,
	})
}

// writeErrorJSON writes an error that needs no mapping.
func writeErrorJSON(w http.ResponseWriter, r *http.Request, status int, message, code string) {
	logRequestError(r, nil, status, code)
	writeJSONStatus(w, r, status, ErrorResponse{
		Error:   message,
		Message: message,
		Code:    code,
	})
}

func logRequestError(r *http.Request, err error, status int, code string) {
	log := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"code", code,
	}
	if err != nil {
		attrs = append(attrs, "error", err.Error())
	}
	if status >= http.StatusInternalServerError {
		log.Error("request error", attrs...)
		return
	}
	log.Warn("request error", attrs...)
}
