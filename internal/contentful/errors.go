package contentful

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/JonMunkholm/sheetimport/internal/core"
)

// APIError is an error response from the Management API. ID is the error
// type, e.g. "VersionMismatch", "ValidationFailed" or "RateLimitExceeded".
type APIError struct {
	Method    string
	Path      string
	Status    int
	ID        string
	Message   string
	RequestID string
	Details   json.RawMessage
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("contentful: %s %s: %d %s", e.Method, e.Path, e.Status, e.ID)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if len(e.Details) > 0 && e.ID == "ValidationFailed" {
		msg += " " + string(e.Details)
	}
	return msg
}

type errorBody struct {
	Sys struct {
		ID string `json:"id"`
	} `json:"sys"`
	Message   string          `json:"message"`
	RequestID string          `json:"requestId"`
	Details   json.RawMessage `json:"details"`
}

func readAPIError(resp *http.Response, method, path string) *APIError {
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))

	apiErr := &APIError{
		Method:    method,
		Path:      path,
		Status:    resp.StatusCode,
		RequestID: resp.Header.Get("X-Contentful-Request-Id"),
	}
	var body errorBody
	if err := json.Unmarshal(raw, &body); err == nil && body.Sys.ID != "" {
		apiErr.ID = body.Sys.ID
		apiErr.Message = body.Message
		apiErr.Details = body.Details
		if body.RequestID != "" {
			apiErr.RequestID = body.RequestID
		}
		return apiErr
	}
	apiErr.ID = http.StatusText(resp.StatusCode)
	apiErr.Message = strings.TrimSpace(string(raw))
	return apiErr
}

// classify wraps apiErr with the core marker for its status. Credential
// and permission failures abort the whole run.
func classify(apiErr *APIError) error {
	switch apiErr.Status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %w", core.ErrUnrecoverable, apiErr)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", core.ErrNotFound, apiErr)
	default:
		return apiErr
	}
}
