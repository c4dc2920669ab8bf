package web

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/JonMunkholm/sheetimport/internal/core"
	"github.com/JonMunkholm/sheetimport/internal/logging"
	"github.com/JonMunkholm/sheetimport/internal/sheets"
)

// importRequest is the body of the import trigger, run start and preview
// endpoints. spreadsheetUrl and contentTypeId are accepted as aliases.
type importRequest struct {
	SourceURL      string            `json:"sourceUrl"`
	SpreadsheetURL string            `json:"spreadsheetUrl"`
	SheetName      string            `json:"sheetName"`
	Range          string            `json:"range"`
	TargetTypeID   string            `json:"targetTypeId"`
	ContentTypeID  string            `json:"contentTypeId"`
	Mapping        core.FieldMapping `json:"mapping"`
	Password       string            `json:"password"`
	Samples        int               `json:"samples"`
}

// runRequest validates the body and resolves the spreadsheet and range.
func (b importRequest) runRequest() (core.RunRequest, error) {
	source := firstNonEmpty(b.SourceURL, b.SpreadsheetURL)
	if source == "" {
		return core.RunRequest{}, fmt.Errorf("%w: sourceUrl is required", core.ErrValidation)
	}
	spreadsheetID, err := sheets.ExtractSpreadsheetID(source)
	if err != nil {
		return core.RunRequest{}, err
	}

	contentTypeID := firstNonEmpty(b.TargetTypeID, b.ContentTypeID)
	if contentTypeID == "" {
		return core.RunRequest{}, fmt.Errorf("%w: targetTypeId is required", core.ErrValidation)
	}
	if len(b.Mapping) == 0 {
		return core.RunRequest{}, fmt.Errorf("%w: mapping is required", core.ErrValidation)
	}

	rangeSpec := sheets.A1Range(b.SheetName, b.Range)
	if rangeSpec == "" {
		return core.RunRequest{}, fmt.Errorf("%w: sheetName or range is required", core.ErrValidation)
	}

	return core.RunRequest{
		SpreadsheetID: spreadsheetID,
		SheetName:     strings.TrimSpace(b.SheetName),
		Range:         rangeSpec,
		ContentTypeID: contentTypeID,
		Mapping:       b.Mapping,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// authorizeImport runs the checks shared by every endpoint that writes to
// the content store: server password configured, body readable, password
// correct, input valid. It writes the error response and returns false when
// a check fails.
func (s *Server) authorizeImport(w http.ResponseWriter, r *http.Request) (core.RunRequest, bool) {
	if s.cfg.Security.ImporterPassword == "" {
		respondError(w, r, fmt.Errorf("%w: IMPORTER_PASSWORD is not set", core.ErrConfiguration),
			http.StatusInternalServerError)
		return core.RunRequest{}, false
	}

	var body importRequest
	if err := s.decodeJSON(w, r, &body); err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return core.RunRequest{}, false
	}

	if !passwordMatches(body.Password, s.cfg.Security.ImporterPassword) {
		respondError(w, r, fmt.Errorf("%w: import password rejected", core.ErrUnauthorized),
			http.StatusUnauthorized)
		return core.RunRequest{}, false
	}

	req, err := body.runRequest()
	if err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return core.RunRequest{}, false
	}
	return req, true
}

// handleImportSheets runs an import to completion and returns its result.
func (s *Server) handleImportSheets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	req, ok := s.authorizeImport(w, r)
	if !ok {
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	result, err := s.service.RunImport(ctx, req)
	if result != nil {
		logging.WithFields(r.Context(), "run_id", result.RunID, "content_type", req.ContentTypeID).Info("import finished",
			"status", result.Status,
			"imported", result.Imported,
			"skipped", result.Skipped,
			"failed", len(result.Failures),
			"duration_ms", result.DurationMS,
		)
	}
	if err != nil {
		if result != nil {
			respondRunError(w, r, result, err)
			return
		}
		respondError(w, r, err, 0)
		return
	}

	writeJSON(w, r, result)
}

// handleStartRun starts an import in the background and returns its id.
// Follow it with the progress stream or GET /api/runs/{runID}.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	req, ok := s.authorizeImport(w, r)
	if !ok {
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	runID, err := s.service.StartRun(ctx, req)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	writeJSONStatus(w, r, http.StatusAccepted, map[string]string{
		"runId":  runID,
		"status": string(core.PhaseStarting),
	})
}

// handlePreview maps the first records of a sheet without importing.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var body importRequest
	if err := s.decodeJSON(w, r, &body); err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return
	}
	req, err := body.runRequest()
	if err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return
	}

	preview, err := s.service.Preview(r.Context(), req, body.Samples)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, r, preview)
}
