package web

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/JonMunkholm/sheetimport/internal/core"
)

// handleContentTypeFields lists the fields of a content type so a mapping
// can be built against them.
func (s *Server) handleContentTypeFields(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	contentTypeID := strings.TrimSpace(r.URL.Query().Get("contentTypeId"))
	if contentTypeID == "" {
		respondError(w, r, fmt.Errorf("%w: contentTypeId is required", core.ErrValidation), http.StatusBadRequest)
		return
	}

	fields, err := s.service.ContentTypeFields(r.Context(), contentTypeID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, core.ErrNotFound) {
			status = http.StatusNotFound
		}
		respondError(w, r, err, status)
		return
	}

	writeJSON(w, r, map[string]any{"fields": fields})
}
