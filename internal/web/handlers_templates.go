package web

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/sheetimport/internal/core"
)

// templateRequest is the body for creating or updating a mapping template.
type templateRequest struct {
	ContentTypeID string            `json:"contentTypeId"`
	Name          string            `json:"name"`
	Mapping       core.FieldMapping `json:"mapping"`
}

// handleListTemplates returns all mapping templates for a content type.
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	contentTypeID := strings.TrimSpace(r.URL.Query().Get("contentTypeId"))
	if contentTypeID == "" {
		respondError(w, r, fmt.Errorf("%w: contentTypeId is required", core.ErrValidation), http.StatusBadRequest)
		return
	}

	templates, err := s.service.ListTemplates(r.Context(), contentTypeID)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, r, map[string]any{"templates": templates})
}

// handleMatchTemplates finds templates matching the provided sheet headers.
func (s *Server) handleMatchTemplates(w http.ResponseWriter, r *http.Request) {
	contentTypeID := strings.TrimSpace(r.URL.Query().Get("contentTypeId"))
	if contentTypeID == "" {
		respondError(w, r, fmt.Errorf("%w: contentTypeId is required", core.ErrValidation), http.StatusBadRequest)
		return
	}
	headers := parseListParam(r, "headers")
	if len(headers) == 0 {
		respondError(w, r, fmt.Errorf("%w: missing headers parameter", core.ErrValidation), http.StatusBadRequest)
		return
	}

	matches, err := s.service.MatchTemplates(r.Context(), contentTypeID, headers)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	if matches == nil {
		matches = []core.TemplateMatch{}
	}
	writeJSON(w, r, map[string]any{"matches": matches})
}

// handleGetTemplate returns a single mapping template by ID.
func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := s.service.GetTemplate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, r, tpl)
}

// handleCreateTemplate creates a new mapping template.
func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return
	}

	tpl, err := s.service.CreateTemplate(r.Context(), req.ContentTypeID, req.Name, req.Mapping)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSONStatus(w, r, http.StatusCreated, tpl)
}

// handleUpdateTemplate renames a template or replaces its mapping.
func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return
	}

	tpl, err := s.service.UpdateTemplate(r.Context(), chi.URLParam(r, "id"), req.Name, req.Mapping)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, r, tpl)
}

// handleDeleteTemplate deletes a mapping template.
func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteTemplate(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, r, map[string]string{"status": "deleted"})
}
