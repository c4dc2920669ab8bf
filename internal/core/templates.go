package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// TemplateMatchThreshold is the minimum header overlap for a saved mapping
// to be suggested for a spreadsheet.
const TemplateMatchThreshold = 0.7

var (
	// ErrTemplateNotFound is returned for unknown template ids.
	ErrTemplateNotFound = fmt.Errorf("%w: template not found", ErrNotFound)
	// ErrTemplateExists is returned when a name is reused within a content type.
	ErrTemplateExists = errors.New("template already exists")
	// ErrTemplatesUnavailable is returned when no template store is configured.
	ErrTemplatesUnavailable = errors.New("mapping templates are not available without a database")
)

// MappingTemplate is a saved field mapping for a content type.
type MappingTemplate struct {
	ID            string       `json:"id"`
	ContentTypeID string       `json:"contentTypeId"`
	Name          string       `json:"name"`
	Mapping       FieldMapping `json:"mapping"`
	Headers       []string     `json:"headers"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// TemplateMatch is a saved mapping whose headers fit a spreadsheet.
type TemplateMatch struct {
	Template   MappingTemplate `json:"template"`
	MatchScore float64         `json:"matchScore"`
}

// TemplateStore persists mapping templates.
type TemplateStore interface {
	CreateTemplate(ctx context.Context, t MappingTemplate) (*MappingTemplate, error)
	GetTemplate(ctx context.Context, id string) (*MappingTemplate, error)
	ListTemplates(ctx context.Context, contentTypeID string) ([]MappingTemplate, error)
	UpdateTemplate(ctx context.Context, t MappingTemplate) (*MappingTemplate, error)
	DeleteTemplate(ctx context.Context, id string) error
}

func (s *Service) templateStore() (TemplateStore, error) {
	if s.templates == nil {
		return nil, ErrTemplatesUnavailable
	}
	return s.templates, nil
}

func validateTemplate(contentTypeID, name string, mapping FieldMapping) error {
	if strings.TrimSpace(contentTypeID) == "" {
		return fmt.Errorf("%w: content type id is required", ErrValidation)
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: template name is required", ErrValidation)
	}
	if len(mapping) == 0 {
		return fmt.Errorf("%w: mapping is empty", ErrValidation)
	}
	return nil
}

// CreateTemplate saves a mapping under name for a content type.
func (s *Service) CreateTemplate(ctx context.Context, contentTypeID, name string, mapping FieldMapping) (*MappingTemplate, error) {
	store, err := s.templateStore()
	if err != nil {
		return nil, err
	}
	if err := validateTemplate(contentTypeID, name, mapping); err != nil {
		return nil, err
	}
	return store.CreateTemplate(ctx, MappingTemplate{
		ContentTypeID: strings.TrimSpace(contentTypeID),
		Name:          strings.TrimSpace(name),
		Mapping:       mapping,
		Headers:       s.importer.Mapper().ReferencedHeaders(mapping),
	})
}

// GetTemplate returns one template.
func (s *Service) GetTemplate(ctx context.Context, id string) (*MappingTemplate, error) {
	store, err := s.templateStore()
	if err != nil {
		return nil, err
	}
	return store.GetTemplate(ctx, id)
}

// ListTemplates returns the templates saved for a content type.
func (s *Service) ListTemplates(ctx context.Context, contentTypeID string) ([]MappingTemplate, error) {
	store, err := s.templateStore()
	if err != nil {
		return nil, err
	}
	return store.ListTemplates(ctx, contentTypeID)
}

// UpdateTemplate renames a template or replaces its mapping.
func (s *Service) UpdateTemplate(ctx context.Context, id, name string, mapping FieldMapping) (*MappingTemplate, error) {
	store, err := s.templateStore()
	if err != nil {
		return nil, err
	}
	current, err := store.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := validateTemplate(current.ContentTypeID, name, mapping); err != nil {
		return nil, err
	}
	current.Name = strings.TrimSpace(name)
	current.Mapping = mapping
	current.Headers = s.importer.Mapper().ReferencedHeaders(mapping)
	return store.UpdateTemplate(ctx, *current)
}

// DeleteTemplate removes a template.
func (s *Service) DeleteTemplate(ctx context.Context, id string) error {
	store, err := s.templateStore()
	if err != nil {
		return err
	}
	return store.DeleteTemplate(ctx, id)
}

// MatchTemplates returns the saved mappings for a content type whose
// headers are mostly present in headers, best match first.
func (s *Service) MatchTemplates(ctx context.Context, contentTypeID string, headers []string) ([]TemplateMatch, error) {
	if s.templates == nil {
		return nil, nil
	}
	templates, err := s.templates.ListTemplates(ctx, contentTypeID)
	if err != nil {
		return nil, err
	}

	var matches []TemplateMatch
	for _, t := range templates {
		score := matchTemplateHeaders(headers, t.Headers)
		if score >= TemplateMatchThreshold {
			matches = append(matches, TemplateMatch{Template: t, MatchScore: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].MatchScore > matches[j].MatchScore
	})
	return matches, nil
}

// matchTemplateHeaders returns the share of template headers found in
// sheetHeaders, compared case-insensitively.
func matchTemplateHeaders(sheetHeaders, templateHeaders []string) float64 {
	if len(templateHeaders) == 0 {
		return 0
	}

	have := make(map[string]bool, len(sheetHeaders))
	for _, h := range sheetHeaders {
		have[strings.ToLower(strings.TrimSpace(h))] = true
	}

	matched := 0
	for _, h := range templateHeaders {
		if have[strings.ToLower(strings.TrimSpace(h))] {
			matched++
		}
	}
	return float64(matched) / float64(len(templateHeaders))
}
