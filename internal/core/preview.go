package core

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// PreviewSummary contains the counts of a mapping preview.
type PreviewSummary struct {
	TotalRecords int `json:"totalRecords"`
	Mapped       int `json:"mapped"`
	Skipped      int `json:"skipped"`
}

// PreviewResponse shows what an import would send without touching the
// content store.
type PreviewResponse struct {
	Summary          PreviewSummary       `json:"summary"`
	Headers          []string             `json:"headers"`
	MissingHeaders   []string             `json:"missingHeaders"`
	Kinds            map[string]FieldKind `json:"kinds"`
	Samples          []RecordPreview      `json:"samples"`
	SkippedRows      []int                `json:"skippedRows"`
	Templates        []TemplateMatch      `json:"templates"`
	ProcessingTimeMs int64                `json:"processingTimeMs"`
}

// Sample limits
const (
	DefaultPreviewSamples = 5
	maxSkippedSamples     = 20
)

// Preview maps every record of req without importing anything. At most
// samples mapped payloads are returned.
func (s *Service) Preview(ctx context.Context, req RunRequest, samples int) (*PreviewResponse, error) {
	start := time.Now()
	if samples <= 0 {
		samples = DefaultPreviewSamples
	}

	records, err := s.importer.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}

	log := s.logger.With("content_type", req.ContentTypeID)
	mapper := s.mapperFor(ctx, req.ContentTypeID, log)

	headers := records[0].Headers()
	resp := &PreviewResponse{
		Summary:        PreviewSummary{TotalRecords: len(records)},
		Headers:        headers,
		MissingHeaders: missingHeaders(mapper.ReferencedHeaders(req.Mapping), headers),
		Kinds:          make(map[string]FieldKind, len(req.Mapping)),
		Samples:        []RecordPreview{},
		SkippedRows:    []int{},
		Templates:      []TemplateMatch{},
	}
	for _, id := range req.Mapping.FieldIDs() {
		resp.Kinds[id] = mapper.KindOf(id, req.Mapping[id])
	}

	for i, rec := range records {
		row := i + 2
		mapped, err := mapper.MapRecord(req.Mapping, rec)
		if errors.Is(err, ErrNoSlug) {
			resp.Summary.Skipped++
			if len(resp.SkippedRows) < maxSkippedSamples {
				resp.SkippedRows = append(resp.SkippedRows, row)
			}
			continue
		}
		resp.Summary.Mapped++
		if len(resp.Samples) < samples {
			resp.Samples = append(resp.Samples, RecordPreview{
				Row:     row,
				Slug:    mapped.Slug,
				EntryID: mapped.EntryID,
				Fields:  mapped.Fields,
			})
		}
	}

	matches, err := s.MatchTemplates(ctx, req.ContentTypeID, headers)
	if err != nil {
		log.Warn("template matching failed", slog.Any("error", err))
	} else if matches != nil {
		resp.Templates = matches
	}

	resp.ProcessingTimeMs = time.Since(start).Milliseconds()
	return resp, nil
}

// missingHeaders returns the referenced headers absent from the sheet.
func missingHeaders(referenced, sheet []string) []string {
	have := make(map[string]bool, len(sheet))
	for _, h := range sheet {
		have[h] = true
	}
	missing := []string{}
	for _, h := range referenced {
		if !have[h] {
			missing = append(missing, h)
		}
	}
	return missing
}
