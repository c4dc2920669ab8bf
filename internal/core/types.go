package core

import (
	"context"
	"strings"
	"time"
)

// Record is one spreadsheet row keyed by trimmed column header.
type Record map[string]string

// RecordSource fetches spreadsheet rows and normalizes them into records.
// rangeSpec is an A1 range that may include the sheet name ("Sheet1!A1:Z").
type RecordSource interface {
	FetchRecords(ctx context.Context, spreadsheetID, rangeSpec string) ([]Record, error)
}

// EntryFields holds entry values keyed by field id, then by locale code.
type EntryFields map[string]map[string]any

// Entry is a content entry as stored by the content store.
type Entry struct {
	ID            string      `json:"id"`
	Version       int         `json:"version"`
	ContentTypeID string      `json:"contentTypeId"`
	Fields        EntryFields `json:"fields"`
}

// EntryStore is the subset of the content store used by an import run.
// FindEntryBySlug returns (nil, nil) when no entry matches.
type EntryStore interface {
	FindEntryBySlug(ctx context.Context, contentTypeID, slugField, slug string) (*Entry, error)
	CreateEntry(ctx context.Context, contentTypeID, entryID string, fields EntryFields) (*Entry, error)
	UpdateEntry(ctx context.Context, entry *Entry) (*Entry, error)
	PublishEntry(ctx context.Context, entry *Entry) (*Entry, error)
}

// SchemaSource looks up content type definitions.
type SchemaSource interface {
	GetContentType(ctx context.Context, contentTypeID string) (*ContentType, error)
}

// LinkType is the target kind of a link value.
type LinkType string

const (
	LinkEntry LinkType = "Entry"
	LinkAsset LinkType = "Asset"
)

// Link references another entry or an asset by id.
type Link struct {
	Sys LinkSys `json:"sys"`
}

// LinkSys is the system block of a link value.
type LinkSys struct {
	Type     string   `json:"type"`
	LinkType LinkType `json:"linkType"`
	ID       string   `json:"id"`
}

// NewLink returns a link to id, trimmed.
func NewLink(linkType LinkType, id string) Link {
	return Link{Sys: LinkSys{Type: "Link", LinkType: linkType, ID: strings.TrimSpace(id)}}
}

// SEO is the composite value stored in the SEO field.
type SEO struct {
	SEOTitle       string `json:"seoTitle"`
	SEODescription string `json:"seoDescription"`
}

// ContentType is a content type definition from the store.
type ContentType struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Fields []ContentField `json:"fields"`
}

// ContentField is one field of a content type.
type ContentField struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Type     string     `json:"type"`
	LinkType string     `json:"linkType,omitempty"`
	Items    *FieldItem `json:"items,omitempty"`
}

// FieldItem describes the element type of an Array field.
type FieldItem struct {
	Type     string `json:"type"`
	LinkType string `json:"linkType,omitempty"`
}

// FieldSummary is the schema view offered to whoever builds a mapping.
type FieldSummary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	IsText     bool   `json:"isText"`
	IsRichText bool   `json:"isRichText"`
	IsLink     bool   `json:"isLink"`
}

// Summaries returns the field summaries of the content type.
func (ct *ContentType) Summaries() []FieldSummary {
	out := make([]FieldSummary, 0, len(ct.Fields))
	for _, f := range ct.Fields {
		out = append(out, FieldSummary{
			ID:         f.ID,
			Name:       f.Name,
			Type:       f.Type,
			IsText:     f.Type == "Symbol" || f.Type == "Text",
			IsRichText: f.Type == "RichText",
			IsLink:     f.Type == "Link",
		})
	}
	return out
}

// RunPhase indicates the current stage of an import run.
type RunPhase string

const (
	PhaseStarting  RunPhase = "starting"
	PhaseFetching  RunPhase = "fetching"
	PhaseImporting RunPhase = "importing"
	PhasePausing   RunPhase = "pausing"
	PhaseComplete  RunPhase = "complete"
	PhaseFailed    RunPhase = "failed"
	PhaseCancelled RunPhase = "cancelled"
	PhaseAborted   RunPhase = "aborted"
)

// Terminal reports whether no further progress follows this phase.
func (p RunPhase) Terminal() bool {
	switch p {
	case PhaseComplete, PhaseFailed, PhaseCancelled, PhaseAborted:
		return true
	}
	return false
}

// RunRequest describes one import run.
type RunRequest struct {
	SpreadsheetID string
	SheetName     string
	Range         string // A1 range including the sheet name, as sent to the source
	ContentTypeID string
	Mapping       FieldMapping
	DryRun        bool
	PreviewLimit  int // DryRun only; 0 maps every record
}

// RunProgress is a snapshot of a run in flight.
type RunProgress struct {
	RunID         string   `json:"runId"`
	ContentTypeID string   `json:"contentTypeId"`
	Phase         RunPhase `json:"phase"`
	TotalRecords  int      `json:"totalRecords"`
	BatchSize     int      `json:"batchSize"`
	TotalBatches  int      `json:"totalBatches"`
	BatchIndex    int      `json:"batchIndex"`
	RecordIndex   int      `json:"recordIndex"`
	Imported      int      `json:"imported"`
	Skipped       int      `json:"skipped"`
	Failed        int      `json:"failed"`
	Error         string   `json:"error,omitempty"`
}

// Percent returns progress through the record set as 0-100.
func (p RunProgress) Percent() int {
	if p.TotalRecords <= 0 {
		return 0
	}
	return (p.RecordIndex * 100) / p.TotalRecords
}

// ProgressCallback receives progress snapshots during a run.
type ProgressCallback func(RunProgress)

// RecordFailure describes a record that was not imported.
type RecordFailure struct {
	Row    int    `json:"row"` // 1-indexed spreadsheet row, header is row 1
	Slug   string `json:"slug"`
	Reason string `json:"error"`
}

// RecordPreview is the mapped payload of one record in a dry run.
type RecordPreview struct {
	Row     int         `json:"row"`
	Slug    string      `json:"slug"`
	EntryID string      `json:"entryId"`
	Fields  EntryFields `json:"fields"`
}

// RunResult is the outcome of an import run.
type RunResult struct {
	RunID         string          `json:"runId"`
	ContentTypeID string          `json:"contentTypeId"`
	SpreadsheetID string          `json:"spreadsheetId"`
	Range         string          `json:"range"`
	Status        RunPhase        `json:"status"`
	TotalRecords  int             `json:"totalRecords"`
	Imported      int             `json:"importedCount"`
	Created       int             `json:"created"`
	Updated       int             `json:"updated"`
	Skipped       int             `json:"skipped"`
	Failures      []RecordFailure `json:"failures"`
	Previews      []RecordPreview `json:"previews,omitempty"`
	DryRun        bool            `json:"dryRun,omitempty"`
	Error         string          `json:"error,omitempty"`
	StartedAt     time.Time       `json:"startedAt"`
	Duration      time.Duration   `json:"-"`
	DurationMS    int64           `json:"durationMs"`
}
