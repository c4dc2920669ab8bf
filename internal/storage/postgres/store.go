// Package postgres persists run history and mapping templates in
// PostgreSQL through a pgx connection pool.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/sheetimport/internal/core"
)

//go:embed schema.sql
var schemaSQL string

// uniqueViolation is the SQLSTATE for unique constraint failures.
const uniqueViolation = "23505"

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// Store implements core.HistoryStore and core.TemplateStore.
type Store struct {
	db  DBTX
	now func() time.Time
}

// New wraps a pool or transaction.
func New(db DBTX) *Store {
	return &Store{db: db, now: time.Now}
}

// Connect opens a pool, verifies it and applies the schema.
func Connect(ctx context.Context, cfg *pgxpool.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Migrate creates the tables if they do not exist.
func Migrate(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// ----------------------------------------------------------------------------
// Run history
// ----------------------------------------------------------------------------

func (s *Store) SaveRun(ctx context.Context, rec core.RunRecord) error {
	id := toPgUUID(rec.ID)
	if !id.Valid {
		return fmt.Errorf("%w: run id %q is not a UUID", core.ErrValidation, rec.ID)
	}
	failures := rec.Failures
	if failures == nil {
		failures = []core.RecordFailure{}
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO import_runs (
			id, content_type_id, spreadsheet_id, range_spec, status, dry_run,
			total_records, imported, created, updated, skipped, failures,
			error_message, ip_address, user_agent, started_at, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			total_records = EXCLUDED.total_records,
			imported = EXCLUDED.imported,
			created = EXCLUDED.created,
			updated = EXCLUDED.updated,
			skipped = EXCLUDED.skipped,
			failures = EXCLUDED.failures,
			error_message = EXCLUDED.error_message,
			duration_ms = EXCLUDED.duration_ms`,
		id,
		rec.ContentTypeID,
		rec.SpreadsheetID,
		rec.Range,
		string(rec.Status),
		rec.DryRun,
		rec.TotalRecords,
		rec.Imported,
		rec.Created,
		rec.Updated,
		rec.Skipped,
		failures,
		toPgText(rec.Error),
		parseIP(rec.IPAddress),
		toPgText(rec.UserAgent),
		pgtype.Timestamptz{Time: rec.StartedAt, Valid: true},
		rec.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

const runColumns = `id, content_type_id, spreadsheet_id, range_spec, status, dry_run,
	total_records, imported, created, updated, skipped, failures,
	error_message, ip_address, user_agent, started_at, duration_ms`

func (s *Store) ListRuns(ctx context.Context, limit int) ([]core.RunRecord, error) {
	if limit <= 0 {
		limit = core.DefaultHistoryLimit
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+runColumns+` FROM import_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []core.RunRecord{}
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *rec)
	}
	return runs, rows.Err()
}

func (s *Store) GetRun(ctx context.Context, id string) (*core.RunRecord, error) {
	pgID := toPgUUID(id)
	if !pgID.Valid {
		return nil, fmt.Errorf("%w: %s", core.ErrRunNotFound, id)
	}
	rec, err := scanRun(s.db.QueryRow(ctx,
		`SELECT `+runColumns+` FROM import_runs WHERE id = $1`, pgID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", core.ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return rec, nil
}

func (s *Store) PurgeRuns(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM import_runs WHERE started_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanRun(row pgx.Row) (*core.RunRecord, error) {
	var (
		rec          core.RunRecord
		id           pgtype.UUID
		status       string
		errorMessage pgtype.Text
		ipAddress    *netip.Addr
		userAgent    pgtype.Text
		startedAt    pgtype.Timestamptz
	)
	err := row.Scan(
		&id, &rec.ContentTypeID, &rec.SpreadsheetID, &rec.Range, &status, &rec.DryRun,
		&rec.TotalRecords, &rec.Imported, &rec.Created, &rec.Updated, &rec.Skipped, &rec.Failures,
		&errorMessage, &ipAddress, &userAgent, &startedAt, &rec.DurationMS,
	)
	if err != nil {
		return nil, err
	}

	rec.ID = pgUUIDToString(id)
	rec.Status = core.RunPhase(status)
	rec.StartedAt = startedAt.Time
	if errorMessage.Valid {
		rec.Error = errorMessage.String
	}
	if ipAddress != nil {
		rec.IPAddress = ipAddress.String()
	}
	if userAgent.Valid {
		rec.UserAgent = userAgent.String
	}
	if rec.Failures == nil {
		rec.Failures = []core.RecordFailure{}
	}
	return &rec, nil
}

// ----------------------------------------------------------------------------
// Mapping templates
// ----------------------------------------------------------------------------

func (s *Store) CreateTemplate(ctx context.Context, t core.MappingTemplate) (*core.MappingTemplate, error) {
	now := s.now().UTC()
	id := uuid.New()
	headers := t.Headers
	if headers == nil {
		headers = []string{}
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO mapping_templates (id, content_type_id, name, mapping, headers, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING `+templateColumns,
		pgtype.UUID{Bytes: id, Valid: true},
		t.ContentTypeID,
		t.Name,
		t.Mapping,
		headers,
		now,
	)
	created, err := scanTemplate(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %q for content type %s", core.ErrTemplateExists, t.Name, t.ContentTypeID)
		}
		return nil, fmt.Errorf("create template: %w", err)
	}
	return created, nil
}

const templateColumns = `id, content_type_id, name, mapping, headers, created_at, updated_at`

func (s *Store) GetTemplate(ctx context.Context, id string) (*core.MappingTemplate, error) {
	pgID := toPgUUID(id)
	if !pgID.Valid {
		return nil, core.ErrTemplateNotFound
	}
	t, err := scanTemplate(s.db.QueryRow(ctx,
		`SELECT `+templateColumns+` FROM mapping_templates WHERE id = $1`, pgID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

func (s *Store) ListTemplates(ctx context.Context, contentTypeID string) ([]core.MappingTemplate, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+templateColumns+` FROM mapping_templates
		 WHERE content_type_id = $1 ORDER BY name`, contentTypeID)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	templates := []core.MappingTemplate{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, *t)
	}
	return templates, rows.Err()
}

func (s *Store) UpdateTemplate(ctx context.Context, t core.MappingTemplate) (*core.MappingTemplate, error) {
	pgID := toPgUUID(t.ID)
	if !pgID.Valid {
		return nil, core.ErrTemplateNotFound
	}
	headers := t.Headers
	if headers == nil {
		headers = []string{}
	}

	updated, err := scanTemplate(s.db.QueryRow(ctx, `
		UPDATE mapping_templates
		SET name = $2, mapping = $3, headers = $4, updated_at = $5
		WHERE id = $1
		RETURNING `+templateColumns,
		pgID, t.Name, t.Mapping, headers, s.now().UTC(),
	))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, core.ErrTemplateNotFound
	case isUniqueViolation(err):
		return nil, fmt.Errorf("%w: %q for content type %s", core.ErrTemplateExists, t.Name, t.ContentTypeID)
	case err != nil:
		return nil, fmt.Errorf("update template: %w", err)
	}
	return updated, nil
}

func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	pgID := toPgUUID(id)
	if !pgID.Valid {
		return core.ErrTemplateNotFound
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM mapping_templates WHERE id = $1`, pgID)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrTemplateNotFound
	}
	return nil
}

func scanTemplate(row pgx.Row) (*core.MappingTemplate, error) {
	var (
		t         core.MappingTemplate
		id        pgtype.UUID
		createdAt pgtype.Timestamptz
		updatedAt pgtype.Timestamptz
	)
	if err := row.Scan(&id, &t.ContentTypeID, &t.Name, &t.Mapping, &t.Headers, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.ID = pgUUIDToString(id)
	t.CreatedAt = createdAt.Time
	t.UpdatedAt = updatedAt.Time
	return &t, nil
}

// ----------------------------------------------------------------------------
// Conversion helpers
// ----------------------------------------------------------------------------

// toPgText returns an invalid (NULL) value for blank strings.
func toPgText(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

// toPgUUID returns an invalid value when s is not a UUID.
func toPgUUID(s string) pgtype.UUID {
	if s == "" {
		return pgtype.UUID{Valid: false}
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return pgtype.UUID{Valid: false}
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}
}

func pgUUIDToString(u pgtype.UUID) string {
	if !u.Valid {
		return ""
	}
	return uuid.UUID(u.Bytes).String()
}

// parseIP returns nil for addresses inet cannot hold.
func parseIP(s string) *netip.Addr {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return &addr
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

var (
	_ core.HistoryStore  = (*Store)(nil)
	_ core.TemplateStore = (*Store)(nil)
)
