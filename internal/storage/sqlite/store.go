// Package sqlite keeps import run history in a local SQLite database. The
// CLI uses it so runs are recorded without a database server.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/JonMunkholm/sheetimport/internal/core"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes incompatibly.
const schemaVersion = 1

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ErrSchemaMismatch indicates the database was created by another version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Store is a core.HistoryStore backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the history database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to start over)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// SaveRun inserts rec or replaces the run with the same id.
func (s *Store) SaveRun(ctx context.Context, rec core.RunRecord) error {
	failures := rec.Failures
	if failures == nil {
		failures = []core.RecordFailure{}
	}
	failuresJSON, err := json.Marshal(failures)
	if err != nil {
		return fmt.Errorf("marshal failures: %w", err)
	}

	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO import_runs (
                id, content_type_id, spreadsheet_id, range_spec, status, dry_run,
                total_records, imported, created, updated, skipped, failures_json,
                error_message, ip_address, user_agent, started_at, duration_ms
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(id) DO UPDATE SET
                status = excluded.status,
                total_records = excluded.total_records,
                imported = excluded.imported,
                created = excluded.created,
                updated = excluded.updated,
                skipped = excluded.skipped,
                failures_json = excluded.failures_json,
                error_message = excluded.error_message,
                duration_ms = excluded.duration_ms`,
			rec.ID,
			rec.ContentTypeID,
			rec.SpreadsheetID,
			rec.Range,
			string(rec.Status),
			boolToInt(rec.DryRun),
			rec.TotalRecords,
			rec.Imported,
			rec.Created,
			rec.Updated,
			rec.Skipped,
			string(failuresJSON),
			nullableString(rec.Error),
			nullableString(rec.IPAddress),
			nullableString(rec.UserAgent),
			rec.StartedAt.UTC().Format(timeLayout),
			rec.DurationMS,
		)
		return err
	})
}

const runColumns = "id, content_type_id, spreadsheet_id, range_spec, status, dry_run, total_records, imported, created, updated, skipped, failures_json, error_message, ip_address, user_agent, started_at, duration_ms"

// ListRuns returns up to limit runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]core.RunRecord, error) {
	if limit <= 0 {
		limit = core.DefaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM import_runs ORDER BY started_at DESC LIMIT ?`, limit)
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

// GetRun returns one run or core.ErrRunNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (*core.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM import_runs WHERE id = ?`, id)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", core.ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return rec, nil
}

// PurgeRuns deletes runs started before the cutoff.
func (s *Store) PurgeRuns(ctx context.Context, before time.Time) (int64, error) {
	var purged int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM import_runs WHERE started_at < ?`,
			before.UTC().Format(timeLayout))
		if err != nil {
			return err
		}
		purged, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("purge runs: %w", err)
	}
	return purged, nil
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (*core.RunRecord, error) {
	var (
		rec          core.RunRecord
		status       string
		dryRun       int
		failuresJSON string
		errorMessage sql.NullString
		ipAddress    sql.NullString
		userAgent    sql.NullString
		startedRaw   string
	)
	if err := scanner.Scan(
		&rec.ID,
		&rec.ContentTypeID,
		&rec.SpreadsheetID,
		&rec.Range,
		&status,
		&dryRun,
		&rec.TotalRecords,
		&rec.Imported,
		&rec.Created,
		&rec.Updated,
		&rec.Skipped,
		&failuresJSON,
		&errorMessage,
		&ipAddress,
		&userAgent,
		&startedRaw,
		&rec.DurationMS,
	); err != nil {
		return nil, err
	}

	rec.Status = core.RunPhase(status)
	rec.DryRun = dryRun != 0
	rec.Error = errorMessage.String
	rec.IPAddress = ipAddress.String
	rec.UserAgent = userAgent.String
	if err := json.Unmarshal([]byte(failuresJSON), &rec.Failures); err != nil {
		return nil, fmt.Errorf("decode failures: %w", err)
	}
	started, err := time.Parse(timeLayout, startedRaw)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	rec.StartedAt = started
	return &rec, nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		if err := core.SleepWithContext(ctx, delay); err != nil {
			return err
		}
		delay = min(delay*2, busyRetryMaxBackoff)
	}
	return lastErr
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ core.HistoryStore = (*Store)(nil)
