package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/sheetimport/internal/core"
)

func TestToPgUUID(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		in        string
		wantValid bool
	}{
		{id.String(), true},
		{"", false},
		{"not-a-uuid", false},
	}
	for _, tt := range tests {
		got := toPgUUID(tt.in)
		if got.Valid != tt.wantValid {
			t.Errorf("toPgUUID(%q).Valid = %v, want %v", tt.in, got.Valid, tt.wantValid)
		}
		if tt.wantValid && pgUUIDToString(got) != tt.in {
			t.Errorf("round trip = %q, want %q", pgUUIDToString(got), tt.in)
		}
	}
}

func TestParseIP(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"10.0.0.1", "10.0.0.1"},
		{" ::1 ", "::1"},
		{"", ""},
		{"10.0.0.1:8080", ""},
	}
	for _, tt := range tests {
		got := parseIP(tt.in)
		gotStr := ""
		if got != nil {
			gotStr = got.String()
		}
		if gotStr != tt.want {
			t.Errorf("parseIP(%q) = %q, want %q", tt.in, gotStr, tt.want)
		}
	}
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&pgconn.PgError{Code: "23505"}, true},
		{fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "23505"}), true},
		{&pgconn.PgError{Code: "23503"}, false},
		{errors.New("23505"), false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := isUniqueViolation(tt.err); got != tt.want {
			t.Errorf("isUniqueViolation(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

// testPool connects to SHEETIMPORT_TEST_DATABASE_URL or skips.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("SHEETIMPORT_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("SHEETIMPORT_TEST_DATABASE_URL not set")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	pool, err := Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestStore_RunHistory(t *testing.T) {
	pool := testPool(t)
	store := New(pool)
	ctx := context.Background()

	id := uuid.New().String()
	started := time.Now().UTC().Truncate(time.Microsecond)
	rec := core.RunRecord{
		ID:            id,
		ContentTypeID: "product",
		SpreadsheetID: "sheet-1",
		Range:         "Sheet1!A1:Z",
		Status:        core.PhaseComplete,
		TotalRecords:  2,
		Imported:      2,
		Created:       2,
		Failures:      []core.RecordFailure{},
		IPAddress:     "10.0.0.1",
		StartedAt:     started,
	}
	if err := store.SaveRun(ctx, rec); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}
	t.Cleanup(func() { _, _ = pool.Exec(ctx, `DELETE FROM import_runs WHERE id = $1`, toPgUUID(id)) })

	got, err := store.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Imported != 2 || got.IPAddress != "10.0.0.1" || !got.StartedAt.Equal(started) {
		t.Errorf("run = %+v", got)
	}

	if _, err := store.GetRun(ctx, uuid.New().String()); !errors.Is(err, core.ErrRunNotFound) {
		t.Errorf("GetRun(unknown) error = %v, want ErrRunNotFound", err)
	}
	if err := store.SaveRun(ctx, core.RunRecord{ID: "cli-run"}); !errors.Is(err, core.ErrValidation) {
		t.Errorf("SaveRun(non-uuid) error = %v, want ErrValidation", err)
	}
}

func TestStore_Templates(t *testing.T) {
	pool := testPool(t)
	store := New(pool)
	ctx := context.Background()
	contentType := "test-" + uuid.New().String()
	t.Cleanup(func() {
		_, _ = pool.Exec(ctx, `DELETE FROM mapping_templates WHERE content_type_id = $1`, contentType)
	})

	tpl := core.MappingTemplate{
		ContentTypeID: contentType,
		Name:          "Default",
		Mapping: core.FieldMapping{
			"slug": core.Scalar("{Slug}"),
			"body": core.Composite("<h2>{Title}</h2>", "{Body}"),
		},
		Headers: []string{"Slug", "Title", "Body"},
	}
	created, err := store.CreateTemplate(ctx, tpl)
	if err != nil {
		t.Fatalf("CreateTemplate() error = %v", err)
	}
	if created.ID == "" || created.CreatedAt.IsZero() {
		t.Errorf("created = %+v", created)
	}
	if !created.Mapping["body"].IsComposite() || len(created.Mapping["body"].Parts()) != 2 {
		t.Errorf("body template = %+v, want composite of 2", created.Mapping["body"])
	}

	if _, err := store.CreateTemplate(ctx, tpl); !errors.Is(err, core.ErrTemplateExists) {
		t.Errorf("duplicate CreateTemplate() error = %v, want ErrTemplateExists", err)
	}

	created.Name = "Renamed"
	if _, err := store.UpdateTemplate(ctx, *created); err != nil {
		t.Fatalf("UpdateTemplate() error = %v", err)
	}
	list, err := store.ListTemplates(ctx, contentType)
	if err != nil || len(list) != 1 || list[0].Name != "Renamed" {
		t.Errorf("ListTemplates() = %+v, %v", list, err)
	}

	if err := store.DeleteTemplate(ctx, created.ID); err != nil {
		t.Fatalf("DeleteTemplate() error = %v", err)
	}
	if err := store.DeleteTemplate(ctx, created.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("second DeleteTemplate() error = %v, want ErrNotFound", err)
	}
}
