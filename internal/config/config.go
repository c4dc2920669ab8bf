// Package config provides centralized configuration management for the importer.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"

	"github.com/JonMunkholm/sheetimport/internal/core"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Contentful ContentfulConfig
	Google     GoogleConfig
	Import     ImportConfig
	Rate       RateLimitConfig
	Security   SecurityConfig
	Logging    LoggingConfig
	History    HistoryConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" envAlt:"PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE and long imports)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for non-import requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`

	// MaxBodyBytes caps JSON request bodies (default: 1MB)
	MaxBodyBytes int64 `env:"SERVER_MAX_BODY_BYTES" default:"1048576"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. Without it run history is kept
	// in memory and mapping templates are unavailable.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 1)
	MinConns int `env:"DB_MIN_CONNS" default:"1"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// Enabled reports whether a database is configured.
func (c *DatabaseConfig) Enabled() bool { return c.URL != "" }

// ContentfulConfig holds content management API settings.
type ContentfulConfig struct {
	// Token is the content management API token (required)
	Token string `env:"CONTENTFUL_CMA_TOKEN" envAlt:"CONTENTFUL_MANAGEMENT_TOKEN" required:"true"`

	// SpaceID is the target space (required)
	SpaceID string `env:"CONTENTFUL_SPACE_ID" required:"true"`

	// Environment is the target environment (default: master)
	Environment string `env:"CONTENTFUL_ENVIRONMENT" default:"master"`

	// BaseURL is the management API root (default: https://api.contentful.com)
	BaseURL string `env:"CONTENTFUL_BASE_URL" default:"https://api.contentful.com"`

	// Locale is the locale code field values are written under (default: nl)
	Locale string `env:"CONTENTFUL_LOCALE" default:"nl"`

	// Timeout bounds a single API request (default: 30s)
	Timeout time.Duration `env:"CONTENTFUL_TIMEOUT" default:"30s"`

	// MaxRetries is how often a rate limited or 5xx request is retried (default: 5)
	MaxRetries int `env:"CONTENTFUL_MAX_RETRIES" default:"5"`
}

// GoogleConfig holds the service account used to read spreadsheets.
type GoogleConfig struct {
	// ServiceAccountEmail is the client email of the service account (required)
	ServiceAccountEmail string `env:"GOOGLE_SERVICE_ACCOUNT_EMAIL" envAlt:"GOOGLE_CLIENT_EMAIL" required:"true"`

	// PrivateKey is the PEM key; literal \n sequences are expanded (required)
	PrivateKey string `env:"GOOGLE_PRIVATE_KEY" envAlt:"GOOGLE_SERVICE_ACCOUNT_PRIVATE_KEY" required:"true"`

	// TokenURL is the OAuth token endpoint (default: https://oauth2.googleapis.com/token)
	TokenURL string `env:"GOOGLE_TOKEN_URL" default:"https://oauth2.googleapis.com/token"`

	// SheetsBaseURL is the Sheets API root (default: https://sheets.googleapis.com)
	SheetsBaseURL string `env:"SHEETS_BASE_URL" default:"https://sheets.googleapis.com"`

	// Timeout bounds a single API request (default: 30s)
	Timeout time.Duration `env:"SHEETS_TIMEOUT" default:"30s"`
}

// ImportConfig holds pacing and field rule settings for import runs.
type ImportConfig struct {
	// BatchSize is the number of records per batch (default: 500)
	BatchSize int `env:"IMPORT_BATCH_SIZE" default:"500"`

	// RecordDelay is the pause after each record that touched the store (default: 200ms)
	RecordDelay time.Duration `env:"IMPORT_RECORD_DELAY" default:"200ms"`

	// BatchPause is the pause between batches (default: 5s)
	BatchPause time.Duration `env:"IMPORT_BATCH_PAUSE" default:"5s"`

	// RunTimeout bounds a single run (default: 2h)
	RunTimeout time.Duration `env:"IMPORT_RUN_TIMEOUT" default:"2h"`

	// MaxConcurrent is the number of runs allowed at once (default: 1)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"1"`

	// MaxWaitTime is how long a request waits for a run slot (default: 5s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"5s"`

	// SlugField is the field id that identifies entries (default: slug)
	SlugField string `env:"IMPORT_SLUG_FIELD" default:"slug"`

	// Field id lists per kind.
	IgnoredFields   []string `env:"IMPORT_IGNORED_FIELDS" default:"listOfLocation"`
	SEOFields       []string `env:"IMPORT_SEO_FIELDS" default:"seo"`
	LinkListFields  []string `env:"IMPORT_LINK_LIST_FIELDS" default:"productTag"`
	EntryLinkFields []string `env:"IMPORT_ENTRY_LINK_FIELDS" default:"categoryProduct"`
	AssetFields     []string `env:"IMPORT_ASSET_FIELDS"`
	RichTextFields  []string `env:"IMPORT_RICH_TEXT_FIELDS"`
	PlainFields     []string `env:"IMPORT_PLAIN_FIELDS"`

	// AssetHints mark fields as asset links by id substring (default: image,banner,iframe)
	AssetHints []string `env:"IMPORT_ASSET_HINTS" default:"image,banner,iframe"`

	// SchemaRules derives kinds from the content type schema (default: true)
	SchemaRules bool `env:"IMPORT_SCHEMA_RULES" default:"true"`
}

// Options returns the pacing options for the importer.
func (c *ImportConfig) Options() core.ImportOptions {
	return core.ImportOptions{
		BatchSize:   c.BatchSize,
		RecordDelay: c.RecordDelay,
		BatchPause:  c.BatchPause,
	}
}

// FieldRules builds the configured field rules.
func (c *ImportConfig) FieldRules() *core.FieldRules {
	rules := core.NewFieldRules(c.SlugField, c.AssetHints)
	lists := []struct {
		fields []string
		kind   core.FieldKind
	}{
		{c.PlainFields, core.KindPlain},
		{c.RichTextFields, core.KindRichText},
		{c.AssetFields, core.KindAssetLink},
		{c.EntryLinkFields, core.KindEntryLink},
		{c.LinkListFields, core.KindLinkList},
		{c.SEOFields, core.KindSEO},
		{c.IgnoredFields, core.KindIgnored},
	}
	for _, l := range lists {
		for _, f := range l.fields {
			rules.Set(f, l.kind)
		}
	}
	return rules
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// ImportLimit is requests per minute for the import trigger (default: 10)
	ImportLimit int `env:"RATE_LIMIT_IMPORT" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// ImporterPassword guards the import trigger. Imports fail with 500 when unset.
	ImporterPassword string `env:"IMPORTER_PASSWORD"`

	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey protects the run management API with X-API-Key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// HistoryConfig holds run history settings.
type HistoryConfig struct {
	// RetentionDays is days of run history to keep (default: 90)
	RetentionDays int `env:"HISTORY_RETENTION_DAYS" default:"90"`

	// CheckInterval is how often old runs are purged (default: 24h)
	CheckInterval time.Duration `env:"HISTORY_CHECK_INTERVAL" default:"24h"`

	// MemoryCapacity bounds in-memory history when no database is set (default: 500)
	MemoryCapacity int `env:"HISTORY_MEMORY_CAPACITY" default:"500"`

	// LocalPath is the CLI's SQLite history file (default: user cache dir)
	LocalPath string `env:"HISTORY_LOCAL_PATH"`
}

// Purge returns the purge scheduler settings.
func (c *HistoryConfig) Purge() core.PurgeConfig {
	return core.PurgeConfig{
		RetentionDays: c.RetentionDays,
		CheckInterval: c.CheckInterval,
	}
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
