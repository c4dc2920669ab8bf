// Package application wires the spreadsheet source, the content store and
// the import service from configuration. The HTTP server and the CLI share it.
package application

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/sheetimport/internal/config"
	"github.com/JonMunkholm/sheetimport/internal/contentful"
	"github.com/JonMunkholm/sheetimport/internal/core"
	"github.com/JonMunkholm/sheetimport/internal/sheets"
)

// Application holds the clients built from configuration.
type Application struct {
	Config   *config.Config
	Sheets   *sheets.Client
	CMS      *contentful.Client
	Importer *core.Importer
	Logger   *slog.Logger
}

// New builds the API clients and an importer using rules as field rules.
// A nil rules uses the rules from the import configuration.
func New(cfg *config.Config, rules *core.FieldRules, logger *slog.Logger) (*Application, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if rules == nil {
		rules = cfg.Import.FieldRules()
	}

	sheetsHTTP := &http.Client{Timeout: cfg.Google.Timeout}
	account, err := sheets.NewServiceAccount(
		cfg.Google.ServiceAccountEmail,
		cfg.Google.PrivateKey,
		cfg.Google.TokenURL,
		sheetsHTTP,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrConfiguration, err)
	}
	sheetsClient, err := sheets.New(sheets.Config{
		BaseURL:    cfg.Google.SheetsBaseURL,
		Tokens:     account,
		HTTPClient: sheetsHTTP,
		Logger:     logger.With("component", "sheets"),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrConfiguration, err)
	}

	cms, err := contentful.New(contentful.Config{
		Token:       cfg.Contentful.Token,
		SpaceID:     cfg.Contentful.SpaceID,
		Environment: cfg.Contentful.Environment,
		BaseURL:     cfg.Contentful.BaseURL,
		MaxRetries:  cfg.Contentful.MaxRetries,
		HTTPClient:  &http.Client{Timeout: cfg.Contentful.Timeout},
		Logger:      logger.With("component", "contentful"),
	})
	if err != nil {
		return nil, err
	}

	importer := core.NewImporter(sheetsClient, cms, core.NewMapper(rules, cfg.Contentful.Locale), cfg.Import.Options())
	importer.SetLogger(logger)

	return &Application{
		Config:   cfg,
		Sheets:   sheetsClient,
		CMS:      cms,
		Importer: importer,
		Logger:   logger,
	}, nil
}

// Service returns an import service backed by the application's clients.
// history and templates may be nil.
func (a *Application) Service(history core.HistoryStore, templates core.TemplateStore) *core.Service {
	return core.NewService(a.Importer, core.ServiceOptions{
		Schema:      a.CMS,
		History:     history,
		Templates:   templates,
		Limiter:     core.NewRunLimiter(a.Config.Import.MaxConcurrent, a.Config.Import.MaxWaitTime),
		RunTimeout:  a.Config.Import.RunTimeout,
		SchemaRules: a.Config.Import.SchemaRules,
		Logger:      a.Logger,
	})
}
