// Package sheets reads spreadsheet ranges from the Google Sheets v4 REST API
// using a service account.
package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JonMunkholm/sheetimport/internal/core"
)

const (
	// DefaultBaseURL is the Sheets API root.
	DefaultBaseURL     = "https://sheets.googleapis.com"
	defaultHTTPTimeout = 30 * time.Second
)

// Config describes the Sheets client configuration.
type Config struct {
	BaseURL    string
	Tokens     TokenSource
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client wraps the spreadsheets.values endpoint.
type Client struct {
	baseURL *url.URL
	tokens  TokenSource
	http    *http.Client
	logger  *slog.Logger
}

// New creates a Client from the supplied configuration.
func New(cfg Config) (*Client, error) {
	if cfg.Tokens == nil {
		return nil, errors.New("sheets: token source is required")
	}
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("sheets: parse base url: %w", err)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{baseURL: baseURL, tokens: cfg.Tokens, http: client, logger: logger}, nil
}

type valuesResponse struct {
	Range  string  `json:"range"`
	Values [][]any `json:"values"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Values returns the cell values of rangeSpec as formatted strings, one slice
// per row. Trailing empty cells are omitted by the API.
func (c *Client) Values(ctx context.Context, spreadsheetID, rangeSpec string) ([][]string, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL.JoinPath("v4", "spreadsheets", spreadsheetID, "values", rangeSpec)
	params := url.Values{}
	params.Set("majorDimension", "ROWS")
	params.Set("valueRenderOption", "FORMATTED_VALUE")
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("sheets: build values request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sheets: values request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, decodeError(resp)
	}

	var payload valuesResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("sheets: decode values response: %w", err)
	}

	rows := make([][]string, len(payload.Values))
	for i, row := range payload.Values {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = cellString(v)
		}
		rows[i] = cells
	}

	c.logger.Debug("fetched sheet values",
		"spreadsheet_id", spreadsheetID,
		"range", payload.Range,
		"rows", len(rows),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return rows, nil
}

// FetchRecords reads rangeSpec and converts it to records keyed by the
// header row.
func (c *Client) FetchRecords(ctx context.Context, spreadsheetID, rangeSpec string) ([]core.Record, error) {
	rows, err := c.Values(ctx, spreadsheetID, rangeSpec)
	if err != nil {
		return nil, err
	}
	return core.RecordsFromRows(rows)
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload apiError
	message := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		message = payload.Error.Message
	}

	switch resp.StatusCode {
	case http.StatusBadRequest:
		return fmt.Errorf("%w: sheets: %s", core.ErrValidation, message)
	case http.StatusNotFound:
		return fmt.Errorf("%w: sheets: spreadsheet: %s", core.ErrNotFound, message)
	default:
		return fmt.Errorf("sheets: values request failed (%s): %s", resp.Status, message)
	}
}

func cellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return fmt.Sprintf("%v", t)
	case bool:
		if t {
			return "TRUE"
		}
		return "FALSE"
	default:
		return fmt.Sprint(t)
	}
}

var _ core.RecordSource = (*Client)(nil)
