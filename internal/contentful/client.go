// Package contentful is a small client for the Contentful Content Management
// API covering what an import run needs: content type lookup, entry lookup by
// slug, create, update and publish.
package contentful

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/sheetimport/internal/core"
)

const (
	DefaultBaseURL     = "https://api.contentful.com"
	DefaultEnvironment = "master"
	DefaultMaxRetries  = 5

	defaultHTTPTimeout = 30 * time.Second
	contentTypeHeader  = "application/vnd.contentful.management.v1+json"
	initialBackoff     = time.Second
	maxBackoff         = 30 * time.Second
)

// Config describes the client configuration.
type Config struct {
	Token       string
	SpaceID     string
	Environment string
	BaseURL     string
	MaxRetries  int
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Client talks to one space environment.
type Client struct {
	token      string
	baseURL    *url.URL
	maxRetries int
	http       *http.Client
	logger     *slog.Logger
	sleep      core.SleepFunc
}

// New creates a Client from the supplied configuration.
func New(cfg Config) (*Client, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, fmt.Errorf("%w: contentful management token is required", core.ErrConfiguration)
	}
	space := strings.TrimSpace(cfg.SpaceID)
	if space == "" {
		return nil, fmt.Errorf("%w: contentful space id is required", core.ErrConfiguration)
	}
	env := strings.TrimSpace(cfg.Environment)
	if env == "" {
		env = DefaultEnvironment
	}
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("contentful: parse base url: %w", err)
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		token:      token,
		baseURL:    baseURL.JoinPath("spaces", space, "environments", env),
		maxRetries: retries,
		http:       client,
		logger:     logger,
		sleep:      core.SleepWithContext,
	}, nil
}

// SetSleeper replaces the function used to wait between retries.
func (c *Client) SetSleeper(fn core.SleepFunc) {
	if fn != nil {
		c.sleep = fn
	}
}

type sys struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Version     int    `json:"version"`
	ContentType *struct {
		Sys struct {
			ID string `json:"id"`
		} `json:"sys"`
	} `json:"contentType,omitempty"`
}

type entryPayload struct {
	Sys    sys              `json:"sys"`
	Fields core.EntryFields `json:"fields"`
}

type entryCollection struct {
	Total int            `json:"total"`
	Items []entryPayload `json:"items"`
}

type contentTypePayload struct {
	Sys    sys                 `json:"sys"`
	Name   string              `json:"name"`
	Fields []core.ContentField `json:"fields"`
}

func (p entryPayload) entry(contentTypeID string) *core.Entry {
	if p.Sys.ContentType != nil && p.Sys.ContentType.Sys.ID != "" {
		contentTypeID = p.Sys.ContentType.Sys.ID
	}
	fields := p.Fields
	if fields == nil {
		fields = core.EntryFields{}
	}
	return &core.Entry{
		ID:            p.Sys.ID,
		Version:       p.Sys.Version,
		ContentTypeID: contentTypeID,
		Fields:        fields,
	}
}

// GetContentType returns a content type definition.
func (c *Client) GetContentType(ctx context.Context, contentTypeID string) (*core.ContentType, error) {
	var payload contentTypePayload
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   []string{"content_types", contentTypeID},
	}, &payload)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("content type not found: %s: %w", contentTypeID, err)
		}
		return nil, err
	}
	return &core.ContentType{ID: payload.Sys.ID, Name: payload.Name, Fields: payload.Fields}, nil
}

// FindEntryBySlug returns the first entry of the content type whose slug
// field equals slug, or (nil, nil) if none exists.
func (c *Client) FindEntryBySlug(ctx context.Context, contentTypeID, slugField, slug string) (*core.Entry, error) {
	query := url.Values{}
	query.Set("content_type", contentTypeID)
	query.Set("fields."+slugField, slug)
	query.Set("limit", "1")

	var payload entryCollection
	if err := c.do(ctx, request{
		method: http.MethodGet,
		path:   []string{"entries"},
		query:  query,
	}, &payload); err != nil {
		// The entries collection only 404s when the space or environment is gone.
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, fmt.Errorf("%w: space or environment not found: %w", core.ErrUnrecoverable, apiErr)
		}
		return nil, err
	}
	if len(payload.Items) == 0 {
		return nil, nil
	}
	return payload.Items[0].entry(contentTypeID), nil
}

// CreateEntry creates an entry with a caller-chosen id.
func (c *Client) CreateEntry(ctx context.Context, contentTypeID, entryID string, fields core.EntryFields) (*core.Entry, error) {
	var payload entryPayload
	if err := c.do(ctx, request{
		method:  http.MethodPut,
		path:    []string{"entries", entryID},
		headers: map[string]string{"X-Contentful-Content-Type": contentTypeID},
		body:    map[string]any{"fields": fields},
	}, &payload); err != nil {
		return nil, err
	}
	return payload.entry(contentTypeID), nil
}

// UpdateEntry replaces the fields of entry. entry.Version must be the
// version last read; the store rejects stale versions.
func (c *Client) UpdateEntry(ctx context.Context, entry *core.Entry) (*core.Entry, error) {
	var payload entryPayload
	if err := c.do(ctx, request{
		method:  http.MethodPut,
		path:    []string{"entries", entry.ID},
		headers: map[string]string{"X-Contentful-Version": strconv.Itoa(entry.Version)},
		body:    map[string]any{"fields": entry.Fields},
	}, &payload); err != nil {
		return nil, err
	}
	return payload.entry(entry.ContentTypeID), nil
}

// PublishEntry publishes the given version of entry.
func (c *Client) PublishEntry(ctx context.Context, entry *core.Entry) (*core.Entry, error) {
	var payload entryPayload
	if err := c.do(ctx, request{
		method:  http.MethodPut,
		path:    []string{"entries", entry.ID, "published"},
		headers: map[string]string{"X-Contentful-Version": strconv.Itoa(entry.Version)},
	}, &payload); err != nil {
		return nil, err
	}
	return payload.entry(entry.ContentTypeID), nil
}

type request struct {
	method  string
	path    []string
	query   url.Values
	headers map[string]string
	body    any
}

// do sends req, retrying rate-limited and server-failed attempts, and
// decodes a successful response into out.
func (c *Client) do(ctx context.Context, req request, out any) error {
	var body []byte
	if req.body != nil {
		var err error
		body, err = json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("contentful: encode request: %w", err)
		}
	}

	endpoint := c.baseURL.JoinPath(req.path...)
	if req.query != nil {
		endpoint.RawQuery = req.query.Encode()
	}
	target := endpoint.String()

	backoff := initialBackoff
	for attempt := 0; ; attempt++ {
		resp, err := c.send(ctx, req, target, body)
		if err != nil {
			return err
		}

		if resp.StatusCode < 300 {
			defer resp.Body.Close()
			if out == nil {
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("contentful: decode %s response: %w", req.method, err)
			}
			return nil
		}

		apiErr := readAPIError(resp, req.method, endpoint.Path)
		if !retryable(resp.StatusCode) || attempt >= c.maxRetries {
			return classify(apiErr)
		}

		wait := retryAfter(resp.Header, backoff)
		c.logger.Warn("contentful request throttled, retrying",
			"status", resp.StatusCode,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"wait", wait,
		)
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (c *Client) send(ctx context.Context, req request, target string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("contentful: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Content-Type", contentTypeHeader)
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("contentful: %s request failed: %w", req.method, err)
	}
	return resp, nil
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// retryAfter honors X-Contentful-RateLimit-Reset (seconds) and falls back to
// the exponential backoff.
func retryAfter(h http.Header, backoff time.Duration) time.Duration {
	for _, name := range []string{"X-Contentful-RateLimit-Reset", "Retry-After"} {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
				return max(time.Duration(secs)*time.Second, initialBackoff)
			}
		}
	}
	return backoff
}

var (
	_ core.EntryStore   = (*Client)(nil)
	_ core.SchemaSource = (*Client)(nil)
)
