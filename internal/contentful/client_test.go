package contentful

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/sheetimport/internal/core"
)

const basePath = "/spaces/space-1/environments/master"

type recordedRequest struct {
	Method  string
	Path    string
	Query   string
	Headers http.Header
	Body    map[string]any
}

// fakeCMA serves canned responses and records requests.
type fakeCMA struct {
	mu       sync.Mutex
	requests []recordedRequest
	handle   func(w http.ResponseWriter, r *http.Request, n int)
}

func (f *fakeCMA) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		Method:  r.Method,
		Path:    r.URL.Path,
		Query:   r.URL.RawQuery,
		Headers: r.Header.Clone(),
		Body:    body,
	})
	n := len(f.requests)
	f.mu.Unlock()

	f.handle(w, r, n)
}

// all returns a copy of the recorded requests.
func (f *fakeCMA) all() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func newTestClient(t *testing.T, handle func(w http.ResponseWriter, r *http.Request, n int)) (*Client, *fakeCMA, *[]time.Duration) {
	t.Helper()
	fake := &fakeCMA{handle: handle}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		Token:      "cma-token",
		SpaceID:    "space-1",
		BaseURL:    srv.URL,
		MaxRetries: 2,
		HTTPClient: srv.Client(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	var waits []time.Duration
	c.SetSleeper(func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	})
	return c, fake, &waits
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", contentTypeHeader)
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestNew_RequiresCredentials(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no token", Config{SpaceID: "s"}},
		{"no space", Config{Token: "t"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); !errors.Is(err, core.ErrConfiguration) {
				t.Errorf("New() error = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestGetContentType(t *testing.T) {
	c, fake, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request, _ int) {
		writeJSON(w, http.StatusOK, `{
			"sys": {"id": "product", "type": "ContentType", "version": 3},
			"name": "Product",
			"fields": [
				{"id": "title", "name": "Title", "type": "Symbol"},
				{"id": "hero", "name": "Hero", "type": "Link", "linkType": "Asset"},
				{"id": "tags", "name": "Tags", "type": "Array", "items": {"type": "Link", "linkType": "Entry", "validations": []}}
			]
		}`)
	})

	ct, err := c.GetContentType(context.Background(), "product")
	if err != nil {
		t.Fatalf("GetContentType() error = %v", err)
	}
	if ct.ID != "product" || ct.Name != "Product" || len(ct.Fields) != 3 {
		t.Fatalf("content type = %+v", ct)
	}
	if ct.Fields[1].LinkType != "Asset" {
		t.Errorf("hero linkType = %q, want Asset", ct.Fields[1].LinkType)
	}
	if ct.Fields[2].Items == nil || ct.Fields[2].Items.LinkType != "Entry" {
		t.Errorf("tags items = %+v, want Entry links", ct.Fields[2].Items)
	}

	req := fake.all()[0]
	if req.Path != basePath+"/content_types/product" {
		t.Errorf("path = %q", req.Path)
	}
	if got := req.Headers.Get("Authorization"); got != "Bearer cma-token" {
		t.Errorf("Authorization = %q", got)
	}
}

func TestGetContentType_NotFound(t *testing.T) {
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request, _ int) {
		writeJSON(w, http.StatusNotFound, `{"sys":{"type":"Error","id":"NotFound"},"message":"The resource could not be found."}`)
	})

	_, err := c.GetContentType(context.Background(), "missing")
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("GetContentType() error = %v, want ErrNotFound", err)
	}
	if got := core.MapError(err).Code; got != "CMS002" {
		t.Errorf("MapError code = %s, want CMS002", got)
	}
}

func TestFindEntryBySlug(t *testing.T) {
	c, fake, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request, n int) {
		if n == 1 {
			writeJSON(w, http.StatusOK, `{"total":1,"items":[{
				"sys": {"id": "hello-world", "version": 7, "contentType": {"sys": {"id": "product"}}},
				"fields": {"slug": {"nl": "Hello World"}, "price": {"nl": 12}}
			}]}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"total":0,"items":[]}`)
	})

	entry, err := c.FindEntryBySlug(context.Background(), "product", "slug", "Hello World")
	if err != nil {
		t.Fatalf("FindEntryBySlug() error = %v", err)
	}
	if entry == nil || entry.ID != "hello-world" || entry.Version != 7 {
		t.Fatalf("entry = %+v", entry)
	}
	if entry.Fields["price"]["nl"] != float64(12) {
		t.Errorf("price = %v, want 12", entry.Fields["price"]["nl"])
	}

	q := fake.all()[0]
	if q.Path != basePath+"/entries" {
		t.Errorf("path = %q", q.Path)
	}
	for _, want := range []string{"content_type=product", "fields.slug=Hello+World", "limit=1"} {
		if !strings.Contains(q.Query, want) {
			t.Errorf("query %q missing %q", q.Query, want)
		}
	}

	none, err := c.FindEntryBySlug(context.Background(), "product", "slug", "nope")
	if err != nil || none != nil {
		t.Errorf("FindEntryBySlug(nope) = %v, %v, want nil, nil", none, err)
	}
}

func TestFindEntryBySlug_SpaceGone(t *testing.T) {
	c, fake, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request, _ int) {
		writeJSON(w, http.StatusNotFound, `{"sys":{"type":"Error","id":"NotFound"},"message":"The resource could not be found."}`)
	})

	_, err := c.FindEntryBySlug(context.Background(), "product", "slug", "hello")
	if !errors.Is(err, core.ErrUnrecoverable) {
		t.Fatalf("FindEntryBySlug() error = %v, want ErrUnrecoverable", err)
	}
	if errors.Is(err, core.ErrNotFound) {
		t.Errorf("FindEntryBySlug() error = %v, should not be ErrNotFound", err)
	}
	if got := core.MapError(err).Code; got != "CMS001" {
		t.Errorf("MapError code = %s, want CMS001", got)
	}
	if got := len(fake.all()); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
}

func TestCreateUpdatePublish(t *testing.T) {
	c, fake, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request, n int) {
		switch n {
		case 1:
			writeJSON(w, http.StatusCreated, `{"sys":{"id":"hello-world","version":1},"fields":{"title":{"nl":"Hi"}}}`)
		case 2:
			writeJSON(w, http.StatusOK, `{"sys":{"id":"hello-world","version":2},"fields":{"title":{"nl":"Hey"}}}`)
		default:
			writeJSON(w, http.StatusOK, `{"sys":{"id":"hello-world","version":3},"fields":{"title":{"nl":"Hey"}}}`)
		}
	})
	ctx := context.Background()

	created, err := c.CreateEntry(ctx, "product", "hello-world", core.EntryFields{"title": {"nl": "Hi"}})
	if err != nil {
		t.Fatalf("CreateEntry() error = %v", err)
	}
	if created.Version != 1 || created.ContentTypeID != "product" {
		t.Errorf("created = %+v", created)
	}

	created.Fields["title"]["nl"] = "Hey"
	updated, err := c.UpdateEntry(ctx, created)
	if err != nil {
		t.Fatalf("UpdateEntry() error = %v", err)
	}
	published, err := c.PublishEntry(ctx, updated)
	if err != nil {
		t.Fatalf("PublishEntry() error = %v", err)
	}
	if published.Version != 3 {
		t.Errorf("published version = %d, want 3", published.Version)
	}

	tests := []struct {
		path, header, value string
	}{
		{basePath + "/entries/hello-world", "X-Contentful-Content-Type", "product"},
		{basePath + "/entries/hello-world", "X-Contentful-Version", "1"},
		{basePath + "/entries/hello-world/published", "X-Contentful-Version", "2"},
	}
	for i, tt := range tests {
		req := fake.all()[i]
		if req.Method != http.MethodPut {
			t.Errorf("request %d method = %s, want PUT", i, req.Method)
		}
		if req.Path != tt.path {
			t.Errorf("request %d path = %q, want %q", i, req.Path, tt.path)
		}
		if got := req.Headers.Get(tt.header); got != tt.value {
			t.Errorf("request %d %s = %q, want %q", i, tt.header, got, tt.value)
		}
		if got := req.Headers.Get("Content-Type"); got != contentTypeHeader {
			t.Errorf("request %d Content-Type = %q", i, got)
		}
	}

	fields, _ := fake.all()[1].Body["fields"].(map[string]any)
	title, _ := fields["title"].(map[string]any)
	if title["nl"] != "Hey" {
		t.Errorf("update body title = %v, want Hey", title["nl"])
	}
}

func TestRetryOnRateLimit(t *testing.T) {
	c, fake, waits := newTestClient(t, func(w http.ResponseWriter, r *http.Request, n int) {
		switch n {
		case 1:
			w.Header().Set("X-Contentful-RateLimit-Reset", "3")
			writeJSON(w, http.StatusTooManyRequests, `{"sys":{"id":"RateLimitExceeded"},"message":"slow down"}`)
		case 2:
			writeJSON(w, http.StatusBadGateway, `bad gateway`)
		default:
			writeJSON(w, http.StatusOK, `{"total":0,"items":[]}`)
		}
	})

	if _, err := c.FindEntryBySlug(context.Background(), "product", "slug", "x"); err != nil {
		t.Fatalf("FindEntryBySlug() error = %v", err)
	}
	if len(fake.all()) != 3 {
		t.Errorf("requests = %d, want 3", len(fake.all()))
	}
	want := []time.Duration{3 * time.Second, 2 * time.Second}
	if len(*waits) != len(want) {
		t.Fatalf("waits = %v, want %v", *waits, want)
	}
	for i := range want {
		if (*waits)[i] != want[i] {
			t.Errorf("waits[%d] = %v, want %v", i, (*waits)[i], want[i])
		}
	}
}

func TestRetryExhausted(t *testing.T) {
	c, fake, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request, _ int) {
		writeJSON(w, http.StatusTooManyRequests, `{"sys":{"id":"RateLimitExceeded"},"message":"You have exceeded the rate limit"}`)
	})

	_, err := c.FindEntryBySlug(context.Background(), "product", "slug", "x")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.ID != "RateLimitExceeded" {
		t.Fatalf("error = %v, want RateLimitExceeded APIError", err)
	}
	if got := len(fake.all()); got != 3 {
		t.Errorf("requests = %d, want 3 (1 + 2 retries)", got)
	}
	if got := core.MapError(err).Code; got != "CMS005" {
		t.Errorf("MapError code = %s, want CMS005", got)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantIs   error
		wantCode string
	}{
		{
			name:     "invalid token aborts",
			status:   http.StatusUnauthorized,
			body:     `{"sys":{"id":"AccessTokenInvalid"},"message":"The access token you sent could not be found or is invalid."}`,
			wantIs:   core.ErrUnrecoverable,
			wantCode: "CMS001",
		},
		{
			name:     "forbidden aborts",
			status:   http.StatusForbidden,
			body:     `{"sys":{"id":"AccessDenied"}}`,
			wantIs:   core.ErrUnrecoverable,
			wantCode: "CMS001",
		},
		{
			name:     "version mismatch",
			status:   http.StatusConflict,
			body:     `{"sys":{"id":"VersionMismatch"}}`,
			wantCode: "CMS003",
		},
		{
			name:     "validation failed",
			status:   http.StatusUnprocessableEntity,
			body:     `{"sys":{"id":"ValidationFailed"},"details":{"errors":[{"name":"required","path":["fields","title"]}]}}`,
			wantCode: "CMS004",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, fake, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request, _ int) {
				writeJSON(w, tt.status, tt.body)
			})
			_, err := c.UpdateEntry(context.Background(), &core.Entry{ID: "e", Version: 1})
			if err == nil {
				t.Fatal("UpdateEntry() error = nil")
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("error = %v, want %v", err, tt.wantIs)
			}
			if got := core.MapError(err).Code; got != tt.wantCode {
				t.Errorf("MapError(%q) code = %s, want %s", err, got, tt.wantCode)
			}
			if len(fake.all()) != 1 {
				t.Errorf("requests = %d, want 1 (no retry)", len(fake.all()))
			}
		})
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	c, fake, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request, _ int) {
		writeJSON(w, http.StatusServiceUnavailable, `{"sys":{"id":"ServerError"}}`)
	})
	c.SetSleeper(func(ctx context.Context, d time.Duration) error { return context.Canceled })

	_, err := c.FindEntryBySlug(context.Background(), "product", "slug", "x")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if len(fake.all()) != 1 {
		t.Errorf("requests = %d, want 1", len(fake.all()))
	}
}
