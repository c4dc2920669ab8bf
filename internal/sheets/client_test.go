package sheets

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/golang-jwt/jwt/v4"

	"github.com/JonMunkholm/sheetimport/internal/core"
)

func testKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	block := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	return key, string(block)
}

const jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// tokenServer verifies the signed assertion and answers with a token that
// expires after expiresIn seconds.
func tokenServer(t *testing.T, key *rsa.PrivateKey, expiresIn int, exchanges *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := exchanges.Add(1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm() error = %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != jwtBearerGrant {
			t.Errorf("grant_type = %q, want %q", got, jwtBearerGrant)
		}
		parser := jwt.NewParser(jwt.WithoutClaimsValidation())
		token, err := parser.Parse(r.PostForm.Get("assertion"), func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodRSA); !ok {
				t.Errorf("signing method = %v, want RS256", tok.Header["alg"])
			}
			return &key.PublicKey, nil
		})
		if err != nil {
			t.Errorf("assertion does not verify: %v", err)
			http.Error(w, "bad assertion", http.StatusBadRequest)
			return
		}
		claims := token.Claims.(jwt.MapClaims)
		if claims["iss"] != "importer@example.iam.gserviceaccount.com" {
			t.Errorf("iss = %v", claims["iss"])
		}
		if claims["scope"] != ReadOnlyScope {
			t.Errorf("scope = %v, want %q", claims["scope"], ReadOnlyScope)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": fmt.Sprintf("tok-%d", n),
			"expires_in":   expiresIn,
			"token_type":   "Bearer",
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestServiceAccount_TokenExchangeAndCache(t *testing.T) {
	key, pemKey := testKey(t)
	var exchanges atomic.Int32
	srv := tokenServer(t, key, 3600, &exchanges)

	// Keys from .env files carry literal \n escapes.
	escaped := strings.ReplaceAll(pemKey, "\n", `\n`)
	sa, err := NewServiceAccount("importer@example.iam.gserviceaccount.com", escaped, srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("NewServiceAccount() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		tok, err := sa.Token(context.Background())
		if err != nil {
			t.Fatalf("Token() error = %v", err)
		}
		if tok != "tok-1" {
			t.Errorf("Token() = %q, want %q", tok, "tok-1")
		}
	}
	if got := exchanges.Load(); got != 1 {
		t.Errorf("exchanges = %d, want 1 (cached)", got)
	}
}

func TestServiceAccount_RefreshesExpiringToken(t *testing.T) {
	key, pemKey := testKey(t)
	var exchanges atomic.Int32
	// Tokens this close to expiry are never reused.
	srv := tokenServer(t, key, 1, &exchanges)

	sa, err := NewServiceAccount("importer@example.iam.gserviceaccount.com", pemKey, srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("NewServiceAccount() error = %v", err)
	}
	first, err := sa.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	second, err := sa.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if first == second {
		t.Errorf("Token() reused %q, want a fresh token", first)
	}
	if got := exchanges.Load(); got != 2 {
		t.Errorf("exchanges = %d, want 2", got)
	}
}

func TestServiceAccount_CanceledContext(t *testing.T) {
	key, pemKey := testKey(t)
	var exchanges atomic.Int32
	srv := tokenServer(t, key, 3600, &exchanges)

	sa, err := NewServiceAccount("importer@example.iam.gserviceaccount.com", pemKey, srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("NewServiceAccount() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := sa.Token(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Token() error = %v, want context.Canceled", err)
	}
	if got := exchanges.Load(); got != 0 {
		t.Errorf("exchanges = %d, want 0", got)
	}
}

func TestServiceAccount_ExchangeFailure(t *testing.T) {
	_, pemKey := testKey(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid JWT Signature."}`))
	}))
	defer srv.Close()

	sa, err := NewServiceAccount("a@b.c", pemKey, srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("NewServiceAccount() error = %v", err)
	}
	_, err = sa.Token(context.Background())
	if err == nil || !strings.Contains(err.Error(), "token exchange") {
		t.Fatalf("Token() error = %v, want token exchange failure", err)
	}
	if !strings.Contains(err.Error(), "Invalid JWT Signature.") {
		t.Errorf("error %q does not carry the description", err)
	}
	if got := core.MapError(err).Code; got != "SRC004" {
		t.Errorf("MapError code = %s, want SRC004", got)
	}
}

func TestNewServiceAccount_Validation(t *testing.T) {
	_, pemKey := testKey(t)
	tests := []struct {
		name, email, key string
	}{
		{"no email", "", pemKey},
		{"no key", "a@b.c", ""},
		{"bad key", "a@b.c", "not a key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewServiceAccount(tt.email, tt.key, "", nil); err == nil {
				t.Error("NewServiceAccount() error = nil, want error")
			}
		})
	}
}

func TestClient_FetchRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer tok")
		}
		if want := "/v4/spreadsheets/sheet-1/values/Products 2024!A1:Z"; r.URL.Path != want {
			t.Errorf("path = %q, want %q", r.URL.Path, want)
		}
		_, _ = w.Write([]byte(`{
			"range": "'Products 2024'!A1:Z3",
			"majorDimension": "ROWS",
			"values": [
				[" Slug ", "Title", "Price"],
				["hello-world", " Hi ", 12.5],
				["second"]
			]
		}`))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, Tokens: StaticToken("tok"), HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	records, err := c.FetchRecords(context.Background(), "sheet-1", "Products 2024!A1:Z")
	if err != nil {
		t.Fatalf("FetchRecords() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	if got := records[0]; got["Slug"] != "hello-world" || got["Title"] != "Hi" || got["Price"] != "12.5" {
		t.Errorf("records[0] = %v", got)
	}
	if got := records[1]; got["Slug"] != "second" || got["Title"] != "" || got["Price"] != "" {
		t.Errorf("records[1] = %v, want empty trailing cells", got)
	}
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantIs  error
		wantMsg string
	}{
		{
			name:    "bad range",
			status:  http.StatusBadRequest,
			body:    `{"error":{"code":400,"message":"Unable to parse range: Nope!A1:Z","status":"INVALID_ARGUMENT"}}`,
			wantIs:  core.ErrValidation,
			wantMsg: "Unable to parse range",
		},
		{
			name:    "missing spreadsheet",
			status:  http.StatusNotFound,
			body:    `{"error":{"code":404,"message":"Requested entity was not found.","status":"NOT_FOUND"}}`,
			wantIs:  core.ErrNotFound,
			wantMsg: "Requested entity was not found.",
		},
		{
			name:    "not shared",
			status:  http.StatusForbidden,
			body:    `{"error":{"code":403,"message":"The caller does not have permission","status":"PERMISSION_DENIED"}}`,
			wantMsg: "does not have permission",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, _ := New(Config{BaseURL: srv.URL, Tokens: StaticToken("tok"), HTTPClient: srv.Client()})
			_, err := c.FetchRecords(context.Background(), "sheet-1", "A1:Z")
			if err == nil {
				t.Fatal("FetchRecords() error = nil")
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("error = %v, want %v", err, tt.wantIs)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantMsg)
			}
		})
	}
}

func TestClient_EmptyRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"range":"Sheet1!A1:Z1","values":[["Slug","Title"]]}`))
	}))
	defer srv.Close()

	c, _ := New(Config{BaseURL: srv.URL, Tokens: StaticToken("tok"), HTTPClient: srv.Client()})
	_, err := c.FetchRecords(context.Background(), "sheet-1", "Sheet1!A1:Z")
	if !errors.Is(err, core.ErrEmptySource) {
		t.Errorf("FetchRecords() error = %v, want ErrEmptySource", err)
	}
}
