package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	jwtkey "github.com/golang-jwt/jwt/v4"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/jwt"
)

const (
	// DefaultTokenURL is Google's OAuth2 token endpoint.
	DefaultTokenURL = "https://oauth2.googleapis.com/token"
	// ReadOnlyScope grants read access to spreadsheets.
	ReadOnlyScope = "https://www.googleapis.com/auth/spreadsheets.readonly"
)

// TokenSource supplies bearer tokens for API calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// ServiceAccount exchanges a signed service-account assertion for an access
// token. Tokens are cached until shortly before they expire.
type ServiceAccount struct {
	src oauth2.TokenSource
}

// NewServiceAccount parses the PEM private key of a service account.
// Literal "\n" escapes in the key, as found in .env files, are expanded.
func NewServiceAccount(email, privateKey, tokenURL string, client *http.Client) (*ServiceAccount, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, errors.New("sheets: service account email is required")
	}
	pem := strings.ReplaceAll(strings.TrimSpace(privateKey), `\n`, "\n")
	if pem == "" {
		return nil, errors.New("sheets: service account private key is required")
	}
	// Fail at startup rather than on the first token exchange.
	if _, err := jwtkey.ParseRSAPrivateKeyFromPEM([]byte(pem)); err != nil {
		return nil, fmt.Errorf("sheets: parse private key: %w", err)
	}
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}

	conf := &jwt.Config{
		Email:      email,
		PrivateKey: []byte(pem),
		Scopes:     []string{ReadOnlyScope},
		TokenURL:   tokenURL,
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, client)
	return &ServiceAccount{src: conf.TokenSource(ctx)}, nil
}

// Token returns a cached access token or fetches a new one.
func (s *ServiceAccount) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tok, err := s.src.Token()
	if err != nil {
		return "", fmt.Errorf("sheets: token exchange failed: %w", err)
	}
	return tok.AccessToken, nil
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }
