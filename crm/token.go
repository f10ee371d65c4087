package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// TokenProvider hands out access tokens for the business data platform. It is
// deliberately small so deployments can swap in a different auth scheme
// without touching the engine.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenProvider returns a fixed token. Used in tests and for
// deployments that terminate auth upstream.
type StaticTokenProvider string

func (s StaticTokenProvider) Token(ctx context.Context) (string, error) {
	return string(s), nil
}

type clientCredentialsProvider struct {
	tokenURL     string
	clientId     string
	clientSecret string
	scope        string
	http         *http.Client

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewTokenProvider builds a client-credentials provider from env. Tokens are
// cached until shortly before expiry; refresh is serialized under a mutex so
// concurrent callers trigger a single upstream request.
func NewTokenProvider() (TokenProvider, error) {
	tokenURL := strings.TrimSpace(os.Getenv("STORE_TOKEN_URL"))
	clientId := strings.TrimSpace(os.Getenv("STORE_CLIENT_ID"))
	clientSecret := strings.TrimSpace(os.Getenv("STORE_CLIENT_SECRET"))
	if tokenURL == "" || clientId == "" || clientSecret == "" {
		return nil, errors.New("STORE_TOKEN_URL, STORE_CLIENT_ID and STORE_CLIENT_SECRET are required")
	}
	return &clientCredentialsProvider{
		tokenURL:     tokenURL,
		clientId:     clientId,
		clientSecret: clientSecret,
		scope:        strings.TrimSpace(os.Getenv("STORE_SCOPE")),
		http:         &http.Client{Timeout: 15 * time.Second},
	}, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (p *clientCredentialsProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// 60s skew so a token never expires mid-request.
	if p.token != "" && time.Now().Add(60*time.Second).Before(p.expiry) {
		return p.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", p.clientId)
	form.Set("client_secret", p.clientSecret)
	if p.scope != "" {
		form.Set("scope", p.scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("token endpoint error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", err
	}
	if parsed.AccessToken == "" {
		return "", errors.New("token endpoint returned empty access_token")
	}

	p.token = parsed.AccessToken
	p.expiry = time.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second)
	return p.token, nil
}
