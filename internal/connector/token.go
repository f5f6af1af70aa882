package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	errx "github.com/connector-chat/server/internal/core/error"
)

const applicationTokenPath = "/account/applications/token"

// TokenSource yields a bearer token for the hosted API.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// HostedTokenSource exchanges client credentials for an application token on every call.
type HostedTokenSource struct {
	creds  Credentials
	client *http.Client
}

func NewHostedTokenSource(creds Credentials) *HostedTokenSource {
	return &HostedTokenSource{creds: creds, client: &http.Client{Timeout: creds.Timeout}}
}

func (s *HostedTokenSource) Token(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{
		"client_id":     s.creds.ClientID,
		"client_secret": s.creds.ClientSecret,
	})
	if err != nil {
		return "", fmt.Errorf("marshal token request: %w", err)
	}
	url := strings.TrimRight(s.creds.BaseURL, "/") + applicationTokenPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: build token request: %v", errx.ErrConnection, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: application token request returned %d: %s", errx.ErrAuth, resp.StatusCode, truncate(string(raw), 200))
	}

	var out struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%w: decode application token: %v", errx.ErrAuth, err)
	}
	if out.Token != "" {
		return out.Token, nil
	}
	if out.AccessToken != "" {
		return out.AccessToken, nil
	}
	return "", fmt.Errorf("%w: application token response has no token", errx.ErrAuth)
}

// DefaultTokenTTL is how long a cached application token is reused.
const DefaultTokenTTL = 10 * time.Minute

// CachedTokenSource reuses a token until its TTL passes.
type CachedTokenSource struct {
	inner TokenSource
	ttl   time.Duration
	now   func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewCachedTokenSource wraps inner; ttl <= 0 uses DefaultTokenTTL.
func NewCachedTokenSource(inner TokenSource, ttl time.Duration) *CachedTokenSource {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &CachedTokenSource{inner: inner, ttl: ttl, now: time.Now}
}

func (c *CachedTokenSource) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.expiresAt) {
		return c.token, nil
	}
	tok, err := c.inner.Token(ctx)
	if err != nil {
		return "", err
	}
	c.token = tok
	c.expiresAt = c.now().Add(c.ttl)
	return tok, nil
}

// Invalidate drops the cached token so the next call fetches a new one.
func (c *CachedTokenSource) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: request timed out: %v", errx.ErrConnection, err)
	}
	return fmt.Errorf("%w: %v", errx.ErrConnection, err)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
