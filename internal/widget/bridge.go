// Package widget exchanges hosted-API client credentials for a short-lived
// token scoped to one workspace, which the embeddable connector widget uses
// to authenticate in the browser.
package widget

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	errx "github.com/connector-chat/server/internal/core/error"
	logx "github.com/connector-chat/server/pkg/logger"
)

const (
	DefaultBaseURL       = "https://api.airbyte.ai/api/v1"
	DefaultAllowedOrigin = "http://localhost:8000"
	DefaultTimeout       = 10 * time.Second

	applicationTokenPath = "/account/applications/token"
	widgetTokenPath      = "/embedded/widget-token"
)

// Config carries the credentials and endpoint settings for the exchange.
type Config struct {
	ClientID       string        `envconfig:"AC_AIRBYTE_CLIENT_ID"`
	ClientSecret   string        `envconfig:"AC_AIRBYTE_CLIENT_SECRET"`
	ExternalUserID string        `envconfig:"AC_EXTERNAL_USER_ID"`
	BaseURL        string        `envconfig:"AC_AIRBYTE_API_BASE" default:"https://api.airbyte.ai/api/v1"`
	AllowedOrigin  string        `envconfig:"AC_WIDGET_ALLOWED_ORIGIN" default:"http://localhost:8000"`
	Timeout        time.Duration `envconfig:"AC_WIDGET_TIMEOUT" default:"10s"`
}

// Step names the half of the exchange an error came from.
type Step string

const (
	StepApplicationToken Step = "application_token"
	StepWidgetToken      Step = "widget_token"
)

// AuthError reports rejected or missing credentials, or a response without a token.
// It matches errx.ErrAuth, and errx.ErrConfiguration when credentials are missing.
type AuthError struct {
	Step   Step
	Status int
	Detail string
	// Missing is set when the local environment lacks a credential.
	Missing bool
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("widget %s: authentication failed with status %d: %s", e.Step, e.Status, e.Detail)
	}
	return fmt.Sprintf("widget %s: authentication failed: %s", e.Step, e.Detail)
}

func (e *AuthError) Unwrap() []error {
	if e.Missing {
		return []error{errx.ErrAuth, errx.ErrConfiguration}
	}
	return []error{errx.ErrAuth}
}

// ConnectionError reports a timeout or transport failure. It matches errx.ErrConnection.
type ConnectionError struct {
	Step    Step
	Timeout bool
	Err     error
}

func (e *ConnectionError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("widget %s: request timed out: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("widget %s: connection failed: %v", e.Step, e.Err)
}

func (e *ConnectionError) Unwrap() []error {
	return []error{errx.ErrConnection, e.Err}
}

// Bridge performs the two-step token exchange. Nothing is cached and
// nothing is retried: every Token call hits both endpoints.
type Bridge struct {
	cfg    Config
	client *http.Client
}

type Option func(*Bridge)

// WithHTTPClient replaces the default client. Its Timeout is left untouched.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Bridge) { b.client = c }
}

func NewBridge(cfg Config, opts ...Option) *Bridge {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.AllowedOrigin == "" {
		cfg.AllowedOrigin = DefaultAllowedOrigin
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	b := &Bridge{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Token runs both steps and returns the widget token.
func (b *Bridge) Token(ctx context.Context) (string, error) {
	appToken, err := b.FetchApplicationToken(ctx)
	if err != nil {
		return "", err
	}
	return b.FetchWidgetToken(ctx, appToken)
}

// FetchApplicationToken exchanges client_id/client_secret for an application token.
func (b *Bridge) FetchApplicationToken(ctx context.Context) (string, error) {
	if strings.TrimSpace(b.cfg.ClientID) == "" || strings.TrimSpace(b.cfg.ClientSecret) == "" {
		return "", &AuthError{
			Step:    StepApplicationToken,
			Detail:  "AC_AIRBYTE_CLIENT_ID and AC_AIRBYTE_CLIENT_SECRET must be set",
			Missing: true,
		}
	}
	return b.post(ctx, StepApplicationToken, applicationTokenPath, "", map[string]string{
		"client_id":     b.cfg.ClientID,
		"client_secret": b.cfg.ClientSecret,
	})
}

// FetchWidgetToken exchanges an application token for a workspace-scoped widget token.
func (b *Bridge) FetchWidgetToken(ctx context.Context, appToken string) (string, error) {
	if strings.TrimSpace(b.cfg.ExternalUserID) == "" {
		return "", &AuthError{
			Step:    StepWidgetToken,
			Detail:  "AC_EXTERNAL_USER_ID must be set",
			Missing: true,
		}
	}
	return b.post(ctx, StepWidgetToken, widgetTokenPath, appToken, map[string]string{
		"workspace_name": b.cfg.ExternalUserID,
		"allowed_origin": b.cfg.AllowedOrigin,
	})
}

func (b *Bridge) post(ctx context.Context, step Step, path, bearer string, payload map[string]string) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("widget %s: marshal request: %w", step, err)
	}

	url := strings.TrimRight(b.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", &ConnectionError{Step: step, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		logx.Warn().Err(err).Str("step", string(step)).Msg("Widget token request failed")
		return "", &ConnectionError{Step: step, Timeout: isTimeout(err), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &ConnectionError{Step: step, Timeout: isTimeout(err), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &AuthError{Step: step, Status: resp.StatusCode, Detail: strings.TrimSpace(string(raw))}
	}

	return extractToken(step, raw)
}

// extractToken reads "token", falling back to "access_token".
func extractToken(step Step, raw []byte) (string, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", &AuthError{Step: step, Detail: "unexpected response format: body is not a JSON object"}
	}
	for _, key := range []string{"token", "access_token"} {
		if v, ok := fields[key].(string); ok && v != "" {
			return v, nil
		}
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return "", &AuthError{
		Step:   step,
		Detail: fmt.Sprintf("unexpected response format: no token field (keys: %s)", strings.Join(keys, ", ")),
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
