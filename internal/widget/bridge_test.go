package widget

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errx "github.com/connector-chat/server/internal/core/error"
)

func newConfig(baseURL string) Config {
	return Config{
		ClientID:       "cid",
		ClientSecret:   "csecret",
		ExternalUserID: "acme",
		BaseURL:        baseURL,
	}
}

func TestTokenTwoStepExchange(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		switch r.URL.Path {
		case "/account/applications/token":
			assert.Equal(t, "cid", body["client_id"])
			assert.Equal(t, "csecret", body["client_secret"])
			_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "app-123"})
		case "/embedded/widget-token":
			assert.Equal(t, "Bearer app-123", r.Header.Get("Authorization"))
			assert.Equal(t, "acme", body["workspace_name"])
			assert.Equal(t, DefaultAllowedOrigin, body["allowed_origin"])
			_ = json.NewEncoder(w).Encode(map[string]string{"token": "widget-456"})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	tok, err := NewBridge(newConfig(srv.URL)).Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "widget-456", tok)
}

func TestTokenStepOneRejected(t *testing.T) {
	t.Parallel()

	var widgetCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/embedded/widget-token" {
			widgetCalls.Add(1)
		}
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"invalid client"}`))
	}))
	t.Cleanup(srv.Close)

	_, err := NewBridge(newConfig(srv.URL)).Token(context.Background())
	require.Error(t, err)

	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, StepApplicationToken, authErr.Step)
	assert.Equal(t, http.StatusUnauthorized, authErr.Status)
	assert.True(t, errors.Is(err, errx.ErrAuth))
	assert.Zero(t, widgetCalls.Load(), "step two must not run after step one fails")
}

func TestTokenStepTwoRejected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/account/applications/token" {
			_ = json.NewEncoder(w).Encode(map[string]string{"token": "app"})
			return
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	_, err := NewBridge(newConfig(srv.URL)).Token(context.Background())
	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, StepWidgetToken, authErr.Step)
	assert.Equal(t, http.StatusForbidden, authErr.Status)
}

func TestTokenUnexpectedFormat(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"jwt": "x", "expires_in": "60"})
	}))
	t.Cleanup(srv.Close)

	_, err := NewBridge(newConfig(srv.URL)).FetchApplicationToken(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errx.ErrAuth))
	assert.Contains(t, err.Error(), "expires_in, jwt")
}

func TestTokenMissingCredentials(t *testing.T) {
	t.Parallel()

	cfg := newConfig("http://127.0.0.1:1")
	cfg.ClientSecret = ""
	_, err := NewBridge(cfg).Token(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errx.ErrAuth))
	assert.True(t, errors.Is(err, errx.ErrConfiguration))

	cfg = newConfig("http://127.0.0.1:1")
	cfg.ExternalUserID = ""
	_, err = NewBridge(cfg).FetchWidgetToken(context.Background(), "app")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errx.ErrConfiguration))
}

func TestTokenTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	cfg := newConfig(srv.URL)
	cfg.Timeout = 50 * time.Millisecond
	_, err := NewBridge(cfg).Token(context.Background())
	require.Error(t, err)

	var connErr *ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.True(t, connErr.Timeout)
	assert.Equal(t, StepApplicationToken, connErr.Step)
	assert.True(t, errors.Is(err, errx.ErrConnection))
}

func TestHTML(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `<div id="airbyte-widget-token" data-token="abc"></div>`, HTML("abc"))
	assert.Equal(t, `<div id="airbyte-widget-token" data-token="a&#34;&gt;b"></div>`, HTML(`a">b`))
}
