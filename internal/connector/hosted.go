package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	errx "github.com/connector-chat/server/internal/core/error"
	logx "github.com/connector-chat/server/pkg/logger"
)

// HostedConnector runs operations through the hosted connector API.
type HostedConnector struct {
	service Service
	creds   Credentials
	tokens  TokenSource
	client  *http.Client
}

func NewHostedConnector(s Service, creds Credentials, tokens TokenSource) *HostedConnector {
	return &HostedConnector{
		service: s,
		creds:   creds,
		tokens:  tokens,
		client:  &http.Client{Timeout: creds.Timeout},
	}
}

func (h *HostedConnector) Service() Service { return h.service }

type executeRequest struct {
	ExternalUserID string         `json:"external_user_id"`
	Entity         string         `json:"entity"`
	Action         string         `json:"action"`
	Params         map[string]any `json:"params"`
}

func (h *HostedConnector) Execute(ctx context.Context, entity, action string, params map[string]any) (map[string]any, error) {
	if params == nil {
		params = map[string]any{}
	}
	token, err := h.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(executeRequest{
		ExternalUserID: h.creds.Workspace(),
		Entity:         entity,
		Action:         action,
		Params:         params,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal params: %v", errx.ErrToolExecution, err)
	}

	path := strings.ReplaceAll(h.creds.ExecutePath, "{service}", string(h.service))
	url := strings.TrimRight(h.creds.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", errx.ErrToolExecution, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	logx.Debug().
		Str("connector", string(h.service)).
		Str("entity", entity).
		Str("action", action).
		Msg("Executing connector operation")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", errx.ErrConnection, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		if c, ok := h.tokens.(*CachedTokenSource); ok {
			c.Invalidate()
		}
		return nil, fmt.Errorf("%w: %s %s.%s returned %d", errx.ErrAuth, h.service, entity, action, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%w: %s %s.%s returned %d: %s",
			errx.ErrToolExecution, h.service, entity, action, resp.StatusCode, truncate(string(raw), 300))
	}

	out := map[string]any{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return out, nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", errx.ErrToolExecution, err)
	}
	if m, ok := decoded.(map[string]any); ok {
		return m, nil
	}
	// list endpoints may answer with a bare array
	out["data"] = decoded
	return out, nil
}

var _ Connector = (*HostedConnector)(nil)
