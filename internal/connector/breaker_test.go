package connector

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errx "github.com/connector-chat/server/internal/core/error"
)

type stubConnector struct {
	service Service
	err     error
	calls   int
}

func (s *stubConnector) Service() Service { return s.service }

func (s *stubConnector) Execute(ctx context.Context, entity, action string, params map[string]any) (map[string]any, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return map[string]any{"entity": entity, "action": action}, nil
}

func TestBreakerOpensOnConnectionFailures(t *testing.T) {
	t.Parallel()

	inner := &stubConnector{service: Gong, err: fmt.Errorf("%w: refused", errx.ErrConnection)}
	b := WithBreaker(inner, BreakerConfig{MaxFailures: 2, Timeout: time.Hour})

	for i := 0; i < 2; i++ {
		_, err := b.Execute(context.Background(), "users", "list", nil)
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := b.Execute(context.Background(), "users", "list", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errx.ErrConnection))
	assert.Equal(t, 2, inner.calls, "open breaker must not reach the connector")
}

func TestBreakerIgnoresOperationFailures(t *testing.T) {
	t.Parallel()

	inner := &stubConnector{service: HubSpot, err: fmt.Errorf("%w: unknown entity", errx.ErrToolExecution)}
	b := WithBreaker(inner, BreakerConfig{MaxFailures: 1, Timeout: time.Hour})

	for i := 0; i < 3; i++ {
		_, err := b.Execute(context.Background(), "widgets", "list", nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errx.ErrToolExecution))
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
	assert.Equal(t, 3, inner.calls)
}

func TestResolveDependencies(t *testing.T) {
	t.Parallel()

	none := ResolveDependencies(Credentials{}, AllServices, ResolveOptions{})
	assert.Nil(t, none.Gong)
	assert.Nil(t, none.HubSpot)
	assert.Nil(t, none.Linear)
	assert.Empty(t, none.Configured())

	creds := Credentials{ClientID: "id", ClientSecret: "secret", BaseURL: "http://127.0.0.1:1"}
	deps := ResolveDependencies(creds, []Service{Gong, Linear}, ResolveOptions{Tokens: &countingTokens{}})
	assert.NotNil(t, deps.Gong)
	assert.Nil(t, deps.HubSpot)
	assert.NotNil(t, deps.Linear)
	assert.Equal(t, []Service{Gong, Linear}, deps.Configured())
	assert.Equal(t, Linear, deps.For(Linear).Service())
}
