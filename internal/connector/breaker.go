package connector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	errx "github.com/connector-chat/server/internal/core/error"
	logx "github.com/connector-chat/server/pkg/logger"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// BreakerConfig configures the per-connector circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32        `envconfig:"CONNECTOR_BREAKER_MAX_FAILURES" default:"5"`
	Timeout     time.Duration `envconfig:"CONNECTOR_BREAKER_TIMEOUT" default:"30s"`
	Interval    time.Duration `envconfig:"CONNECTOR_BREAKER_INTERVAL" default:"60s"`
}

// BreakerConnector fails fast after repeated transport or auth failures.
type BreakerConnector struct {
	inner   Connector
	breaker *gobreaker.CircuitBreaker[map[string]any]
}

// WithBreaker wraps inner. Zero config values use the defaults.
func WithBreaker(inner Connector, cfg BreakerConfig) *BreakerConnector {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[map[string]any](gobreaker.Settings{
		Name:        "connector:" + string(inner.Service()),
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logx.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
		// Operation-level failures (bad entity, 4xx from the service) say
		// nothing about connector health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errx.ErrToolExecution)
		},
	})

	return &BreakerConnector{inner: inner, breaker: cb}
}

func (b *BreakerConnector) Service() Service { return b.inner.Service() }

func (b *BreakerConnector) Execute(ctx context.Context, entity, action string, params map[string]any) (map[string]any, error) {
	out, err := b.breaker.Execute(func() (map[string]any, error) {
		return b.inner.Execute(ctx, entity, action, params)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s connector circuit open: %v", errx.ErrConnection, b.inner.Service(), err)
		}
		return nil, err
	}
	return out, nil
}

// State returns the current circuit breaker state for monitoring.
func (b *BreakerConnector) State() gobreaker.State {
	return b.breaker.State()
}

var _ Connector = (*BreakerConnector)(nil)
