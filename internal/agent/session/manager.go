// Package session runs conversation turns against stored history.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/oklog/ulid/v2"

	"github.com/connector-chat/server/internal/agent/graph"
	"github.com/connector-chat/server/internal/agent/model"
	logx "github.com/connector-chat/server/pkg/logger"
)

// DefaultSessionID is used when a caller does not name a session.
const DefaultSessionID = "default"

// NewID returns a fresh ULID session id.
func NewID() string {
	return ulid.Make().String()
}

// Manager serializes turns per session and commits a turn's messages only
// when the whole turn succeeded.
type Manager struct {
	repo   model.ConversationRepository
	runner graph.Runner

	mu    sync.Mutex
	locks map[string]*sessionLock
}

// sessionLock lives only while some caller holds or waits for it.
type sessionLock struct {
	sem  chan struct{}
	refs int
}

func NewManager(repo model.ConversationRepository, runner graph.Runner) *Manager {
	return &Manager{repo: repo, runner: runner, locks: make(map[string]*sessionLock)}
}

func (m *Manager) lock(ctx context.Context, sessionID string) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sessionLock{sem: make(chan struct{}, 1)}
		m.locks[sessionID] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
		return func() {
			<-l.sem
			m.release(sessionID, l)
		}, nil
	case <-ctx.Done():
		m.release(sessionID, l)
		return nil, ctx.Err()
	}
}

func (m *Manager) release(sessionID string, l *sessionLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, sessionID)
	}
}

// Run executes one turn for sessionID. An empty id maps to DefaultSessionID.
func (m *Manager) Run(ctx context.Context, sessionID, message string) (*model.TurnResult, error) {
	sessionID = normalizeID(sessionID)

	unlock, err := m.lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	history, err := m.repo.LoadHistory(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	var prior []*schema.Message
	if history != nil {
		prior = history.Messages
	}

	start := time.Now()
	res, err := m.runner.Invoke(ctx, model.TurnInput{
		SessionID: sessionID,
		Message:   message,
		History:   prior,
	})
	if err != nil {
		logx.Error().Err(err).Str("session_id", sessionID).Msg("Turn failed; history unchanged")
		return nil, err
	}

	if err := m.repo.AddMessages(ctx, sessionID, res.NewMessages...); err != nil {
		return nil, fmt.Errorf("save turn: %w", err)
	}

	logx.Info().
		Str("session_id", sessionID).
		Int("tool_calls", len(res.ToolCalls)).
		Int("tool_rounds", res.ToolRounds).
		Bool("budget_exhausted", res.BudgetExhausted).
		Float64("cost_usd", res.CostUSD).
		Dur("latency", time.Since(start)).
		Msg("Turn completed")
	return res, nil
}

// Reset clears the stored history of sessionID.
func (m *Manager) Reset(ctx context.Context, sessionID string) error {
	sessionID = normalizeID(sessionID)

	unlock, err := m.lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := m.repo.ClearHistory(ctx, sessionID); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	logx.Info().Str("session_id", sessionID).Msg("History cleared")
	return nil
}

// MessageCount reports how many messages sessionID has stored.
func (m *Manager) MessageCount(ctx context.Context, sessionID string) (int, error) {
	return m.repo.GetMessageCount(ctx, normalizeID(sessionID))
}

func normalizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return DefaultSessionID
	}
	return id
}
