package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connector-chat/server/internal/agent/model"
	"github.com/connector-chat/server/internal/agent/repo"
)

type stubRunner struct {
	err      error
	inflight atomic.Int32
	overlap  atomic.Bool
	seen     [][]*schema.Message
	mu       sync.Mutex
}

func (s *stubRunner) Invoke(ctx context.Context, in model.TurnInput) (*model.TurnResult, error) {
	if s.inflight.Add(1) > 1 {
		s.overlap.Store(true)
	}
	defer s.inflight.Add(-1)
	time.Sleep(5 * time.Millisecond)

	s.mu.Lock()
	s.seen = append(s.seen, in.History)
	s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	return &model.TurnResult{
		Reply: "ok",
		NewMessages: []*schema.Message{
			schema.UserMessage(in.Message),
			schema.AssistantMessage("ok", nil),
		},
	}, nil
}

func TestRunCommitsOnSuccess(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := repo.NewMemoryConversationRepository()
	runner := &stubRunner{}
	m := NewManager(store, runner)

	res, err := m.Run(ctx, "s1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Reply)

	_, err = m.Run(ctx, "s1", "again")
	require.NoError(t, err)

	n, err := m.MessageCount(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	require.Len(t, runner.seen, 2)
	assert.Len(t, runner.seen[1], 2)
}

func TestRunLeavesHistoryOnFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := repo.NewMemoryConversationRepository()
	require.NoError(t, store.AddMessages(ctx, "s1", schema.UserMessage("before")))

	m := NewManager(store, &stubRunner{err: errors.New("model down")})
	_, err := m.Run(ctx, "s1", "hello")
	require.Error(t, err)

	h, err := store.LoadHistory(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, h.Messages, 1)
	assert.Equal(t, "before", h.Messages[0].Content)
}

func TestRunSerializesSameSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	runner := &stubRunner{}
	m := NewManager(repo.NewMemoryConversationRepository(), runner)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Run(ctx, "", "hi")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.False(t, runner.overlap.Load())
	n, err := m.MessageCount(ctx, DefaultSessionID)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestResetClearsHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewManager(repo.NewMemoryConversationRepository(), &stubRunner{})

	_, err := m.Run(ctx, "s1", "hello")
	require.NoError(t, err)
	require.NoError(t, m.Reset(ctx, "s1"))

	n, err := m.MessageCount(ctx, "s1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunHonoursContextWhileWaiting(t *testing.T) {
	t.Parallel()
	m := NewManager(repo.NewMemoryConversationRepository(), &stubRunner{})

	unlock, err := m.lock(context.Background(), "s1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = m.Run(ctx, "s1", "hello")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewID(t *testing.T) {
	t.Parallel()
	a, b := NewID(), NewID()
	assert.Len(t, a, 26)
	assert.NotEqual(t, a, b)
}

func (m *Manager) lockCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func TestIdleSessionLocksAreDropped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewManager(repo.NewMemoryConversationRepository(), &stubRunner{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Run(ctx, fmt.Sprintf("s%d", i%4), "hi")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	require.NoError(t, m.Reset(ctx, "s0"))
	assert.Zero(t, m.lockCount())

	unlock, err := m.lock(ctx, "busy")
	require.NoError(t, err)
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = m.Run(waitCtx, "busy", "hello")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, m.lockCount())

	unlock()
	assert.Zero(t, m.lockCount())
}
