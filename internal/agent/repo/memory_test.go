package repo

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryConversationRepository(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := NewMemoryConversationRepository()

	require.NoError(t, r.AddMessages(ctx, "s1",
		schema.UserMessage("hi"),
		schema.AssistantMessage("hello", nil),
	))
	require.NoError(t, r.AddMessages(ctx, "s2", schema.UserMessage("other")))

	h, err := r.LoadHistory(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, h.Messages, 2)
	assert.Equal(t, schema.User, h.Messages[0].Role)
	assert.Equal(t, "hello", h.Messages[1].Content)

	// mutating the returned slice must not leak into the store
	h.Messages = append(h.Messages, schema.UserMessage("extra"))
	n, err := r.GetMessageCount(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, r.ClearHistory(ctx, "s1"))
	h, err = r.LoadHistory(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, h.Messages)

	n, err = r.GetMessageCount(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
