package conversations

import (
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connector-chat/server/internal/agent/model"
)

func toolRound(id string) []*schema.Message {
	return []*schema.Message{
		schema.AssistantMessage("", []schema.ToolCall{{ID: id, Function: schema.FunctionCall{Name: "get_current_date", Arguments: "{}"}}}),
		schema.ToolMessage(`"2025-01-01T00:00:00Z"`, id),
	}
}

func TestBuildTurnContext(t *testing.T) {
	t.Parallel()

	mm := NewMessagesManager(model.ConversationConfig{})
	history := []*schema.Message{schema.UserMessage("hi"), schema.AssistantMessage("hello", nil)}

	msgs, user := mm.BuildTurnContext("be helpful", history, "List all contacts in HubSpot")
	require.Len(t, msgs, 4)
	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Equal(t, "hi", msgs[1].Content)
	assert.Same(t, user, msgs[3])
	assert.Equal(t, "List all contacts in HubSpot", user.Content)
}

func TestTrimTailStartsAtUserMessage(t *testing.T) {
	t.Parallel()

	var history []*schema.Message
	history = append(history, schema.UserMessage("first"))
	history = append(history, toolRound("call_1")...)
	history = append(history, schema.AssistantMessage("done", nil))
	history = append(history, schema.UserMessage("second"))
	history = append(history, schema.AssistantMessage("ok", nil))

	// a window of 5 would start on the tool result; it must skip to "second"
	got := trimTail(history, 5)
	require.Len(t, got, 2)
	assert.Equal(t, "second", got[0].Content)

	assert.Len(t, trimTail(history, 0), len(history))
	assert.Len(t, trimTail(history, 100), len(history))
}

func TestTrimTailKeepsTurnLongerThanWindow(t *testing.T) {
	t.Parallel()

	var history []*schema.Message
	history = append(history, schema.UserMessage("first"))
	history = append(history, schema.AssistantMessage("hello", nil))
	history = append(history, schema.UserMessage("List calls in Gong"))
	history = append(history, toolRound("call_1")...)
	history = append(history, toolRound("call_2")...)
	history = append(history, toolRound("call_3")...)
	history = append(history, schema.AssistantMessage("here are the calls", nil))

	got := trimTail(history, 4)
	require.Len(t, got, 8)
	assert.Equal(t, schema.User, got[0].Role)
	assert.Equal(t, "List calls in Gong", got[0].Content)
	assert.Equal(t, "here are the calls", got[len(got)-1].Content)

	mm := NewMessagesManager(model.ConversationConfig{MaxContextMessages: 4})
	msgs, _ := mm.BuildTurnContext("", history, "and the users?")
	require.Len(t, msgs, 9)
	assert.Equal(t, "List calls in Gong", msgs[0].Content)
}
