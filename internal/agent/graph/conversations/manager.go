package conversations

import (
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/connector-chat/server/internal/agent/model"
)

// MessagesManager turns stored history into model context.
type MessagesManager struct {
	maxContextMessages int
}

func NewMessagesManager(config model.ConversationConfig) *MessagesManager {
	return &MessagesManager{maxContextMessages: config.MaxContextMessages}
}

// BuildTurnContext returns [system, history..., user] and the user message
// that starts this turn.
func (cm *MessagesManager) BuildTurnContext(systemPrompt string, history []*schema.Message, query string) ([]*schema.Message, *schema.Message) {
	userMsg := schema.UserMessage(query)

	recent := trimTail(history, cm.maxContextMessages)
	messages := make([]*schema.Message, 0, len(recent)+2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, schema.SystemMessage(systemPrompt))
	}
	messages = append(messages, recent...)
	messages = append(messages, userMsg)

	return messages, userMsg
}

// ====================== Helper function ======================

// trimTail keeps at most maxMessages of the newest messages, starting at a
// user message so a tool result is never separated from the call that asked for it.
// A newest turn longer than the window is kept whole.
func trimTail(messages []*schema.Message, maxMessages int) []*schema.Message {
	if maxMessages <= 0 || len(messages) <= maxMessages {
		result := make([]*schema.Message, 0, len(messages))
		for _, m := range messages {
			if m != nil {
				result = append(result, m)
			}
		}
		return result
	}

	start := len(messages) - maxMessages
	for start < len(messages) && !isUser(messages[start]) {
		start++
	}
	if start == len(messages) {
		start = len(messages) - maxMessages
		for start > 0 && !isUser(messages[start]) {
			start--
		}
	}
	source := messages[start:]
	result := make([]*schema.Message, 0, len(source))
	for _, m := range source {
		if m != nil {
			result = append(result, m)
		}
	}
	return result
}

func isUser(m *schema.Message) bool {
	return m != nil && m.Role == schema.User
}
