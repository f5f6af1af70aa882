package nodes

import (
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/connector-chat/server/internal/agent/model"
)

// Graph node keys.
const (
	NodeInputConverter  = "InputConverter"
	NodeChatModel       = "ChatModel"
	NodeToolExecutor    = "ToolExecutor"
	NodeBudgetExhausted = "BudgetExhausted"
	NodeFinalize        = "Finalize"
)

// ===== Small helpers to keep handlers simple/readable =====

// budgetReached reports whether another tool round would exceed max.
func budgetReached(state *model.TurnState, max int) bool {
	return state.ToolRounds >= model.NormalizeMaxToolRetries(max)
}

// nextToolCallID synthesizes an id for providers that omit tool_call ids.
func nextToolCallID(state *model.TurnState) string {
	state.ToolCallIDSeq++
	return fmt.Sprintf("call_%d", state.ToolCallIDSeq)
}

// appendTurnMessages adds messages to both the model context and the
// messages committed when the turn succeeds.
func appendTurnMessages(state *model.TurnState, msgs ...*schema.Message) {
	for _, m := range msgs {
		if m == nil {
			continue
		}
		state.Context = append(state.Context, m)
		state.NewMessages = append(state.NewMessages, m)
	}
}
