package model

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/schema"
)

// TurnState stores per-invocation state for the Eino Graph.
// Concurrency model:
//   - This struct is registered as Graph Local State via compose.WithGenLocalState.
//   - All reads/writes happen only inside Eino state handlers:
//     WithStatePreHandler, WithStatePostHandler, or compose.ProcessState.
//   - Eino serializes access to state within these handlers, so no additional
//     mutex/atomic is required as long as you never touch it outside handlers.
type TurnState struct {
	SessionID string
	// Context is what the model sees: system prompt, prior history and this turn so far.
	Context []*schema.Message
	// NewMessages is what gets committed to history when the turn succeeds.
	NewMessages     []*schema.Message
	ToolRounds      int
	BudgetExhausted bool
	ToolCallIDSeq   int // local sequence to synthesize tool_call_id when provider omits

	// Accumulated total LLM cost (USD) across model invocations for this turn
	TotalCostUSD float64
}

// TurnInput is one user message plus the session history it continues.
type TurnInput struct {
	SessionID string            `json:"session_id"`
	Message   string            `json:"message"`
	History   []*schema.Message `json:"-"`
}

// TurnResult is the outcome of a completed turn.
type TurnResult struct {
	Reply           string
	NewMessages     []*schema.Message
	ToolCalls       []ToolInvocationEvent
	ToolRounds      int
	BudgetExhausted bool
	CostUSD         float64
}

// ToolInvocationEvent records one tool call made by the model.
type ToolInvocationEvent struct {
	ToolName string         `json:"tool_name"`
	Args     map[string]any `json:"args"`
}

// EventObserver is notified of tool invocations in call order.
type EventObserver interface {
	OnToolInvocation(ctx context.Context, ev ToolInvocationEvent)
}

// BudgetExhaustedReply is the deterministic reply used when a turn runs out of tool rounds.
func BudgetExhaustedReply(maxRounds int) string {
	return fmt.Sprintf(
		"I couldn't finish this request within the limit of %d tool calls. "+
			"Please try a narrower question, for example a specific entity or a smaller result set.",
		maxRounds,
	)
}
