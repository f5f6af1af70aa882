package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/connector-chat/server/internal/agent/graph/conversations"
	"github.com/connector-chat/server/internal/agent/model"
	errx "github.com/connector-chat/server/internal/core/error"
	logx "github.com/connector-chat/server/pkg/logger"
)

// PromptRenderer produces the system prompt for a turn.
type PromptRenderer func(ctx context.Context) (string, error)

// NewInputConverterPreHandler creates the pre-handler for InputConverter node
func NewInputConverterPreHandler() func(context.Context, model.TurnInput, *model.TurnState) (model.TurnInput, error) {
	return func(ctx context.Context, in model.TurnInput, s *model.TurnState) (model.TurnInput, error) {
		s.SessionID = in.SessionID
		s.Context = nil
		s.NewMessages = nil
		s.ToolRounds = 0
		s.BudgetExhausted = false
		s.ToolCallIDSeq = 0
		s.TotalCostUSD = 0
		return in, nil
	}
}

// NewInputConverterNode builds [system, history..., user] for the chat model.
func NewInputConverterNode(mm *conversations.MessagesManager, render PromptRenderer) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, input model.TurnInput) ([]*schema.Message, error) {
		if strings.TrimSpace(input.Message) == "" {
			return nil, fmt.Errorf("%w: message is empty", errx.ErrValidation)
		}

		systemPrompt, err := render(ctx)
		if err != nil {
			return nil, fmt.Errorf("render system prompt: %w", err)
		}

		messages, userMsg := mm.BuildTurnContext(systemPrompt, input.History, input.Message)

		err = compose.ProcessState(ctx, func(_ context.Context, state *model.TurnState) error {
			state.Context = messages
			state.NewMessages = []*schema.Message{userMsg}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}
		return messages, nil
	})
}

// NewChatModelPreHandler feeds the accumulated context to the model. The
// incoming value is either the converter output or tool results, both of
// which are already in state.
func NewChatModelPreHandler() func(context.Context, []*schema.Message, *model.TurnState) ([]*schema.Message, error) {
	return func(ctx context.Context, in []*schema.Message, state *model.TurnState) ([]*schema.Message, error) {
		logx.Debug().
			Str("session_id", state.SessionID).
			Int("tool_rounds", state.ToolRounds).
			Int("context_messages", len(state.Context)).
			Msg("AI thinking...")
		return state.Context, nil
	}
}

// NewChatModelPostHandler records cost, fills missing tool-call ids and
// appends the reply, unless it asks for tools after the budget is spent.
func NewChatModelPostHandler(modelName string, maxToolRounds int) func(context.Context, *schema.Message, *model.TurnState) (*schema.Message, error) {
	return func(ctx context.Context, out *schema.Message, state *model.TurnState) (*schema.Message, error) {
		if out == nil {
			return nil, fmt.Errorf("chat model returned no message")
		}

		// Compute usage cost if available
		if out.ResponseMeta != nil && out.ResponseMeta.Usage != nil {
			usage := out.ResponseMeta.Usage
			inC, outC, totalC := model.ComputeCost(usage, model.ResolvePricing(modelName))
			state.TotalCostUSD += totalC
			logx.Debug().
				Str("session_id", state.SessionID).
				Str("node", NodeChatModel).
				Str("model", modelName).
				Int("prompt_tokens", usage.PromptTokens).
				Int("completion_tokens", usage.CompletionTokens).
				Int("total_tokens", usage.TotalTokens).
				Float64("input_cost_usd", inC).
				Float64("output_cost_usd", outC).
				Float64("total_cost_usd", state.TotalCostUSD).
				Msg("LLM usage")
		}

		if len(out.ToolCalls) == 0 {
			appendTurnMessages(state, out)
			logx.Debug().Str("session_id", state.SessionID).Msg("AI response ready")
			return out, nil
		}

		if budgetReached(state, maxToolRounds) {
			// The request is dropped so history never holds an unanswered tool call.
			state.BudgetExhausted = true
			logx.Warn().
				Err(errx.ErrRetryBudgetExhausted).
				Str("session_id", state.SessionID).
				Int("tool_rounds", state.ToolRounds).
				Int("requested_tools", len(out.ToolCalls)).
				Msg("Tool round limit reached; answering with fallback")
			return out, nil
		}

		// Normalize tool calls: some providers may omit tool_call IDs.
		for i := range out.ToolCalls {
			if strings.TrimSpace(out.ToolCalls[i].ID) == "" {
				out.ToolCalls[i].ID = nextToolCallID(state)
			}
		}
		appendTurnMessages(state, out)
		logx.Debug().Int("tool_count", len(out.ToolCalls)).Msg("Calling tools")
		return out, nil
	}
}

// NewToolExecutorCondition routes the model reply.
func NewToolExecutorCondition() func(context.Context, *schema.Message) (string, error) {
	return func(ctx context.Context, input *schema.Message) (string, error) {
		var exhausted bool
		err := compose.ProcessState(ctx, func(_ context.Context, state *model.TurnState) error {
			exhausted = state.BudgetExhausted
			return nil
		})
		if err != nil {
			return "", err
		}

		switch {
		case exhausted:
			return NodeBudgetExhausted, nil
		case len(input.ToolCalls) > 0:
			logx.Debug().Int("tool_count", len(input.ToolCalls)).Msg("Routing to ToolExecutor")
			return NodeToolExecutor, nil
		default:
			return NodeFinalize, nil
		}
	}
}

// NewToolExecutorPreHandler counts the tool round about to run.
func NewToolExecutorPreHandler() func(context.Context, *schema.Message, *model.TurnState) (*schema.Message, error) {
	return func(ctx context.Context, in *schema.Message, state *model.TurnState) (*schema.Message, error) {
		state.ToolRounds++
		logx.Debug().
			Int("tool_round", state.ToolRounds).
			Str("session_id", state.SessionID).
			Msg("Tool execution round")
		return in, nil
	}
}

// NewToolExecutorPostHandler appends tool results to the turn.
func NewToolExecutorPostHandler() func(context.Context, []*schema.Message, *model.TurnState) ([]*schema.Message, error) {
	return func(ctx context.Context, out []*schema.Message, state *model.TurnState) ([]*schema.Message, error) {
		appendTurnMessages(state, out...)
		return out, nil
	}
}

// NewBudgetExhaustedNode replaces the unanswered tool request with a fixed reply.
func NewBudgetExhaustedNode(maxToolRounds int) *compose.Lambda {
	reply := model.BudgetExhaustedReply(model.NormalizeMaxToolRetries(maxToolRounds))
	return compose.InvokableLambda(func(ctx context.Context, _ *schema.Message) (*schema.Message, error) {
		msg := schema.AssistantMessage(reply, nil)
		err := compose.ProcessState(ctx, func(_ context.Context, state *model.TurnState) error {
			appendTurnMessages(state, msg)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return msg, nil
	})
}

// NewFinalizeNode snapshots the turn state into a TurnResult.
func NewFinalizeNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, final *schema.Message) (*model.TurnResult, error) {
		res := &model.TurnResult{Reply: final.Content}
		err := compose.ProcessState(ctx, func(_ context.Context, state *model.TurnState) error {
			res.NewMessages = make([]*schema.Message, len(state.NewMessages))
			copy(res.NewMessages, state.NewMessages)
			res.ToolRounds = state.ToolRounds
			res.BudgetExhausted = state.BudgetExhausted
			res.CostUSD = state.TotalCostUSD
			return nil
		})
		if err != nil {
			return nil, err
		}
		return res, nil
	})
}
