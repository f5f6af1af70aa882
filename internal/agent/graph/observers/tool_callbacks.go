package observers

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/tool"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	"github.com/connector-chat/server/internal/agent/model"
	logx "github.com/connector-chat/server/pkg/logger"
)

// ToolCallRecorder collects the tool invocations of one turn in call order.
type ToolCallRecorder struct {
	mu     sync.Mutex
	events []model.ToolInvocationEvent
}

func NewToolCallRecorder() *ToolCallRecorder {
	return &ToolCallRecorder{}
}

func (r *ToolCallRecorder) Record(ev model.ToolInvocationEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *ToolCallRecorder) Events() []model.ToolInvocationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.ToolInvocationEvent, len(r.events))
	copy(out, r.events)
	return out
}

// ParseArgs decodes tool arguments. Non-object payloads are kept under "raw".
func ParseArgs(arguments string) map[string]any {
	args := map[string]any{}
	trimmed := strings.TrimSpace(arguments)
	if trimmed == "" {
		return args
	}
	if err := json.Unmarshal([]byte(trimmed), &args); err != nil || args == nil {
		return map[string]any{"raw": arguments}
	}
	return args
}

// newToolHandler builds a typed ToolCallbackHandler (not yet wrapped).
func newToolHandler(rec *ToolCallRecorder, observer model.EventObserver) *callbackHelper.ToolCallbackHandler {
	return &callbackHelper.ToolCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *tool.CallbackInput) context.Context {
			name := ""
			if info != nil {
				name = info.Name
			}
			var arguments string
			if input != nil {
				arguments = input.ArgumentsInJSON
			}
			ev := model.ToolInvocationEvent{ToolName: name, Args: ParseArgs(arguments)}

			if rec != nil {
				rec.Record(ev)
			}
			if observer != nil {
				observer.OnToolInvocation(ctx, ev)
			}
			logx.Debug().Str("tool_name", name).Str("arguments", arguments).Msg("Tool call started")
			return ctx
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *tool.CallbackOutput) context.Context {
			if info != nil && output != nil {
				logx.Debug().Str("tool_name", info.Name).Int("response_bytes", len(output.Response)).Msg("Tool call finished")
			}
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			name := ""
			if info != nil {
				name = info.Name
			}
			logx.Error().Err(err).Str("tool_name", name).Msg("Tool execution failed")
			return ctx
		},
	}
}
