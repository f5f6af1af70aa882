package observers

import (
	einocb "github.com/cloudwego/eino/callbacks"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	"github.com/connector-chat/server/internal/agent/model"
)

// NewTurnCallbacks aggregates the per-turn handlers into one callbacks.Handler.
// Tool starts are recorded on rec and forwarded to observer (which may be nil).
func NewTurnCallbacks(rec *ToolCallRecorder, observer model.EventObserver) einocb.Handler {
	return callbackHelper.NewHandlerHelper().
		Tool(newToolHandler(rec, observer)).
		ChatModel(newModelHandler()).
		Prompt(newPromptHandler()).
		Handler()
}
