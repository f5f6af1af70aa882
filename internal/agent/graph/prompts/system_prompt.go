package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//go:embed template/system_prompt.txt
var coreSystemPrompt string

// ServiceStatus describes one connector for the system prompt.
type ServiceStatus struct {
	Name       string
	Tool       string
	Configured bool
}

// SystemPromptVars are the template inputs.
type SystemPromptVars struct {
	Services []ServiceStatus
	DateTool string
	Now      time.Time
}

// LoadTemplate returns the template at path, or the embedded one when path is empty.
func LoadTemplate(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return coreSystemPrompt, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read system prompt %q: %w", path, err)
	}
	return strings.TrimSpace(string(b)), nil
}

// RenderSystem renders the system prompt and triggers prompt callbacks.
func RenderSystem(ctx context.Context, tmpl string, vars SystemPromptVars) (string, error) {
	if strings.TrimSpace(tmpl) == "" {
		tmpl = coreSystemPrompt
	}
	if vars.Now.IsZero() {
		vars.Now = time.Now()
	}

	// Render via Eino prompt component (Go template) to both format and emit callbacks
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(tmpl),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"Services": vars.Services,
		"DateTool": vars.DateTool,
		"Now":      vars.Now.Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("system prompt render: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("system prompt render: empty result")
	}
	return strings.TrimSpace(msgs[0].Content), nil
}
