package observers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/connector-chat/server/internal/agent/model"
)

const ruleWidth = 60

// TerminalLogger prints each tool invocation as a delimited block. Blocks
// from concurrent turns never interleave.
type TerminalLogger struct {
	mu    sync.Mutex
	w     io.Writer
	rule  lipgloss.Style
	title lipgloss.Style
	label lipgloss.Style
}

// NewTerminalLogger renders to w; colours are used only when w is a terminal.
func NewTerminalLogger(w io.Writer) *TerminalLogger {
	r := lipgloss.NewRenderer(w)
	return &TerminalLogger{
		w:     w,
		rule:  r.NewStyle().Foreground(lipgloss.Color("240")),
		title: r.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		label: r.NewStyle().Faint(true),
	}
}

func (l *TerminalLogger) OnToolInvocation(ctx context.Context, ev model.ToolInvocationEvent) {
	block := l.Render(ev)
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.w, block)
}

// Render formats one event.
func (l *TerminalLogger) Render(ev model.ToolInvocationEvent) string {
	args := ev.Args
	if args == nil {
		args = map[string]any{}
	}
	pretty, err := json.MarshalIndent(args, "", "  ")
	if err != nil {
		pretty = []byte(fmt.Sprintf("%v", args))
	}

	var sb strings.Builder
	sb.WriteString("\n")
	sb.WriteString(l.rule.Render(strings.Repeat("=", ruleWidth)))
	sb.WriteString("\n")
	sb.WriteString(l.label.Render("TOOL CALL: ") + l.title.Render(ev.ToolName))
	sb.WriteString("\n")
	sb.WriteString(l.rule.Render(strings.Repeat("-", ruleWidth)))
	sb.WriteString("\n")
	sb.WriteString(l.label.Render("Parameters:"))
	sb.WriteString("\n")
	sb.Write(pretty)
	sb.WriteString("\n")
	sb.WriteString(l.rule.Render(strings.Repeat("=", ruleWidth)))
	sb.WriteString("\n")
	return sb.String()
}

var _ model.EventObserver = (*TerminalLogger)(nil)
