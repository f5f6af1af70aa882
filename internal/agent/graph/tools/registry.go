package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/connector-chat/server/internal/agent/model"
	"github.com/connector-chat/server/internal/connector"
	logx "github.com/connector-chat/server/pkg/logger"
)

// ErrDuplicateTool is returned when two tools share a name.
var ErrDuplicateTool = errors.New("duplicate tool name")

// Descriptor pairs a tool's schema with its implementation.
type Descriptor struct {
	Name string
	Info *schema.ToolInfo
	Tool tool.InvokableTool
}

// Registry is the name-keyed set of tools handed to the agent.
type Registry struct {
	order  []string
	byName map[string]Descriptor
}

func NewRegistry(descs ...Descriptor) (*Registry, error) {
	r := &Registry{byName: make(map[string]Descriptor, len(descs))}
	for _, d := range descs {
		if err := r.Add(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add registers d, rejecting a name that is already taken.
func (r *Registry) Add(d Descriptor) error {
	if d.Name == "" || d.Info == nil || d.Tool == nil {
		return fmt.Errorf("incomplete tool descriptor %q", d.Name)
	}
	if _, ok := r.byName[d.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, d.Name)
	}
	r.byName[d.Name] = d
	r.order = append(r.order, d.Name)
	return nil
}

func (r *Registry) Lookup(name string) (Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) Infos() []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.byName[n].Info)
	}
	return out
}

func (r *Registry) BaseTools() []tool.BaseTool {
	out := make([]tool.BaseTool, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.byName[n].Tool)
	}
	return out
}

// Describe builds a Descriptor from an invokable tool.
func Describe(ctx context.Context, t tool.InvokableTool) (Descriptor, error) {
	info, err := t.Info(ctx)
	if err != nil {
		return Descriptor{}, fmt.Errorf("get tool info: %w", err)
	}
	return Descriptor{Name: info.Name, Info: info, Tool: t}, nil
}

// Register builds the agent's tools: get_current_date plus one execute tool
// per enabled service. A service without a connector in deps still gets its
// tool; calls to it report that the connector is not configured.
func Register(ctx context.Context, deps connector.Dependencies, enabled []connector.Service) (*Registry, error) {
	reg, err := NewRegistry()
	if err != nil {
		return nil, err
	}

	all := []tool.InvokableTool{NewCurrentDateTool(nil)}
	for _, s := range enabled {
		caps, err := connector.CatalogFor(s)
		if err != nil {
			return nil, err
		}
		all = append(all, NewExecuteTool(caps, deps.For(s)))
	}

	for _, t := range all {
		d, err := Describe(ctx, WithErrorResult(t))
		if err != nil {
			return nil, err
		}
		if err := reg.Add(d); err != nil {
			return nil, err
		}
	}

	logx.Debug().Strs("tools", reg.Names()).Msg("Tools registered")
	return reg, nil
}

// WithErrorResult turns a failed invocation, such as arguments that do not
// decode, into a ToolError result so the model can retry with fixed input.
func WithErrorResult(t tool.InvokableTool) tool.InvokableTool {
	return utils.WrapInvokableToolWithErrorHandler(t, func(ctx context.Context, err error) string {
		logx.Warn().Err(err).Msg("Tool call rejected")
		out, mErr := json.Marshal(model.ToolError{Error: "invalid arguments: " + err.Error()})
		if mErr != nil {
			return `{"error":"invalid arguments"}`
		}
		return string(out)
	})
}
