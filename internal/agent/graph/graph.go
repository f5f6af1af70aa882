package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"

	"github.com/connector-chat/server/internal/agent/graph/conversations"
	"github.com/connector-chat/server/internal/agent/graph/nodes"
	"github.com/connector-chat/server/internal/agent/graph/observers"
	"github.com/connector-chat/server/internal/agent/graph/prompts"
	"github.com/connector-chat/server/internal/agent/graph/tools"
	"github.com/connector-chat/server/internal/agent/model"
	"github.com/connector-chat/server/internal/connector"
	logx "github.com/connector-chat/server/pkg/logger"
)

// Runner executes one conversation turn.
type Runner interface {
	Invoke(ctx context.Context, in model.TurnInput) (*model.TurnResult, error)
}

// Config holds everything needed to compose the turn graph end-to-end.
type Config struct {
	Agent model.AgentConfig
	// ChatModel is built from Agent.Model when nil.
	ChatModel    einomodel.ToolCallingChatModel
	Tools        *tools.Registry
	Connectors   connector.Dependencies
	Conversation model.ConversationConfig
}

// GraphBuilder handles the construction of the turn graph
type GraphBuilder struct {
	config    *Config
	maxRounds int
	chatModel einomodel.ToolCallingChatModel
	graph     *compose.Graph[model.TurnInput, *model.TurnResult]
}

type graphRunner struct {
	runnable compose.Runnable[model.TurnInput, *model.TurnResult]
	observer model.EventObserver
}

func (r *graphRunner) Invoke(ctx context.Context, in model.TurnInput) (*model.TurnResult, error) {
	rec := observers.NewToolCallRecorder()
	out, err := r.runnable.Invoke(ctx, in, compose.WithCallbacks(observers.NewTurnCallbacks(rec, r.observer)))
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("graph returned no result")
	}
	out.ToolCalls = rec.Events()
	return out, nil
}

// BuildTurnGraph binds tools to the chat model, builds the graph, and returns a Runner.
func BuildTurnGraph(ctx context.Context, cfg Config) (Runner, error) {
	if cfg.Tools == nil {
		return nil, fmt.Errorf("tool registry is nil")
	}

	cm := cfg.ChatModel
	if cm == nil {
		var err error
		cm, err = nodes.NewChatModel(ctx, cfg.Agent.Model)
		if err != nil {
			return nil, err
		}
	}

	bound, err := nodes.BindTools(cm, cfg.Tools.Infos())
	if err != nil {
		return nil, err
	}

	builder := &GraphBuilder{
		config:    &cfg,
		maxRounds: model.NormalizeMaxToolRetries(cfg.Agent.MaxToolRetries),
		chatModel: bound,
		graph: compose.NewGraph[model.TurnInput, *model.TurnResult](
			compose.WithGenLocalState(func(ctx context.Context) *model.TurnState {
				return &model.TurnState{}
			}),
		),
	}

	runnable, err := builder.build(ctx)
	if err != nil {
		return nil, err
	}

	logx.Debug().
		Int("max_tool_rounds", builder.maxRounds).
		Strs("tools", cfg.Tools.Names()).
		Msg("Turn graph built successfully")
	return &graphRunner{runnable: runnable, observer: cfg.Agent.Observer}, nil
}

func (b *GraphBuilder) build(ctx context.Context) (compose.Runnable[model.TurnInput, *model.TurnResult], error) {
	if err := b.setupTools(ctx); err != nil {
		return nil, err
	}
	if err := b.addNodes(); err != nil {
		return nil, err
	}
	if err := b.addEdges(); err != nil {
		return nil, err
	}
	if err := b.addBranches(); err != nil {
		return nil, err
	}
	return b.compile(ctx)
}

// setupTools configures the tools node
func (b *GraphBuilder) setupTools(ctx context.Context) error {
	toolsNode, err := compose.NewToolNode(ctx, &compose.ToolsNodeConfig{
		Tools:               b.config.Tools.BaseTools(),
		ExecuteSequentially: true,
		UnknownToolsHandler: func(ctx context.Context, name, input string) (string, error) {
			// Gracefully handle hallucinated or malformed tool calls (e.g., empty name)
			logx.Warn().
				Str("tool_name", name).
				Str("arguments", input).
				Msg("Unknown or invalid tool call; returning fallback result")
			return fmt.Sprintf("{\"error\":\"unknown_tool\",\"name\":%q,\"available\":%q}", name, strings.Join(b.config.Tools.Names(), ",")), nil
		},
		ToolArgumentsHandler: func(ctx context.Context, name, arguments string) (string, error) {
			return sanitizeArguments(name, arguments), nil
		},
	})
	if err != nil {
		logx.Error().Err(err).Msg("Failed to create tools node")
		return fmt.Errorf("failed to create tools node: %w", err)
	}

	return b.graph.AddToolsNode(nodes.NodeToolExecutor, toolsNode,
		compose.WithStatePreHandler(nodes.NewToolExecutorPreHandler()),
		compose.WithStatePostHandler(nodes.NewToolExecutorPostHandler()),
	)
}

// addNodes adds all processing nodes to the graph
func (b *GraphBuilder) addNodes() error {
	mm := conversations.NewMessagesManager(b.config.Conversation)

	if err := b.graph.AddLambdaNode(nodes.NodeInputConverter,
		nodes.NewInputConverterNode(mm, b.promptRenderer()),
		compose.WithStatePreHandler(nodes.NewInputConverterPreHandler()),
	); err != nil {
		return fmt.Errorf("add input converter: %w", err)
	}

	if err := b.graph.AddChatModelNode(nodes.NodeChatModel,
		b.chatModel,
		compose.WithStatePreHandler(nodes.NewChatModelPreHandler()),
		compose.WithStatePostHandler(nodes.NewChatModelPostHandler(b.config.Agent.Model.Model, b.maxRounds)),
	); err != nil {
		return fmt.Errorf("add chat model: %w", err)
	}

	if err := b.graph.AddLambdaNode(nodes.NodeBudgetExhausted, nodes.NewBudgetExhaustedNode(b.maxRounds)); err != nil {
		return fmt.Errorf("add budget node: %w", err)
	}

	if err := b.graph.AddLambdaNode(nodes.NodeFinalize, nodes.NewFinalizeNode()); err != nil {
		return fmt.Errorf("add finalize node: %w", err)
	}
	return nil
}

// addEdges creates the main flow connections between nodes
func (b *GraphBuilder) addEdges() error {
	edges := [][2]string{
		{compose.START, nodes.NodeInputConverter},
		{nodes.NodeInputConverter, nodes.NodeChatModel},
		{nodes.NodeToolExecutor, nodes.NodeChatModel},
		{nodes.NodeBudgetExhausted, nodes.NodeFinalize},
		{nodes.NodeFinalize, compose.END},
	}

	for _, edge := range edges {
		if err := b.graph.AddEdge(edge[0], edge[1]); err != nil {
			return fmt.Errorf("add edge %s -> %s: %w", edge[0], edge[1], err)
		}
	}
	return nil
}

// addBranches creates conditional routing branches
func (b *GraphBuilder) addBranches() error {
	decisionBranch := compose.NewGraphBranch(
		nodes.NewToolExecutorCondition(),
		map[string]bool{
			nodes.NodeToolExecutor:    true,
			nodes.NodeBudgetExhausted: true,
			nodes.NodeFinalize:        true,
		},
	)
	if err := b.graph.AddBranch(nodes.NodeChatModel, decisionBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding decision branch")
		return fmt.Errorf("error adding decision branch: %w", err)
	}
	return nil
}

// compile finalizes and compiles the graph
func (b *GraphBuilder) compile(ctx context.Context) (compose.Runnable[model.TurnInput, *model.TurnResult], error) {
	// Limit total run steps to avoid infinite loops in branching or tool retries
	maxSteps := 10 + b.maxRounds*2
	if maxSteps < 20 {
		maxSteps = 20
	}

	runnable, err := b.graph.Compile(ctx, compose.WithMaxRunSteps(maxSteps))
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}

	logx.Debug().Int("max_steps", maxSteps).Msg("Graph compiled successfully")
	return runnable, nil
}

// promptRenderer renders the system prompt for every turn so the current
// date and connector status are fresh.
func (b *GraphBuilder) promptRenderer() nodes.PromptRenderer {
	var statuses []prompts.ServiceStatus
	for _, s := range connector.AllServices {
		if _, ok := b.config.Tools.Lookup(s.ToolName()); !ok {
			continue
		}
		statuses = append(statuses, prompts.ServiceStatus{
			Name:       s.DisplayName(),
			Tool:       s.ToolName(),
			Configured: b.config.Connectors.For(s) != nil,
		})
	}
	tmpl := b.config.Agent.SystemPrompt

	return func(ctx context.Context) (string, error) {
		return prompts.RenderSystem(ctx, tmpl, prompts.SystemPromptVars{
			Services: statuses,
			DateTool: tools.ToolCurrentDate,
		})
	}
}

// sanitizeArguments is best effort and never fails: empty arguments become
// {}, execute-tool entity/action are trimmed and lower-cased, and params
// sent as a JSON string are decoded.
func sanitizeArguments(name, arguments string) string {
	if strings.TrimSpace(arguments) == "" {
		return "{}"
	}
	if !strings.HasSuffix(name, "_execute") {
		return arguments
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(arguments), &m); err != nil || m == nil {
		// undecodable input reaches the tool, which reports it as a result
		return arguments
	}

	for _, key := range []string{"entity", "action"} {
		if v, ok := m[key]; ok {
			switch vv := v.(type) {
			case string:
				m[key] = strings.ToLower(strings.TrimSpace(vv))
			default:
				m[key] = strings.ToLower(strings.TrimSpace(fmt.Sprint(v)))
			}
		}
	}

	if v, ok := m["params"]; ok {
		switch vv := v.(type) {
		case map[string]any:
		case string:
			var decoded map[string]any
			if err := json.Unmarshal([]byte(vv), &decoded); err == nil && decoded != nil {
				m["params"] = decoded
			} else {
				delete(m, "params")
			}
		default:
			delete(m, "params")
		}
	}

	b, err := json.Marshal(m)
	if err != nil {
		return arguments
	}
	return string(b)
}
