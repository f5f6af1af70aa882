package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connector-chat/server/internal/agent/graph/tools"
	"github.com/connector-chat/server/internal/agent/model"
	"github.com/connector-chat/server/internal/connector"
)

// scriptedModel answers each Generate call with respond(call, input).
type scriptedModel struct {
	mu      sync.Mutex
	calls   int
	inputs  [][]*schema.Message
	respond func(call int, input []*schema.Message) (*schema.Message, error)
}

func (f *scriptedModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.inputs = append(f.inputs, append([]*schema.Message(nil), input...))
	f.mu.Unlock()
	return f.respond(call, input)
}

func (f *scriptedModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not implemented in fake model")
}

func (f *scriptedModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	return f, nil
}

func toolCall(id, name, args string) *schema.Message {
	return schema.AssistantMessage("", []schema.ToolCall{{
		ID:       id,
		Type:     "function",
		Function: schema.FunctionCall{Name: name, Arguments: args},
	}})
}

type fakeConnector struct {
	service connector.Service
	mu      sync.Mutex
	calls   []string
	params  []map[string]any
}

func (f *fakeConnector) Service() connector.Service { return f.service }

func (f *fakeConnector) Execute(ctx context.Context, entity, action string, params map[string]any) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, entity+"."+action)
	f.params = append(f.params, params)
	return map[string]any{"data": []any{map[string]any{"id": "u1", "name": "Ada"}}}, nil
}

type collectingObserver struct {
	mu     sync.Mutex
	events []model.ToolInvocationEvent
}

func (c *collectingObserver) OnToolInvocation(ctx context.Context, ev model.ToolInvocationEvent) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func newRunner(t *testing.T, cm *scriptedModel, deps connector.Dependencies, maxRetries int, obs model.EventObserver) Runner {
	t.Helper()
	ctx := context.Background()
	reg, err := tools.Register(ctx, deps, connector.AllServices)
	require.NoError(t, err)

	r, err := BuildTurnGraph(ctx, Config{
		Agent: model.AgentConfig{
			Model:          model.ModelConfig{Model: "gemini-2.5-flash"},
			MaxToolRetries: maxRetries,
			Observer:       obs,
		},
		ChatModel:  cm,
		Tools:      reg,
		Connectors: deps,
	})
	require.NoError(t, err)
	return r
}

func roles(msgs []*schema.Message) []schema.RoleType {
	out := make([]schema.RoleType, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Role)
	}
	return out
}

func TestPlainAnswer(t *testing.T) {
	t.Parallel()

	cm := &scriptedModel{respond: func(int, []*schema.Message) (*schema.Message, error) {
		return schema.AssistantMessage("Hello there", nil), nil
	}}
	r := newRunner(t, cm, connector.Dependencies{}, 0, nil)

	history := []*schema.Message{schema.UserMessage("earlier"), schema.AssistantMessage("sure", nil)}
	res, err := r.Invoke(context.Background(), model.TurnInput{SessionID: "s1", Message: "hi", History: history})
	require.NoError(t, err)

	assert.Equal(t, "Hello there", res.Reply)
	assert.Empty(t, res.ToolCalls)
	assert.Equal(t, 0, res.ToolRounds)
	assert.False(t, res.BudgetExhausted)
	assert.Equal(t, []schema.RoleType{schema.User, schema.Assistant}, roles(res.NewMessages))
	assert.Equal(t, "hi", res.NewMessages[0].Content)

	require.Equal(t, 1, cm.calls)
	in := cm.inputs[0]
	require.Len(t, in, 4)
	assert.Equal(t, schema.System, in[0].Role)
	assert.Contains(t, in[0].Content, "Gong")
	assert.Equal(t, "earlier", in[1].Content)
	assert.Equal(t, "hi", in[3].Content)
}

func TestToolRoundThenAnswer(t *testing.T) {
	t.Parallel()

	gong := &fakeConnector{service: connector.Gong}
	deps := connector.Dependencies{Gong: gong}
	obs := &collectingObserver{}

	cm := &scriptedModel{respond: func(call int, input []*schema.Message) (*schema.Message, error) {
		switch call {
		case 1:
			return schema.AssistantMessage("", []schema.ToolCall{
				{Function: schema.FunctionCall{Name: tools.ToolCurrentDate, Arguments: ""}},
				{Function: schema.FunctionCall{Name: "gong_execute", Arguments: `{"entity":" Users ","action":"LIST","params":"{\"limit\":10}"}`}},
			}), nil
		default:
			return schema.AssistantMessage("Here are your users: Ada", nil), nil
		}
	}}
	r := newRunner(t, cm, deps, 0, obs)

	res, err := r.Invoke(context.Background(), model.TurnInput{SessionID: "s1", Message: "List 10 users in my Gong organization"})
	require.NoError(t, err)

	assert.Equal(t, "Here are your users: Ada", res.Reply)
	assert.Equal(t, 1, res.ToolRounds)
	require.Len(t, res.ToolCalls, 2)
	assert.Equal(t, tools.ToolCurrentDate, res.ToolCalls[0].ToolName)
	assert.Equal(t, "gong_execute", res.ToolCalls[1].ToolName)
	assert.Equal(t, res.ToolCalls, obs.events)

	assert.Equal(t, []string{"users.list"}, gong.calls)
	assert.Equal(t, map[string]any{"limit": float64(10)}, gong.params[0])

	assert.Equal(t,
		[]schema.RoleType{schema.User, schema.Assistant, schema.Tool, schema.Tool, schema.Assistant},
		roles(res.NewMessages))
	req := res.NewMessages[1]
	require.Len(t, req.ToolCalls, 2)
	assert.Equal(t, "call_1", req.ToolCalls[0].ID)
	assert.Equal(t, "call_2", req.ToolCalls[1].ID)
	assert.Equal(t, "call_1", res.NewMessages[2].ToolCallID)
	assert.Equal(t, "call_2", res.NewMessages[3].ToolCallID)
	assert.Contains(t, res.NewMessages[3].Content, "Ada")

	require.Equal(t, 2, cm.calls)
	second := cm.inputs[1]
	assert.Equal(t, schema.Tool, second[len(second)-1].Role)
}

func TestMalformedToolArgumentsGoBackToModel(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"not json":         `not json`,
		"truncated object": `{"entity":"users",`,
		"trailing text":    `{"entity":"users","action":"list"} trailing`,
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			gong := &fakeConnector{service: connector.Gong}
			cm := &scriptedModel{respond: func(call int, input []*schema.Message) (*schema.Message, error) {
				if call == 1 {
					return toolCall("c1", "gong_execute", args), nil
				}
				return schema.AssistantMessage("Sorry, let me list them differently.", nil), nil
			}}
			r := newRunner(t, cm, connector.Dependencies{Gong: gong}, 0, nil)

			res, err := r.Invoke(context.Background(), model.TurnInput{SessionID: "s1", Message: "List users in Gong"})
			require.NoError(t, err)
			assert.Equal(t, "Sorry, let me list them differently.", res.Reply)
			assert.Equal(t, 1, res.ToolRounds)
			assert.Empty(t, gong.calls)

			require.Equal(t, 2, cm.calls)
			second := cm.inputs[1]
			last := second[len(second)-1]
			assert.Equal(t, schema.Tool, last.Role)
			assert.Contains(t, last.Content, "invalid arguments")

			assert.Equal(t,
				[]schema.RoleType{schema.User, schema.Assistant, schema.Tool, schema.Assistant},
				roles(res.NewMessages))
		})
	}
}

func TestBudgetExhaustedFallsBack(t *testing.T) {
	t.Parallel()

	cm := &scriptedModel{respond: func(call int, _ []*schema.Message) (*schema.Message, error) {
		return toolCall(fmt.Sprintf("id-%d", call), tools.ToolCurrentDate, "{}"), nil
	}}
	r := newRunner(t, cm, connector.Dependencies{}, 2, nil)

	res, err := r.Invoke(context.Background(), model.TurnInput{SessionID: "s1", Message: "loop forever"})
	require.NoError(t, err)

	assert.True(t, res.BudgetExhausted)
	assert.Equal(t, 2, res.ToolRounds)
	assert.Equal(t, model.BudgetExhaustedReply(2), res.Reply)
	assert.Equal(t, 3, cm.calls)
	assert.Len(t, res.ToolCalls, 2)

	// every assistant tool request in the committed turn has its results
	answered := map[string]bool{}
	for _, m := range res.NewMessages {
		if m.Role == schema.Tool {
			answered[m.ToolCallID] = true
		}
	}
	for _, m := range res.NewMessages {
		for _, tc := range m.ToolCalls {
			assert.True(t, answered[tc.ID], "dangling tool call %s", tc.ID)
		}
	}
	last := res.NewMessages[len(res.NewMessages)-1]
	assert.Equal(t, schema.Assistant, last.Role)
	assert.Empty(t, last.ToolCalls)
}

func TestModelErrorFailsTurn(t *testing.T) {
	t.Parallel()

	cm := &scriptedModel{respond: func(int, []*schema.Message) (*schema.Message, error) {
		return nil, errors.New("provider unavailable")
	}}
	r := newRunner(t, cm, connector.Dependencies{}, 0, nil)

	res, err := r.Invoke(context.Background(), model.TurnInput{SessionID: "s1", Message: "hi"})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "provider unavailable")
}

func TestEmptyMessageRejected(t *testing.T) {
	t.Parallel()

	cm := &scriptedModel{respond: func(int, []*schema.Message) (*schema.Message, error) {
		return schema.AssistantMessage("unused", nil), nil
	}}
	r := newRunner(t, cm, connector.Dependencies{}, 0, nil)

	_, err := r.Invoke(context.Background(), model.TurnInput{SessionID: "s1", Message: "   "})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message is empty")
	assert.Equal(t, 0, cm.calls)
}

func TestUnconfiguredConnectorReportsToModel(t *testing.T) {
	t.Parallel()

	cm := &scriptedModel{respond: func(call int, _ []*schema.Message) (*schema.Message, error) {
		if call == 1 {
			return toolCall("c1", "linear_execute", `{"entity":"issues","action":"list"}`), nil
		}
		return schema.AssistantMessage("Linear is not set up yet.", nil), nil
	}}
	r := newRunner(t, cm, connector.Dependencies{}, 0, nil)

	res, err := r.Invoke(context.Background(), model.TurnInput{SessionID: "s1", Message: "show issues"})
	require.NoError(t, err)
	assert.Equal(t, "Linear is not set up yet.", res.Reply)

	require.Len(t, res.NewMessages, 4)
	assert.Contains(t, res.NewMessages[2].Content, "not configured")
	assert.Contains(t, cm.inputs[0][0].Content, "not configured")
}

func TestUnknownToolGetsFallbackResult(t *testing.T) {
	t.Parallel()

	cm := &scriptedModel{respond: func(call int, _ []*schema.Message) (*schema.Message, error) {
		if call == 1 {
			return toolCall("c1", "salesforce_execute", `{}`), nil
		}
		return schema.AssistantMessage("I can't reach Salesforce.", nil), nil
	}}
	r := newRunner(t, cm, connector.Dependencies{}, 0, nil)

	res, err := r.Invoke(context.Background(), model.TurnInput{SessionID: "s1", Message: "salesforce?"})
	require.NoError(t, err)
	require.Len(t, res.NewMessages, 4)
	assert.Contains(t, res.NewMessages[2].Content, "unknown_tool")
}

func TestSanitizeArguments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		tool string
		in   string
		want string
	}{
		{name: "empty", tool: "get_current_date", in: "  ", want: "{}"},
		{name: "non execute untouched", tool: "get_current_date", in: `{"x":" Y "}`, want: `{"x":" Y "}`},
		{name: "not json", tool: "gong_execute", in: "oops", want: "oops"},
		{name: "normalizes", tool: "gong_execute", in: `{"entity":" Calls ","action":"List"}`, want: `{"action":"list","entity":"calls"}`},
		{name: "string params", tool: "hubspot_execute", in: `{"entity":"deals","action":"list","params":"{\"limit\":5}"}`, want: `{"action":"list","entity":"deals","params":{"limit":5}}`},
		{name: "bad params dropped", tool: "hubspot_execute", in: `{"entity":"deals","action":"list","params":[1]}`, want: `{"action":"list","entity":"deals"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeArguments(tt.tool, tt.in))
		})
	}
}

func TestBuildTurnGraphRequiresRegistry(t *testing.T) {
	t.Parallel()

	_, err := BuildTurnGraph(context.Background(), Config{ChatModel: &scriptedModel{}})
	require.Error(t, err)
}
