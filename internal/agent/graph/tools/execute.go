package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/connector-chat/server/internal/agent/model"
	"github.com/connector-chat/server/internal/connector"
	logx "github.com/connector-chat/server/pkg/logger"
)

// NotConfiguredMessage is what the model sees when a service has no connector.
func NotConfiguredMessage(s connector.Service) string {
	name := s.DisplayName()
	return fmt.Sprintf("%s connector is not configured. Please set up the %s integration.", name, name)
}

// NewExecuteTool builds <service>_execute. c may be nil.
func NewExecuteTool(caps *connector.Capabilities, c connector.Connector) tool.InvokableTool {
	svc := caps.Service
	return utils.NewTool(
		&schema.ToolInfo{
			Name:        svc.ToolName(),
			Desc:        caps.ToolDescription(),
			ParamsOneOf: schema.NewParamsOneOfByParams(executeParams(caps)),
		},
		func(ctx context.Context, in *model.ExecuteInput) (any, error) {
			if c == nil {
				return model.ToolError{Error: NotConfiguredMessage(svc)}, nil
			}

			entity := strings.TrimSpace(in.Entity)
			action := strings.TrimSpace(in.Action)
			if entity == "" || action == "" {
				return model.ToolError{
					Error:  fmt.Sprintf("entity and action are required; entities: %s", strings.Join(caps.EntityNames(), ", ")),
					Entity: entity,
					Action: action,
				}, nil
			}

			params := in.Params
			if params == nil {
				params = map[string]any{}
			}

			out, err := c.Execute(ctx, entity, action, params)
			if err != nil {
				logx.Warn().
					Err(err).
					Str("connector", string(svc)).
					Str("entity", entity).
					Str("action", action).
					Msg("Connector operation failed; reporting to model")
				return model.ToolError{Error: err.Error(), Entity: entity, Action: action}, nil
			}
			return out, nil
		},
	)
}

func executeParams(caps *connector.Capabilities) map[string]*schema.ParameterInfo {
	sub := map[string]*schema.ParameterInfo{}
	for _, p := range caps.Params() {
		sub[p.Name] = paramInfo(p)
	}

	return map[string]*schema.ParameterInfo{
		"entity": {
			Type:     schema.String,
			Desc:     "Entity to operate on.",
			Enum:     caps.EntityNames(),
			Required: true,
		},
		"action": {
			Type:     schema.String,
			Desc:     "Action to perform. Not every entity supports every action; see the tool description.",
			Enum:     caps.ActionNames(),
			Required: true,
		},
		"params": {
			Type:      schema.Object,
			Desc:      caps.ParamsDescription(),
			SubParams: sub,
		},
	}
}

func paramInfo(p connector.Param) *schema.ParameterInfo {
	info := &schema.ParameterInfo{Desc: p.Desc}
	switch p.Type {
	case "integer":
		info.Type = schema.Integer
	case "number":
		info.Type = schema.Number
	case "boolean":
		info.Type = schema.Boolean
	case "array":
		info.Type = schema.Array
		info.ElemInfo = &schema.ParameterInfo{Type: schema.String}
		if p.Items == "integer" {
			info.ElemInfo.Type = schema.Integer
		}
	default:
		info.Type = schema.String
	}
	return info
}
