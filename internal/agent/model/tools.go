package model

// ExecuteInput is the argument shape shared by every <service>_execute tool.
type ExecuteInput struct {
	Entity string         `json:"entity"`
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// ToolError is returned to the model as a tool result instead of failing the turn.
type ToolError struct {
	Error  string `json:"error"`
	Entity string `json:"entity,omitempty"`
	Action string `json:"action,omitempty"`
}
