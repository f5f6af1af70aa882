package model

import "time"

// ================ Config ================

// DefaultMaxToolRetries caps tool-call rounds per turn when nothing is configured.
const DefaultMaxToolRetries = 10

// ModelConfig selects and tunes the chat model provider.
type ModelConfig struct {
	Provider    string        `envconfig:"LLM_PROVIDER" default:"gemini"`
	APIKey      string        `envconfig:"LLM_API_KEY" required:"true"`
	BaseURL     string        `envconfig:"LLM_BASE_URL"`
	Model       string        `envconfig:"LLM_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int           `envconfig:"LLM_MAX_TOKENS" default:"4096"`
	Temperature float32       `envconfig:"LLM_TEMPERATURE" default:"0.2"`
	Timeout     time.Duration `envconfig:"LLM_TIMEOUT" default:"60s"`
	// ThinkingBudget is only honoured by the gemini provider; 0 disables thinking output.
	ThinkingBudget int32 `envconfig:"LLM_THINKING_BUDGET" default:"0"`
}

// AgentSettings is the env-sourced part of AgentConfig.
type AgentSettings struct {
	MaxToolRetries   int      `envconfig:"AGENT_MAX_TOOL_RETRIES" default:"10"`
	SystemPromptFile string   `envconfig:"AGENT_SYSTEM_PROMPT_FILE"`
	Connectors       []string `envconfig:"AGENT_CONNECTORS" default:"gong,hubspot,linear"`
}

type ConversationConfig struct {
	Backend string        `envconfig:"HISTORY_BACKEND" default:"memory"`
	TTL     time.Duration `envconfig:"CONVERSATION_TTL" default:"24h"`
	// MaxContextMessages bounds how much stored history is sent to the model; 0 sends all.
	MaxContextMessages int `envconfig:"CONVERSATION_MAX_CONTEXT_MESSAGES" default:"60"`
}

// AgentConfig is immutable once the agent is built.
type AgentConfig struct {
	Model ModelConfig
	// SystemPrompt overrides the embedded template when non-empty.
	SystemPrompt   string
	MaxToolRetries int
	// Observer receives tool invocation events as they happen. Optional.
	Observer EventObserver
}

// NormalizeMaxToolRetries returns a sane default when the provided value is invalid.
func NormalizeMaxToolRetries(n int) int {
	if n <= 0 {
		return DefaultMaxToolRetries
	}
	return n
}
