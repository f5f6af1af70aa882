package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	openaimodel "github.com/cloudwego/eino-ext/components/model/openai"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/connector-chat/server/internal/agent/model"
	errx "github.com/connector-chat/server/internal/core/error"
	logx "github.com/connector-chat/server/pkg/logger"
)

const (
	ProviderGemini = "gemini"
	// ProviderOpenAI covers any OpenAI-compatible endpoint (OpenAI, OpenRouter, Anthropic's compat API).
	ProviderOpenAI = "openai"
)

// NewChatModel creates the tool-calling chat model for the configured provider.
func NewChatModel(ctx context.Context, cfg model.ModelConfig) (einomodel.ToolCallingChatModel, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: LLM_API_KEY is required", errx.ErrConfiguration)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderGemini, "":
		return newGeminiChatModel(ctx, cfg)
	case ProviderOpenAI, "openrouter":
		return newOpenAIChatModel(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: unknown LLM_PROVIDER %q", errx.ErrConfiguration, cfg.Provider)
	}
}

func newGeminiChatModel(ctx context.Context, cfg model.ModelConfig) (einomodel.ToolCallingChatModel, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	geminiCfg := &gemini.Config{
		Client:      client,
		Model:       cfg.Model,
		Temperature: &cfg.Temperature,
		MaxTokens:   &cfg.MaxTokens,
	}
	if cfg.ThinkingBudget > 0 {
		geminiCfg.ThinkingConfig = &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  genai.Ptr(cfg.ThinkingBudget),
		}
	}

	cm, err := gemini.NewChatModel(ctx, geminiCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini chat model")
		return nil, fmt.Errorf("error creating Gemini chat model: %w", err)
	}
	return cm, nil
}

func newOpenAIChatModel(ctx context.Context, cfg model.ModelConfig) (einomodel.ToolCallingChatModel, error) {
	maxTokens := cfg.MaxTokens
	cm, err := openaimodel.NewChatModel(ctx, &openaimodel.ChatModelConfig{
		BaseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		APIKey:      strings.TrimSpace(cfg.APIKey),
		Model:       strings.TrimSpace(cfg.Model),
		MaxTokens:   &maxTokens,
		Temperature: &cfg.Temperature,
		Timeout:     cfg.Timeout,
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating OpenAI-compatible chat model")
		return nil, fmt.Errorf("error creating OpenAI-compatible chat model: %w", err)
	}
	return cm, nil
}

// BindTools returns a copy of cm that advertises the given tools.
func BindTools(cm einomodel.ToolCallingChatModel, tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	bound, err := cm.WithTools(tools)
	if err != nil {
		logx.Error().Err(err).Msg("Failed to bind tools")
		return nil, fmt.Errorf("failed to bind tools: %w", err)
	}

	logx.Debug().Int("tool_count", len(tools)).Msg("Successfully bound tools to chat model")
	return bound, nil
}
