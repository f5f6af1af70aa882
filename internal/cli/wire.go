package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/connector-chat/server/internal/agent/graph"
	"github.com/connector-chat/server/internal/agent/graph/prompts"
	"github.com/connector-chat/server/internal/agent/graph/tools"
	"github.com/connector-chat/server/internal/agent/model"
	"github.com/connector-chat/server/internal/agent/repo"
	"github.com/connector-chat/server/internal/agent/session"
	"github.com/connector-chat/server/internal/connector"
	"github.com/connector-chat/server/internal/core"
	errx "github.com/connector-chat/server/internal/core/error"
	"github.com/connector-chat/server/internal/server"
	"github.com/connector-chat/server/internal/widget"
	"github.com/connector-chat/server/pkg/config"
	logx "github.com/connector-chat/server/pkg/logger"
	pkgpostgres "github.com/connector-chat/server/pkg/postgres"
	pkgredis "github.com/connector-chat/server/pkg/redis"
)

// LogSettings configures logging for every command.
type LogSettings struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	Debug       bool   `envconfig:"LOG_DEBUG" default:"false"`
}

// runtime builds the pieces each command needs. Tests swap the functions.
type runtime struct {
	chat   func(ctx context.Context, observer model.EventObserver) (server.ChatService, func(), error)
	widget func() (server.TokenIssuer, error)
	server func() (server.Config, error)
}

func defaultRuntime() runtime {
	return runtime{
		chat:   wireChat,
		widget: wireWidget,
		server: func() (server.Config, error) {
			cfg, err := config.New[server.Config]("")
			if err != nil {
				return server.Config{}, fmt.Errorf("%w: server: %v", errx.ErrConfiguration, err)
			}
			return *cfg, nil
		},
	}
}

func initLogging(debug bool) error {
	settings, err := config.New[LogSettings]("")
	if err != nil {
		return fmt.Errorf("%w: logging: %v", errx.ErrConfiguration, err)
	}
	logx.Init(logx.LoggerOpts{
		Environment: core.ParseEnvironment(settings.Environment),
		Debug:       settings.Debug || debug,
	})
	return nil
}

// wireChat builds the agent and its session manager from the environment.
// The returned func releases the history backend.
func wireChat(ctx context.Context, observer model.EventObserver) (server.ChatService, func(), error) {
	modelCfg, err := config.New[model.ModelConfig]("")
	if err != nil {
		return nil, nil, fmt.Errorf("%w: model: %v", errx.ErrConfiguration, err)
	}
	settings, err := config.New[model.AgentSettings]("")
	if err != nil {
		return nil, nil, fmt.Errorf("%w: agent: %v", errx.ErrConfiguration, err)
	}
	convCfg, err := config.New[model.ConversationConfig]("")
	if err != nil {
		return nil, nil, fmt.Errorf("%w: conversation: %v", errx.ErrConfiguration, err)
	}
	creds, err := config.New[connector.Credentials]("")
	if err != nil {
		return nil, nil, fmt.Errorf("%w: connector credentials: %v", errx.ErrConfiguration, err)
	}
	breaker, err := config.New[connector.BreakerConfig]("")
	if err != nil {
		return nil, nil, fmt.Errorf("%w: connector breaker: %v", errx.ErrConfiguration, err)
	}

	enabled, err := connector.ParseServices(settings.Connectors)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errx.ErrConfiguration, err)
	}
	deps := connector.ResolveDependencies(*creds, enabled, connector.ResolveOptions{Breaker: *breaker})

	reg, err := tools.Register(ctx, deps, enabled)
	if err != nil {
		return nil, nil, err
	}

	tmpl, err := prompts.LoadTemplate(settings.SystemPromptFile)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errx.ErrConfiguration, err)
	}

	runner, err := graph.BuildTurnGraph(ctx, graph.Config{
		Agent: model.AgentConfig{
			Model:          *modelCfg,
			SystemPrompt:   tmpl,
			MaxToolRetries: settings.MaxToolRetries,
			Observer:       observer,
		},
		Tools:        reg,
		Connectors:   deps,
		Conversation: *convCfg,
	})
	if err != nil {
		return nil, nil, err
	}

	store, closeStore, err := newRepository(ctx, *convCfg)
	if err != nil {
		return nil, nil, err
	}

	logx.Info().
		Str("provider", modelCfg.Provider).
		Str("model", modelCfg.Model).
		Str("history_backend", convCfg.Backend).
		Strs("tools", reg.Names()).
		Msg("Agent ready")
	return session.NewManager(store, runner), closeStore, nil
}

// newRepository opens the configured history backend.
func newRepository(ctx context.Context, cfg model.ConversationConfig) (model.ConversationRepository, func(), error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "memory":
		return repo.NewMemoryConversationRepository(), func() {}, nil

	case "redis":
		rc, err := config.New[pkgredis.Config]("REDIS")
		if err != nil {
			return nil, nil, fmt.Errorf("%w: redis: %v", errx.ErrConfiguration, err)
		}
		rdb, err := rc.New(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", errx.ErrConnection, err)
		}
		return repo.NewRedisConversationRepository(rdb, cfg.TTL), func() { _ = rdb.Close() }, nil

	case "postgres":
		pc, err := config.New[pkgpostgres.Config]("POSTGRES")
		if err != nil {
			return nil, nil, fmt.Errorf("%w: postgres: %v", errx.ErrConfiguration, err)
		}
		db, err := pc.New(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", errx.ErrConnection, err)
		}
		pr := repo.NewPostgresConversationRepository(db)
		if err := pr.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return pr, func() { _ = db.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown HISTORY_BACKEND %q", errx.ErrConfiguration, cfg.Backend)
	}
}

func wireWidget() (server.TokenIssuer, error) {
	cfg, err := config.New[widget.Config]("")
	if err != nil {
		return nil, fmt.Errorf("%w: widget: %v", errx.ErrConfiguration, err)
	}
	return widget.NewBridge(*cfg), nil
}
