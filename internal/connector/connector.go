package connector

import (
	"context"
	"strings"
	"time"

	logx "github.com/connector-chat/server/pkg/logger"
)

// DefaultExternalUserID is the workspace used when AC_EXTERNAL_USER_ID is unset.
const DefaultExternalUserID = "customer-workspace"

// Connector executes entity/action operations against one service.
type Connector interface {
	Service() Service
	Execute(ctx context.Context, entity, action string, params map[string]any) (map[string]any, error)
}

// Credentials are the hosted-API settings shared by every connector.
type Credentials struct {
	ClientID       string        `envconfig:"AC_AIRBYTE_CLIENT_ID"`
	ClientSecret   string        `envconfig:"AC_AIRBYTE_CLIENT_SECRET"`
	ExternalUserID string        `envconfig:"AC_EXTERNAL_USER_ID"`
	BaseURL        string        `envconfig:"AC_AIRBYTE_API_BASE" default:"https://api.airbyte.ai/api/v1"`
	Timeout        time.Duration `envconfig:"AC_AIRBYTE_TIMEOUT" default:"30s"`
	// ExecutePath is appended to BaseURL; {service} is replaced by the service name.
	ExecutePath string `envconfig:"AC_CONNECTOR_EXECUTE_PATH" default:"/connectors/{service}/execute"`
}

// Present reports whether both client credentials are set.
func (c Credentials) Present() bool {
	return strings.TrimSpace(c.ClientID) != "" && strings.TrimSpace(c.ClientSecret) != ""
}

// Workspace returns the external user id, falling back to the default workspace.
func (c Credentials) Workspace() string {
	if id := strings.TrimSpace(c.ExternalUserID); id != "" {
		return id
	}
	return DefaultExternalUserID
}

// Dependencies holds one optional connector per service. A nil field means
// the connector is not configured. Built once at startup and read-only after.
type Dependencies struct {
	Gong    Connector
	HubSpot Connector
	Linear  Connector
}

// For returns the connector for s, or nil.
func (d Dependencies) For(s Service) Connector {
	switch s {
	case Gong:
		return d.Gong
	case HubSpot:
		return d.HubSpot
	case Linear:
		return d.Linear
	default:
		return nil
	}
}

// Configured lists the services that have a connector.
func (d Dependencies) Configured() []Service {
	var out []Service
	for _, s := range AllServices {
		if d.For(s) != nil {
			out = append(out, s)
		}
	}
	return out
}

func (d *Dependencies) set(s Service, c Connector) {
	switch s {
	case Gong:
		d.Gong = c
	case HubSpot:
		d.HubSpot = c
	case Linear:
		d.Linear = c
	}
}

// ResolveOptions tunes ResolveDependencies.
type ResolveOptions struct {
	Breaker BreakerConfig
	// Tokens overrides the application token source. Defaults to a cached
	// source over the hosted token endpoint.
	Tokens TokenSource
}

// ResolveDependencies builds a hosted connector for every enabled service when
// credentials are present. Missing credentials leave every field nil.
func ResolveDependencies(creds Credentials, enabled []Service, opts ResolveOptions) Dependencies {
	var deps Dependencies
	if !creds.Present() {
		logx.Warn().Msg("AC_AIRBYTE_CLIENT_ID/AC_AIRBYTE_CLIENT_SECRET not set; connectors are not configured")
		return deps
	}

	tokens := opts.Tokens
	if tokens == nil {
		tokens = NewCachedTokenSource(NewHostedTokenSource(creds), 0)
	}

	for _, s := range enabled {
		c := WithBreaker(NewHostedConnector(s, creds, tokens), opts.Breaker)
		deps.set(s, c)
		logx.Info().Str("connector", string(s)).Str("workspace", creds.Workspace()).Msg("Connector configured")
	}
	return deps
}
