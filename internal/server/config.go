package server

import "time"

// Config holds the HTTP front-end settings.
type Config struct {
	Addr            string        `envconfig:"SERVER_ADDR" default:":8000"`
	RateLimitPerMin int           `envconfig:"SERVER_RATE_LIMIT_PER_MIN" default:"60"`
	RateLimitBurst  int           `envconfig:"SERVER_RATE_LIMIT_BURST" default:"10"`
	AllowedOrigin   string        `envconfig:"SERVER_ALLOWED_ORIGIN" default:"*"`
	TrustedProxies  []string      `envconfig:"SERVER_TRUSTED_PROXIES"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"10s"`
	TurnTimeout     time.Duration `envconfig:"SERVER_TURN_TIMEOUT" default:"180s"`
	MaxRequestBytes int64         `envconfig:"SERVER_MAX_REQUEST_BYTES" default:"1048576"`
}

func (c *Config) withDefaults() {
	if c.Addr == "" {
		c.Addr = ":8000"
	}
	if c.AllowedOrigin == "" {
		c.AllowedOrigin = "*"
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.MaxRequestBytes <= 0 {
		c.MaxRequestBytes = 1 << 20
	}
}
