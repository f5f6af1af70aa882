// Package server is the HTTP front-end: a small chat UI, the /chat turn
// endpoint and the widget token bridge.
package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"time"

	"github.com/connector-chat/server/internal/agent/model"
	logx "github.com/connector-chat/server/pkg/logger"
)

//go:embed static/index.html
var staticFS embed.FS

// ChatService runs turns and clears sessions.
type ChatService interface {
	Run(ctx context.Context, sessionID, message string) (*model.TurnResult, error)
	Reset(ctx context.Context, sessionID string) error
}

// TokenIssuer hands out widget tokens.
type TokenIssuer interface {
	Token(ctx context.Context) (string, error)
}

type Server struct {
	cfg    Config
	chat   ChatService
	widget TokenIssuer
	page   *template.Template
}

// New builds the server. widget may be nil, which disables the connector button.
func New(cfg Config, chat ChatService, widget TokenIssuer) (*Server, error) {
	if chat == nil {
		return nil, errors.New("chat service is nil")
	}
	cfg.withDefaults()

	page, err := template.ParseFS(staticFS, "static/index.html")
	if err != nil {
		return nil, fmt.Errorf("parse index page: %w", err)
	}
	return &Server{cfg: cfg, chat: chat, widget: widget, page: page}, nil
}

// Handler returns the routed handler. ctx bounds the rate limiter's janitor.
func (s *Server) Handler(ctx context.Context) http.Handler {
	limit := rateLimit(ctx, s.cfg.RateLimitPerMin, s.cfg.RateLimitBurst, s.cfg.TrustedProxies)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("POST /chat", limit(http.HandlerFunc(s.handleChat)))
	mux.HandleFunc("DELETE /chat/history", s.handleResetHistory)
	mux.Handle("POST /widget/token", limit(http.HandlerFunc(s.handleWidgetToken)))

	return requestLogger(cors(s.cfg.AllowedOrigin)(mux))
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := &http.Server{
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		logx.Info().Str("addr", ln.Addr().String()).Msg("HTTP server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logx.Info().Msg("Shutting down HTTP server")
	shutdownCtx, done := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
