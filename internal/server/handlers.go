package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/connector-chat/server/internal/agent/model"
	"github.com/connector-chat/server/internal/agent/session"
	errx "github.com/connector-chat/server/internal/core/error"
	"github.com/connector-chat/server/internal/widget"
	logx "github.com/connector-chat/server/pkg/logger"
)

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type chatResponse struct {
	Response  string                      `json:"response"`
	ToolCalls []model.ToolInvocationEvent `json:"tool_calls"`
	SessionID string                      `json:"session_id"`
}

type widgetTokenResponse struct {
	Token string `json:"token"`
	HTML  string `json:"html"`
}

type errorResponse struct {
	Error string `json:"error"`
}

var examplePrompts = []string{
	"List 10 users in my Gong organization",
	"Show me a call transcript from last week",
	"List all contacts in HubSpot",
	"Find companies with domain invesco.com",
}

type pageData struct {
	Examples       []string
	WidgetEnabled  bool
	TokenElementID string
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := s.page.Execute(w, pageData{
		Examples:       examplePrompts,
		WidgetEnabled:  s.widget != nil,
		TokenElementID: widget.ElementID,
	})
	if err != nil {
		logx.Error().Err(err).Msg("Failed to render index page")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestBytes)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	message := strings.TrimSpace(req.Message)
	if message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = session.DefaultSessionID
	}

	ctx := r.Context()
	if s.cfg.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.TurnTimeout)
		defer cancel()
	}

	res, err := s.chat.Run(ctx, sessionID, message)
	if err != nil {
		logx.Error().Err(err).Str("session_id", sessionID).Msg("Chat turn failed")
		if errors.Is(err, errx.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, errx.SystemErrorMessage)
		return
	}

	calls := res.ToolCalls
	if calls == nil {
		calls = []model.ToolInvocationEvent{}
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Response:  res.Reply,
		ToolCalls: calls,
		SessionID: sessionID,
	})
}

func (s *Server) handleResetHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		sessionID = session.DefaultSessionID
	}
	if err := s.chat.Reset(r.Context(), sessionID); err != nil {
		logx.Error().Err(err).Str("session_id", sessionID).Msg("Failed to clear history")
		writeError(w, errx.StatusOf(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWidgetToken(w http.ResponseWriter, r *http.Request) {
	if s.widget == nil {
		writeError(w, http.StatusInternalServerError, "widget bridge is not configured")
		return
	}

	token, err := s.widget.Token(r.Context())
	if err != nil {
		status := errx.StatusOf(err)
		if errors.Is(err, errx.ErrConfiguration) {
			status = http.StatusInternalServerError
		}
		logx.Error().Err(err).Int("status", status).Msg("Widget token exchange failed")
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, widgetTokenResponse{Token: token, HTML: widget.HTML(token)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logx.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
