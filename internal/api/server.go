// Package api implements the HTTP surface: the chat endpoint driving
// the orchestration loop, transcript and accumulated-result listings,
// and the history reset.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/yuin/goldmark"

	"github.com/nvarela/b1agent/internal/agent"
	"github.com/nvarela/b1agent/internal/buildinfo"
	"github.com/nvarela/b1agent/internal/cache"
	"github.com/nvarela/b1agent/internal/llm"
)

// historyWindow is how many recent transcript turns feed the model on
// each chat request.
const historyWindow = 10

// Responder runs one orchestrated exchange. Satisfied by *agent.Agent.
type Responder interface {
	Respond(ctx context.Context, history []llm.Message, userMessage string) (*agent.Result, error)
}

// writeJSON encodes v as JSON to w. Errors here typically mean the
// client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]any{"success": false, "error": message}); err != nil {
		logger.Debug("failed to write error response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	listen   string
	agent    Responder
	store    *cache.Store
	sessions *cache.Sessions
	logger   *slog.Logger
	server   *http.Server
}

// NewServer creates the API server.
func NewServer(listen string, responder Responder, store *cache.Store, sessions *cache.Sessions, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		listen:   listen,
		agent:    responder,
		store:    store,
		sessions: sessions,
		logger:   logger.With("component", "api"),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/queries", s.handleQueries)
	mux.HandleFunc("POST /api/clear", s.handleClear)

	mux.HandleFunc("GET /api/version", s.handleVersion)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    s.listen,
		Handler: s.Handler(),
		// Chat requests sit on the model for a while; keep the write
		// timeout generous.
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second,
	}

	s.logger.Info("starting API server", "listen", s.listen)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start).Round(time.Millisecond),
		)
	})
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Success   bool                 `json:"success"`
	Response  string               `json:"response"`
	Model     string               `json:"model,omitempty"`
	Rounds    int                  `json:"rounds"`
	SessionID string               `json:"session_id"`
	ToolLog   []agent.ToolLogEntry `json:"tool_log,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", s.logger)
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required", s.logger)
		return
	}

	ctx := r.Context()

	history, err := s.recentHistory(ctx)
	if err != nil {
		s.logger.Error("history load failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not load history", s.logger)
		return
	}

	if err := s.store.AddMessage(ctx, "user", req.Message); err != nil {
		s.logger.Warn("transcript write failed", "error", err)
	}

	result, err := s.agent.Respond(ctx, history, req.Message)
	if err != nil {
		s.logger.Error("chat failed", "error", err)
		writeError(w, http.StatusBadGateway, "the assistant is unavailable right now", s.logger)
		return
	}

	if err := s.store.AddMessage(ctx, "assistant", result.Content); err != nil {
		s.logger.Warn("transcript write failed", "error", err)
	}

	writeJSON(w, chatResponse{
		Success:   true,
		Response:  result.Content,
		Model:     result.Model,
		Rounds:    result.Rounds,
		SessionID: s.sessions.Current(),
		ToolLog:   result.ToolLog,
	}, s.logger)
}

// recentHistory loads the transcript window as model messages.
func (s *Server) recentHistory(ctx context.Context) ([]llm.Message, error) {
	msgs, err := s.store.RecentMessages(ctx, historyWindow)
	if err != nil {
		return nil, err
	}
	history := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		history[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	return history, nil
}

type historyMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	HTML      string    `json:"html,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.store.RecentMessages(r.Context(), 200)
	if err != nil {
		s.logger.Error("history load failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not load history", s.logger)
		return
	}

	renderHTML := r.URL.Query().Get("format") == "html"

	out := make([]historyMessage, len(msgs))
	for i, m := range msgs {
		out[i] = historyMessage{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		}
		// Assistant turns are markdown; render them for UI consumers
		// that asked for HTML.
		if renderHTML && m.Role == "assistant" {
			var buf bytes.Buffer
			if err := goldmark.Convert([]byte(m.Content), &buf); err != nil {
				s.logger.Warn("markdown render failed", "message_id", m.ID, "error", err)
				continue
			}
			out[i].HTML = buf.String()
		}
	}

	writeJSON(w, map[string]any{
		"success":  true,
		"count":    len(out),
		"messages": out,
	}, s.logger)
}

func (s *Server) handleQueries(w http.ResponseWriter, r *http.Request) {
	full := r.URL.Query().Get("full") == "1"

	session := s.sessions.Current()
	entries, err := s.store.ListForSession(r.Context(), session, full)
	if err != nil {
		s.logger.Error("query list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not list queries", s.logger)
		return
	}

	writeJSON(w, map[string]any{
		"success":    true,
		"session_id": session,
		"count":      len(entries),
		"queries":    entries,
	}, s.logger)
}

// handleClear wipes the transcript and every accumulated result, then
// invalidates the session so nothing stale is reachable.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.store.ClearMessages(ctx); err != nil {
		s.logger.Error("transcript clear failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not clear history", s.logger)
		return
	}
	if err := s.store.ClearAll(ctx); err != nil {
		s.logger.Error("cache clear failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not clear cached queries", s.logger)
		return
	}
	s.sessions.Reset()

	newSession := s.sessions.Current()
	s.logger.Info("history cleared", "session", newSession)

	writeJSON(w, map[string]any{
		"success":    true,
		"session_id": newSession,
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"status": "ok",
		"uptime": buildinfo.Uptime().Round(time.Second).String(),
	}, s.logger)
}
