// Package server exposes the chat pipeline over HTTP with an NDJSON
// streaming response.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/haasonsaas/relay/internal/conversations"
	"github.com/haasonsaas/relay/internal/orchestrator"
	"github.com/haasonsaas/relay/internal/stream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server routes chat requests to the pipeline.
type Server struct {
	pipeline *orchestrator.Pipeline
	store    conversations.Store
	auth     *Authenticator
	logger   *slog.Logger
	router   chi.Router
}

// Options configures a Server.
type Options struct {
	Pipeline *orchestrator.Pipeline
	Store    conversations.Store

	// Tokens maps bearer tokens to user ids. Empty disables auth and
	// attributes every request to the anonymous user.
	Tokens map[string]string

	Logger *slog.Logger
}

// New creates the server and its routes.
func New(opts Options) (*Server, error) {
	if opts.Pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	if opts.Store == nil {
		return nil, errors.New("conversation store is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{
		pipeline: opts.Pipeline,
		store:    opts.Store,
		auth:     NewAuthenticator(opts.Tokens),
		logger:   opts.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Post("/v1/chat", s.handleChat)
		r.Get("/v1/conversations", s.handleListConversations)
		r.Get("/v1/conversations/{id}/messages", s.handleMessages)
	})

	s.router = r
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

type chatRequest struct {
	Message        string   `json:"message"`
	ConversationID string   `json:"conversation_id,omitempty"`
	SkillID        string   `json:"skill_id,omitempty"`
	ImageURLs      []string `json:"image_urls,omitempty"`
}

// handleChat runs the pipeline and streams its events. The keepalive is
// written before the pipeline starts, so the client sees a committed
// response even when the first upstream call is slow.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" && len(req.ImageURLs) == 0 {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	userID := UserID(r.Context())

	events, conversationID, err := s.pipeline.Run(r.Context(), orchestrator.ChatRequest{
		UserID:         userID,
		ConversationID: req.ConversationID,
		Message:        req.Message,
		ImageURLs:      req.ImageURLs,
		SkillID:        req.SkillID,
	})
	switch {
	case errors.Is(err, orchestrator.ErrConversationBusy):
		writeError(w, http.StatusConflict, "conversation already has a request in flight")
		return
	case errors.Is(err, conversations.ErrNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	case err != nil:
		s.logger.Error("chat request rejected", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writer, err := stream.NewWriter(w)
	if err != nil {
		// The response is unusable, but the pipeline keeps running and
		// persisting; drain so it can finish.
		s.logger.Warn("stream open failed", "conversation_id", conversationID, "error", err)
		for range events {
		}
		return
	}

	start := time.Now()
	var writeFailed bool
	for event := range events {
		if writeFailed {
			// Client is gone; keep draining so results persist.
			continue
		}
		if err := writer.Write(event); err != nil {
			writeFailed = true
			s.logger.Info("client disconnected mid-stream",
				"conversation_id", conversationID,
				"elapsed_ms", time.Since(start).Milliseconds())
		}
	}
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	list, err := s.store.List(r.Context(), userID, 50)
	if err != nil {
		s.logger.Error("list conversations failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": list})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	conversationID := chi.URLParam(r, "id")

	conversation, err := s.store.Get(r.Context(), conversationID)
	if errors.Is(err, conversations.ErrNotFound) || (err == nil && conversation.UserID != userID) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	history, err := s.store.History(r.Context(), conversationID, 200)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": history})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// ListenAddr formats a host/port pair.
func ListenAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
