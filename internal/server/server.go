// Package server provides the local HTTP API for the export engine. UI
// frontends start exports, follow run progress over SSE, and manage run
// history through it.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/exportd/internal/orchestrator"
)

// Config holds server configuration.
type Config struct {
	Port      int
	JWTSecret string
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	orch       *orchestrator.Orchestrator
	hub        *Hub
	jwt        *JWTService
	log        *zap.Logger
}

// New creates a server over orch. hub must be the same Hub registered as the
// orchestrator's notifier, or SSE clients see nothing.
func New(cfg Config, orch *orchestrator.Orchestrator, hub *Hub, log *zap.Logger) *Server {
	s := &Server{orch: orch, hub: hub, log: log}
	if cfg.JWTSecret != "" {
		s.jwt = NewJWTService(cfg.JWTSecret)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /export/{platform}", s.requireAuth(s.handleExport))
	mux.HandleFunc("GET /runs", s.handleListRuns)
	mux.HandleFunc("GET /runs/{id}", s.handleGetRun)
	mux.HandleFunc("POST /runs/{id}/stop", s.requireAuth(s.handleStopRun))
	mux.HandleFunc("POST /runs/{id}/resume", s.requireAuth(s.handleResumeRun))
	mux.HandleFunc("DELETE /runs/{id}", s.requireAuth(s.handleDeleteRun))
	mux.HandleFunc("GET /platforms", s.handleListPlatforms)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.jwt != nil {
		mux.HandleFunc("POST /auth/token", s.handleIssueToken)
	}

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf("127.0.0.1:%d", cfg.Port),
		Handler:     s.withLogging(s.withCORS(mux)),
		ReadTimeout: 30 * time.Second,
		// No write timeout: /events streams indefinitely.
		IdleTimeout: 60 * time.Second,
	}
	return s
}

// Start listens until an interrupt or SIGTERM, then shuts down gracefully.
func (s *Server) Start() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-stop:
	}

	s.log.Info("shutting down api server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// Handler exposes the configured handler for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// requireAuth guards mutating routes. With no secret configured the engine
// trusts its loopback callers.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.jwt == nil {
			next(w, r)
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if _, err := s.jwt.ValidateToken(token); err != nil {
			s.errorResponse(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		next(w, r)
	}
}

// withCORS adds CORS headers.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withLogging adds request logging.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	})
}

// jsonResponse writes a JSON response.
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("failed to encode response", zap.Error(err))
	}
}

// errorResponse writes an error JSON response.
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleIssueToken pairs a local client.
func (s *Server) handleIssueToken(w http.ResponseWriter, _ *http.Request) {
	token, err := s.jwt.IssueToken()
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"token": token})
}
