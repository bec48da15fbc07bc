package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixgeelhaar/techshelf/internal/config"
	"github.com/felixgeelhaar/techshelf/internal/domain"
	"github.com/felixgeelhaar/techshelf/internal/storefront"
)

// Server represents the techshelf daemon HTTP server
type Server struct {
	cfg     *config.LocalConfig
	engine  *storefront.Engine
	server  *http.Server
	router  *http.ServeMux
	version string
	started time.Time
}

// ServerConfig holds configuration for creating a new server
type ServerConfig struct {
	Engine  *storefront.Engine
	Version string
}

// NewServer creates a new daemon server around a started engine
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		cfg:     cfg.Engine.Config(),
		engine:  cfg.Engine,
		router:  http.NewServeMux(),
		version: version,
		started: time.Now(),
	}

	s.setupRoutes()

	handler := recoveryMiddleware(loggingMiddleware(correlationIDMiddleware(
		s.engine.Metrics.InstrumentHandler(s.router))))
	s.server = &http.Server{
		Addr:         s.cfg.DaemonAddr(),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2*s.cfg.Timeout() + 5*time.Second, // checkout may flush and then post
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Health & status
	s.router.HandleFunc("GET /v1/health", s.handleHealth)
	s.router.HandleFunc("GET /v1/status", s.handleStatus)
	s.router.HandleFunc("GET /v1/config", s.handleGetConfig)
	s.router.Handle("GET /metrics", s.engine.Metrics.Handler())

	// Session
	s.router.HandleFunc("GET /v1/session", s.handleGetSession)
	s.router.HandleFunc("POST /v1/session/login", s.handleLogin)
	s.router.HandleFunc("POST /v1/session/register", s.handleRegister)
	s.router.HandleFunc("POST /v1/session/logout", s.handleLogout)
	s.router.HandleFunc("GET /v1/session/profile", s.handleGetProfile)
	s.router.HandleFunc("PUT /v1/session/profile", s.handleUpdateProfile)
	s.router.HandleFunc("POST /v1/session/upgrade", s.handleUpgradeRole)

	// Cart
	s.router.HandleFunc("GET /v1/cart", s.handleGetCart)
	s.router.HandleFunc("POST /v1/cart/reload", s.handleReloadCart)
	s.router.HandleFunc("POST /v1/cart/items", s.handleAddItem)
	s.router.HandleFunc("PUT /v1/cart/items/{id}", s.handleUpdateQuantity)
	s.router.HandleFunc("DELETE /v1/cart/items/{id}", s.handleRemoveItem)
	s.router.HandleFunc("POST /v1/cart/promotion", s.handleApplyPromotion)
	s.router.HandleFunc("POST /v1/cart/checkout", s.handleCheckout)
	s.router.HandleFunc("POST /v1/cart/merge", s.handleMergeCart)
	s.router.HandleFunc("POST /v1/cart/flush", s.handleFlush)
	s.router.HandleFunc("DELETE /v1/cart/guest", s.handleClearGuestCart)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	slog.Info("starting techshelf daemon",
		"addr", s.server.Addr,
		"api", s.cfg.API.BaseURL,
		"storage", s.cfg.Storage.Driver,
	)
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests, then closes the engine
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down daemon...")

	err := s.server.Shutdown(ctx)
	if closeErr := s.engine.Close(ctx); closeErr != nil {
		slog.Warn("failed to close engine", "error", closeErr)
		if err == nil {
			err = closeErr
		}
	}
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.engine.Status()
	s.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":         "running",
		"version":        s.version,
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"session":        status.Session,
		"cart":           status.Cart,
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	// Return config without secrets
	s.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"api":     s.cfg.API,
		"storage": s.cfg.Storage,
		"cart":    s.cfg.Cart,
		"daemon":  s.cfg.Daemon,
		"events": map[string]interface{}{
			"queue":   s.cfg.Events.Queue,
			"enabled": s.cfg.Events.RabbitMQURL != "",
		},
	})
}

// Helper methods

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (s *Server) jsonError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]interface{}{
		"error":  message,
		"status": status,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	s.jsonResponse(w, status, response)
}

// engineError writes an engine failure with the status matching its kind
// and the message the engine would show a user.
func (s *Server) engineError(w http.ResponseWriter, err error, fallback string) {
	s.jsonError(w, statusFor(err), domain.UserMessage(err, fallback), err)
}

// statusFor maps an engine error to an HTTP status
func statusFor(err error) int {
	var de *domain.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrBusiness):
		if errors.As(err, &de) && de.Status == http.StatusNotFound {
			return http.StatusNotFound
		}
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrTransient):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// decodeJSON reads a JSON request body, writing a 400 on failure
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	return true
}
