// Package server exposes the gateway over HTTP: command submission and
// history for authenticated users, the admin surface for users, rules,
// the approval queue and audit logs, plus the websocket event stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"cmdgate/internal/credit"
	"cmdgate/internal/domain"
	"cmdgate/internal/gateway"
	"cmdgate/internal/metrics"
	"cmdgate/internal/notify"

	"github.com/google/uuid"
)

const maxBodySize = 1 << 20 // 1MB

type Config struct {
	Host    string
	Port    int
	Store   domain.Store
	Gateway *gateway.Gateway
	Ledger  *credit.Ledger
	Hub     *notify.Hub
	Metrics *metrics.Collector
	Logger  *slog.Logger

	// Starting balances for users created over the admin API.
	MemberCredits int
	AdminCredits  int
}

type Server struct {
	host    string
	port    int
	store   domain.Store
	gateway *gateway.Gateway
	ledger  *credit.Ledger
	hub     *notify.Hub
	metrics *metrics.Collector
	logger  *slog.Logger
	server  *http.Server

	memberCredits int
	adminCredits  int
}

func New(cfg Config) *Server {
	if cfg.MemberCredits <= 0 {
		cfg.MemberCredits = 100
	}
	if cfg.AdminCredits <= 0 {
		cfg.AdminCredits = 1000
	}
	return &Server{
		host:          cfg.Host,
		port:          cfg.Port,
		store:         cfg.Store,
		gateway:       cfg.Gateway,
		ledger:        cfg.Ledger,
		hub:           cfg.Hub,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		memberCredits: cfg.MemberCredits,
		adminCredits:  cfg.AdminCredits,
	}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /commands", s.requireUser(s.handleSubmit))
	mux.HandleFunc("GET /commands", s.requireUser(s.handleListCommands))
	mux.HandleFunc("GET /commands/{id}", s.requireUser(s.handleGetCommand))
	mux.HandleFunc("POST /commands/{id}/decision", s.requireAdmin(s.handleDecision))

	mux.HandleFunc("GET /admin/pending", s.requireAdmin(s.handleListPending))
	mux.HandleFunc("POST /admin/users", s.requireAdmin(s.handleCreateUser))
	mux.HandleFunc("GET /admin/users", s.requireAdmin(s.handleListUsers))
	mux.HandleFunc("PUT /admin/users/{id}", s.requireAdmin(s.handleUpdateUser))
	mux.HandleFunc("POST /admin/rules", s.requireAdmin(s.handleCreateRule))
	mux.HandleFunc("GET /admin/rules", s.requireAdmin(s.handleListRules))
	mux.HandleFunc("PUT /admin/rules/{id}", s.requireAdmin(s.handleUpdateRule))
	mux.HandleFunc("DELETE /admin/rules/{id}", s.requireAdmin(s.handleDeleteRule))
	mux.HandleFunc("GET /admin/audit-logs", s.requireAdmin(s.handleListAudit))

	mux.HandleFunc("GET /ws", s.hub.WSHandler(s.store))
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	return mux
}

// Start runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // websocket connections stay open
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	s.logger.Info("HTTP server started", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// --- auth ---

type authedHandler func(rw http.ResponseWriter, r *http.Request, user *domain.User)

// requireUser resolves the X-API-KEY header to a user. An unknown or
// missing key is a 401.
func (s *Server) requireUser(next authedHandler) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-KEY")
		if key == "" {
			s.writeError(rw, fmt.Errorf("%w: missing X-API-KEY header", domain.ErrUnauthorized))
			return
		}
		user, err := s.store.GetUserByAPIKey(r.Context(), key)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				s.writeError(rw, fmt.Errorf("%w: invalid API key", domain.ErrUnauthorized))
				return
			}
			s.writeError(rw, err)
			return
		}
		next(rw, r, user)
	}
}

func (s *Server) requireAdmin(next authedHandler) http.HandlerFunc {
	return s.requireUser(func(rw http.ResponseWriter, r *http.Request, user *domain.User) {
		if !user.IsAdmin() {
			s.writeError(rw, fmt.Errorf("%w: admin access required", domain.ErrForbidden))
			return
		}
		next(rw, r, user)
	})
}

func (s *Server) handleHealth(rw http.ResponseWriter, r *http.Request) {
	s.writeJSON(rw, http.StatusOK, map[string]string{"status": "ok"})
}

// --- responses ---

func (s *Server) writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

// writeError maps domain errors to HTTP statuses. Unrecognized errors are
// logged and reported as a bare 500.
func (s *Server) writeError(rw http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "err", err)
		s.writeJSON(rw, status, map[string]string{"error": "internal error"})
		return
	}
	s.writeJSON(rw, status, map[string]string{"error": err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body", domain.ErrValidation)
	}
	return nil
}

func NewID() string { return uuid.NewString() }
