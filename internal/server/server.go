// Package server exposes the orchestrator over HTTP. Chat turns stream
// their events as Server-Sent Events.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/danshapiro/uigen/internal/agent"
	"github.com/danshapiro/uigen/internal/ratelimit"
	"github.com/danshapiro/uigen/internal/store"
)

var errShuttingDown = errors.New("server shutting down")

type Config struct {
	Addr            string // listen address, e.g. ":3000"
	ShutdownTimeout time.Duration
	// AllowedOrigins are extra hostnames allowed to POST from a browser.
	AllowedOrigins []string
	MaxBodyBytes   int64
}

// TurnRunner runs one chat turn. *agent.Orchestrator implements it.
type TurnRunner interface {
	RunTurn(ctx context.Context, in agent.TurnInput, sink agent.EventSink) (agent.TurnResult, error)
}

// ProjectStore is the read side of project persistence plus creation.
type ProjectStore interface {
	CreateProject(ctx context.Context, userID, name string) (store.Project, error)
	GetProject(ctx context.Context, id, userID string) (store.Project, error)
	ListProjects(ctx context.Context, userID string) ([]store.ProjectSummary, error)
}

// RateGate decides whether a request may proceed.
type RateGate interface {
	Check(ctx context.Context, callerID string) ratelimit.Decision
}

type Deps struct {
	Runner   TurnRunner
	Projects ProjectStore  // optional
	Limiter  RateGate      // optional
	Auth     Authenticator // optional
	Logger   *zap.Logger
}

type Server struct {
	config   Config
	runner   TurnRunner
	projects ProjectStore
	limiter  RateGate
	auth     Authenticator
	turns    *TurnRegistry
	logger   *zap.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	httpSrv *http.Server
}

func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Runner == nil {
		return nil, fmt.Errorf("server: turn runner is required")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:   cfg,
		runner:   deps.Runner,
		projects: deps.Projects,
		limiter:  deps.Limiter,
		auth:     deps.Auth,
		turns:    NewTurnRegistry(),
		logger:   logger.Named("server"),
		baseCtx:  ctx,
		cancel:   cancel,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/turns/{id}", s.handleGetTurn)
	mux.HandleFunc("GET /api/turns/{id}/events", s.handleTurnEvents)
	mux.HandleFunc("POST /api/turns/{id}/cancel", s.handleCancelTurn)
	mux.HandleFunc("GET /api/projects", s.handleListProjects)
	mux.HandleFunc("POST /api/projects", s.handleCreateProject)
	mux.HandleFunc("GET /api/projects/{id}", s.handleGetProject)

	// Outermost first: log, rate limit, authenticate, protect, CSRF.
	var h http.Handler = csrfProtect(mux, cfg.AllowedOrigins)
	h = s.requireAuth(h)
	h = s.authenticate(h)
	h = s.rateLimit(h)
	h = s.logRequests(h)

	s.httpSrv = &http.Server{
		Handler:      h,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streams can outlive any fixed write deadline
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	return s, nil
}

// Handler returns the full middleware chain.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// ListenAndServe blocks until SIGINT/SIGTERM or Shutdown.
func (s *Server) ListenAndServe() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info("shutting down", zap.String("signal", sig.String()))
			s.Shutdown()
		case <-s.baseCtx.Done():
		}
	}()

	s.logger.Info("listening", zap.String("addr", s.config.Addr))
	s.httpSrv.Addr = s.config.Addr
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown cancels running turns, drains connections and stops the server.
// Turn saves run on detached contexts and still complete.
func (s *Server) Shutdown() {
	s.turns.CancelAll(errShuttingDown)

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
	}
	s.cancel()
}
