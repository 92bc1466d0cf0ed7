package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hongminglow/all-in-floor/internal/auth"
	"github.com/hongminglow/all-in-floor/internal/config"
	"github.com/hongminglow/all-in-floor/internal/http/handlers"
	"github.com/hongminglow/all-in-floor/internal/live"
	"github.com/hongminglow/all-in-floor/internal/middleware"
	"github.com/hongminglow/all-in-floor/internal/storage"
)

// Deps are the collaborators the routes are built from.
type Deps struct {
	Store  storage.UserStore
	Ledger handlers.Ledger
	Tokens *auth.TokenManager
	Hub    *live.Hub
	Logger *slog.Logger
}

// Server wraps an http.Server with configured routes.
type Server struct {
	inner *http.Server
}

// New wires up middleware, routes, and returns a ready server.
func New(cfg config.Config, deps Deps) *Server {
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           Routes(cfg, deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return &Server{inner: httpServer}
}

// Routes builds the full handler tree. Exposed for tests.
func Routes(cfg config.Config, deps Deps) http.Handler {
	mux := http.NewServeMux()

	handlers.NewHealthHandler(time.Now()).Register(mux)
	handlers.NewAuthHandler(deps.Store, deps.Tokens, cfg.InitBalance, deps.Logger).Register(mux)
	handlers.NewAccountHandler(deps.Store, deps.Logger).Register(mux, middleware.Authenticate(deps.Tokens))
	handlers.NewAdminHandler(deps.Store, deps.Ledger, deps.Logger).Register(mux, middleware.AdminGate(deps.Tokens))
	if deps.Hub != nil {
		mux.Handle("GET /ws", deps.Hub)
	}

	return middleware.CORS(cfg.CORSOrigins, middleware.Logging(deps.Logger, mux))
}

// Start begins serving HTTP traffic.
func (s *Server) Start() error {
	return s.inner.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}
