package webpanel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/golnet1/majordomo-bridge/internal/audit"
	"github.com/golnet1/majordomo-bridge/internal/catalog"
	"github.com/golnet1/majordomo-bridge/internal/channels/scheduler"
	"github.com/golnet1/majordomo-bridge/internal/infrastructure/config"
	"github.com/golnet1/majordomo-bridge/internal/infrastructure/logging"
	"github.com/golnet1/majordomo-bridge/internal/router"
	"github.com/golnet1/majordomo-bridge/internal/update"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Dispatcher is the router surface the panel needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, intent router.CommandIntent) router.CommandResult
}

// Deps holds the dependencies required by the panel server.
type Deps struct {
	Config      config.WebPanelConfig
	Logger      *logging.Logger
	Dispatcher  Dispatcher
	Catalog     *catalog.Store
	CatalogPath string
	AuditRepo   audit.Repository
	Schedule    *scheduler.Store // nil when the scheduler is disabled
	Updates     *update.Checker  // nil when update checks are disabled
	Version     string
}

// Server is the operator panel HTTP server.
type Server struct {
	cfg         config.WebPanelConfig
	logger      *logging.Logger
	dispatcher  Dispatcher
	catalog     *catalog.Store
	catalogPath string
	auditRepo   audit.Repository
	schedule    *scheduler.Store
	updates     *update.Checker
	version     string

	server *http.Server
}

// New creates the panel server. Start must be called to begin listening.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if deps.Catalog == nil {
		return nil, fmt.Errorf("catalog store is required")
	}
	if deps.Config.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	return &Server{
		cfg:         deps.Config,
		logger:      deps.Logger.With("component", "webpanel"),
		dispatcher:  deps.Dispatcher,
		catalog:     deps.Catalog,
		catalogPath: deps.CatalogPath,
		auditRepo:   deps.AuditRepo,
		schedule:    deps.Schedule,
		updates:     deps.Updates,
		version:     deps.Version,
	}, nil
}

// Start launches the HTTP listener in a background goroutine.
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("panel server error", "error", err)
		}
	}()

	s.logger.Info("panel server started", "address", s.server.Addr)
	return nil
}

// Close gracefully shuts the server down.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("panel server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down panel server: %w", err)
	}
	return nil
}

// buildRouter assembles routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/aliases", s.handleGetAliases)
			r.Put("/aliases", s.handlePutAliases)

			r.Get("/audit", s.handleListAudit)

			r.Route("/schedule", func(r chi.Router) {
				r.Get("/", s.handleListTasks)
				r.Post("/", s.handleCreateTask)
				r.Delete("/", s.handleDeleteAllTasks)
				r.Delete("/{id}", s.handleDeleteTask)
			})

			r.Post("/command", s.handleCommand)
			r.Get("/update", s.handleUpdateStatus)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
