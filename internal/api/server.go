// Package api serves dashboard status, manual render triggers, published
// artifacts and live publish notifications over HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"git.home.luguber.info/inful/dashrender/internal/detect"
	"git.home.luguber.info/inful/dashrender/internal/eventstore"
	"git.home.luguber.info/inful/dashrender/internal/events"
	"git.home.luguber.info/inful/dashrender/internal/foundation/errors"
	"git.home.luguber.info/inful/dashrender/internal/layout"
	"git.home.luguber.info/inful/dashrender/internal/logfields"
	"git.home.luguber.info/inful/dashrender/internal/scheduler"
)

// Layouts is the read side of the layout store.
type Layouts interface {
	List() []string
	Get(id string) (*layout.Layout, layout.Fingerprint, error)
	Invalid() map[string]error
}

// Scheduler is the part of the render scheduler the API drives.
type Scheduler interface {
	TriggerForce(id string, reason scheduler.Reason) error
	Status(id string) (scheduler.Status, bool)
	InFlight() int
}

// Artifacts locates published images.
type Artifacts interface {
	Lookup(id string) (path, ext string, ok bool)
}

// Deps are the collaborators of the API server. History, Bus and Metrics
// are optional; their routes answer 404 when unset.
type Deps struct {
	Layouts   Layouts
	Scheduler Scheduler
	Artifacts Artifacts
	Records   *detect.Table
	History   eventstore.Store
	Bus       *events.Bus
	Metrics   http.Handler
	Version   string
}

// Server represents the API server.
type Server struct {
	Addr    string
	deps    Deps
	router  *chi.Mux
	server  *http.Server
	errs    *errors.HTTPErrorAdapter
	started time.Time
	hub     *hub
}

// NewServer creates a new API server.
func NewServer(addr string, deps Deps) *Server {
	s := &Server{
		Addr:    addr,
		deps:    deps,
		router:  chi.NewRouter(),
		errs:    errors.NewHTTPErrorAdapter(slog.Default()),
		started: time.Now(),
	}
	if deps.Bus != nil {
		s.hub = newHub(deps.Bus)
	}

	s.setupRoutes()

	// No WriteTimeout: websocket connections are long lived.
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(slog.Default()))
	s.router.Use(recoverer(s.errs))

	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api/dashboards", func(r chi.Router) {
		r.Get("/", s.handleListDashboards)
		r.Get("/{id}", s.handleGetDashboard)
		r.Post("/{id}/render", s.handleRender)
		r.Get("/{id}/history", s.handleHistory)
	})

	s.router.Get("/artifacts/{id}", s.handleArtifact)
	s.router.Get("/ws", s.handleEvents)

	if s.deps.Metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start binds the listen address and serves in the background. Binding
// errors are returned synchronously.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.Addr)
	if err != nil {
		return errors.WrapError(err, errors.CategoryDaemon, "failed to bind HTTP listener").
			WithContext("addr", s.Addr).
			Build()
	}
	if s.hub != nil {
		s.hub.start()
	}
	slog.Info("HTTP server started", slog.String("addr", ln.Addr().String()))
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", logfields.Error(err))
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the server and disconnects websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.close()
	}
	return s.server.Shutdown(ctx)
}

// Response represents a standard API response.
type Response struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

// Success writes a success response.
func (s *Server) Success(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(Response{Success: true, Data: data})
}

// Error writes a classified error response.
func (s *Server) Error(w http.ResponseWriter, r *http.Request, err error) {
	s.errs.WriteErrorResponse(w, r, err)
}

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status     string  `json:"status"`
	Version    string  `json:"version,omitempty"`
	Uptime     float64 `json:"uptime"`
	Dashboards int     `json:"dashboards"`
	Invalid    int     `json:"invalid_layouts"`
	ActiveJobs int     `json:"active_jobs"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.Success(w, http.StatusOK, HealthResponse{
		Status:     "healthy",
		Version:    s.deps.Version,
		Uptime:     time.Since(s.started).Seconds(),
		Dashboards: len(s.deps.Layouts.List()),
		Invalid:    len(s.deps.Layouts.Invalid()),
		ActiveJobs: s.deps.Scheduler.InFlight(),
	})
}
