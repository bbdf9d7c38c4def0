// Package web provides the HTTP status page and JSON API for the
// irrigation controller.
package web

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/sweeney/irrigation-controller/internal/control"
	"github.com/sweeney/irrigation-controller/internal/logic"
	"github.com/sweeney/irrigation-controller/internal/metrics"
	"github.com/sweeney/irrigation-controller/internal/status"
	"github.com/sweeney/irrigation-controller/internal/store"
)

// ScheduleSaver persists an accepted schedule.
type ScheduleSaver interface {
	Save(ctx context.Context, s logic.Schedule) error
}

// RunLog lists recent run log entries, newest first.
type RunLog interface {
	RecentRuns(ctx context.Context, limit int) ([]store.RunLogEntry, error)
}

// HealthChecker reports whether a dependency is usable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps are the collaborators the server reads from and writes through.
// Only Tracker and Queue are required.
type Deps struct {
	Tracker   *status.Tracker
	Queue     *control.Queue
	Saver     ScheduleSaver
	Runs      RunLog
	Health    HealthChecker
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
	AccessLog io.Writer // Apache combined log; nil disables
}

// Server serves the status page and API over HTTP.
type Server struct {
	httpServer *http.Server
	deps       Deps
	log        zerolog.Logger

	// editMu is held from submitting a schedule edit until it is committed,
	// so commits reach the tracker and the store in the order the loop
	// applied them.
	editMu sync.Mutex
}

// New creates a Server listening on addr.
func New(addr string, d Deps) *Server {
	s := &Server{deps: d, log: d.Logger}

	r := mux.NewRouter()
	s.route(r, "/", http.MethodGet, s.handleIndex)
	s.route(r, "/index.html", http.MethodGet, s.handleIndex)
	s.route(r, "/api/status", http.MethodGet, s.handleStatus)
	s.route(r, "/api/cycles", http.MethodGet, s.handleCycles)
	s.route(r, "/api/cycle", http.MethodPost, s.handleSetCycle)
	s.route(r, "/api/manual", http.MethodPost, s.handleManual)
	s.route(r, "/api/zonenames", http.MethodGet, s.handleZoneNames)
	s.route(r, "/api/zonenames", http.MethodPost, s.handleSetZoneNames)
	s.route(r, "/api/history", http.MethodGet, s.handleHistory)
	s.route(r, "/api/runs", http.MethodGet, s.handleRuns)
	s.route(r, "/health", http.MethodGet, s.handleHealth)
	r.Handle("/metrics", d.Metrics.Handler()).Methods(http.MethodGet)

	var h http.Handler = r
	if d.AccessLog != nil {
		h = handlers.LoggingHandler(d.AccessLog, h)
	}
	h = handlers.RecoveryHandler(handlers.PrintRecoveryStack(false))(h)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: h,
	}
	return s
}

func (s *Server) route(r *mux.Router, path, method string, fn http.HandlerFunc) {
	r.Handle(path, s.deps.Metrics.WrapHandler(path, fn)).Methods(method)
}

// Handler returns the root handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		s.log.Error().Err(err).Msg("render status page")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}
