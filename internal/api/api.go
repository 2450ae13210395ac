// Package api exposes the task lifecycle over a JSON REST API.
package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/kylemclaren/slowstock/internal/engine"
	"github.com/kylemclaren/slowstock/internal/events"
	"github.com/kylemclaren/slowstock/internal/importer"
	"github.com/kylemclaren/slowstock/internal/logging"
)

// Options wires the optional collaborators of the server.
type Options struct {
	// CronSecret guards POST /api/v1/sweep. Empty disables the endpoint.
	CronSecret string
	// Hub feeds GET /api/v1/events.
	Hub *events.Hub
	// Evidence serves stored evidence files under EvidencePath.
	Evidence     http.Handler
	EvidencePath string
	Logger       logrus.FieldLogger
}

// Server represents the API server
type Server struct {
	engine   *engine.Engine
	importer *importer.Importer
	opts     Options
	log      logrus.FieldLogger
	router   chi.Router
}

// NewServer creates a new API server
func NewServer(eng *engine.Engine, imp *importer.Importer, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.GetLogger()
	}
	if opts.EvidencePath == "" {
		opts.EvidencePath = "/evidence"
	}
	s := &Server{
		engine:   eng,
		importer: imp,
		opts:     opts,
		log:      opts.Logger,
		router:   chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CORS)

	r.Get("/api/v1/health", s.HealthCheck)

	// Tasks
	r.Get("/api/v1/tasks", s.ListTasks)
	r.Get("/api/v1/tasks/stats", s.TaskStatistics)
	r.Get("/api/v1/tasks/owners", s.TaskOwners)
	r.Get("/api/v1/tasks/{sku}", s.GetTask)
	r.Post("/api/v1/tasks/{sku}/plan", s.SelectPlan)
	r.Post("/api/v1/tasks/{sku}/confirm-check", s.ConfirmCompletionCheck)
	r.Post("/api/v1/tasks/{sku}/confirm-review", s.ConfirmReview)
	r.Post("/api/v1/tasks/{sku}/approve", s.Approve)
	r.Post("/api/v1/tasks/{sku}/reject", s.Reject)
	r.Post("/api/v1/tasks/{sku}/evidence", s.AddEvidence)
	r.Delete("/api/v1/tasks/{sku}/evidence", s.RemoveEvidence)
	r.Put("/api/v1/tasks/{sku}/notes", s.UpdateNotes)

	// History
	r.Get("/api/v1/history", s.ListHistory)
	r.Get("/api/v1/history/stats", s.HistoryStatistics)
	r.Get("/api/v1/history/owners", s.HistoryOwners)

	// Inventory and owners
	r.Get("/api/v1/inventory", s.ListInventory)
	r.Get("/api/v1/inventory/stats", s.InventoryStatistics)
	r.Get("/api/v1/owners", s.ListOwnerPatterns)
	r.Put("/api/v1/owners", s.ReplaceOwnerPatterns)

	// Imports
	r.Post("/api/v1/imports", s.UploadSnapshot)
	r.Get("/api/v1/imports", s.ListImportRuns)
	r.Get("/api/v1/imports/{id}", s.GetImportRun)

	// Sweep trigger for external cron services
	r.Post("/api/v1/sweep", s.Sweep)

	// Live lifecycle events
	r.Get("/api/v1/events", s.StreamEvents)

	if s.opts.Evidence != nil {
		r.Handle(s.opts.EvidencePath+"/*", http.StripPrefix(s.opts.EvidencePath, s.opts.Evidence))
	}
}

// Router returns the chi router for use with http.Server
func (s *Server) Router() http.Handler {
	return s.router
}

// CORS allows browser dashboards on other origins.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Cron-Secret")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// validSecret accepts the cron secret as ?secret= or X-Cron-Secret.
func (s *Server) validSecret(r *http.Request) bool {
	if s.opts.CronSecret == "" {
		return false
	}
	got := r.Header.Get("X-Cron-Secret")
	if got == "" {
		got = r.URL.Query().Get("secret")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.CronSecret)) == 1
}
