package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kylemclaren/slowstock/internal/engine"
	"github.com/kylemclaren/slowstock/internal/evidence"
	"github.com/kylemclaren/slowstock/internal/importer"
	"github.com/kylemclaren/slowstock/internal/inventory"
	"github.com/kylemclaren/slowstock/internal/task"
	"github.com/kylemclaren/slowstock/internal/version"
)

// HealthCheck handles GET /api/v1/health
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.engine.DB().Ping(ctx); err != nil {
		s.log.WithError(err).Warn("Health check: database unreachable")
		s.jsonResponse(w, http.StatusServiceUnavailable, HealthResponse{
			Status:   "unavailable",
			Version:  version.Version,
			Database: "unreachable",
		})
		return
	}
	s.jsonResponse(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Version:  version.Version,
		Database: s.engine.DB().Dialect(),
	})
}

// ListTasks handles GET /api/v1/tasks
func (s *Server) ListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := task.Filter{
		SKU:    strings.TrimSpace(q.Get("sku")),
		Charge: strings.TrimSpace(q.Get("charge")),
	}
	var err error
	if f.Label, err = inventory.ParseFilter(q.Get("label")); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid label filter", err)
		return
	}
	if f.Status, err = task.ParseStatusFilter(q.Get("status")); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid status filter", err)
		return
	}
	if raw := q.Get("plan"); raw != "" {
		p, err := task.ParsePlan(raw)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, "Invalid plan filter", err)
			return
		}
		f.Plan = &p
	}

	tasks, err := s.engine.ListTasks(r.Context(), f)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to fetch tasks", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, TaskListResponse{Tasks: tasks, Total: len(tasks)})
}

// TaskStatistics handles GET /api/v1/tasks/stats
func (s *Server) TaskStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.TaskStatistics(r.Context(), strings.TrimSpace(r.URL.Query().Get("charge")))
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to compute statistics", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, stats)
}

// TaskOwners handles GET /api/v1/tasks/owners
func (s *Server) TaskOwners(w http.ResponseWriter, r *http.Request) {
	owners, err := s.engine.TaskOwners(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to fetch owners", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, OwnersResponse{Owners: owners})
}

// GetTask handles GET /api/v1/tasks/{sku}
func (s *Server) GetTask(w http.ResponseWriter, r *http.Request) {
	sku, ok := s.skuParam(w, r)
	if !ok {
		return
	}
	view, err := s.engine.GetTask(r.Context(), sku)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			s.errorResponse(w, http.StatusNotFound, "Task not found", err)
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, "Failed to fetch task", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, view)
}

// SelectPlan handles POST /api/v1/tasks/{sku}/plan
func (s *Server) SelectPlan(w http.ResponseWriter, r *http.Request) {
	sku, ok := s.skuParam(w, r)
	if !ok {
		return
	}
	var req SelectPlanRequest
	if !s.decode(w, r, &req) {
		return
	}
	plan, err := task.ParsePlan(strings.Trim(string(req.Plan), `"`))
	if err != nil {
		s.domainError(w, err)
		return
	}
	t, err := s.engine.SelectPlan(r.Context(), sku, req.Version, plan)
	s.taskResult(w, t, err)
}

// ConfirmCompletionCheck handles POST /api/v1/tasks/{sku}/confirm-check
func (s *Server) ConfirmCompletionCheck(w http.ResponseWriter, r *http.Request) {
	sku, ok := s.skuParam(w, r)
	if !ok {
		return
	}
	var req VersionedRequest
	if !s.decodeOptional(w, r, &req) {
		return
	}
	t, err := s.engine.ConfirmCompletionCheck(r.Context(), sku, req.Version)
	s.taskResult(w, t, err)
}

// ConfirmReview handles POST /api/v1/tasks/{sku}/confirm-review
func (s *Server) ConfirmReview(w http.ResponseWriter, r *http.Request) {
	sku, ok := s.skuParam(w, r)
	if !ok {
		return
	}
	var req VersionedRequest
	if !s.decodeOptional(w, r, &req) {
		return
	}
	t, err := s.engine.ConfirmReview(r.Context(), sku, req.Version)
	s.taskResult(w, t, err)
}

// Approve handles POST /api/v1/tasks/{sku}/approve
func (s *Server) Approve(w http.ResponseWriter, r *http.Request) {
	sku, ok := s.skuParam(w, r)
	if !ok {
		return
	}
	var req VersionedRequest
	if !s.decodeOptional(w, r, &req) {
		return
	}
	entry, err := s.engine.Approve(r.Context(), sku, req.Version)
	if err != nil {
		s.domainError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, TransitionResponse{Success: true, Entry: entry})
}

// Reject handles POST /api/v1/tasks/{sku}/reject
func (s *Server) Reject(w http.ResponseWriter, r *http.Request) {
	sku, ok := s.skuParam(w, r)
	if !ok {
		return
	}
	var req RejectRequest
	if !s.decode(w, r, &req) {
		return
	}
	t, err := s.engine.Reject(r.Context(), sku, req.Version, req.Reason)
	s.taskResult(w, t, err)
}

// UpdateNotes handles PUT /api/v1/tasks/{sku}/notes
func (s *Server) UpdateNotes(w http.ResponseWriter, r *http.Request) {
	sku, ok := s.skuParam(w, r)
	if !ok {
		return
	}
	var req NotesRequest
	if !s.decode(w, r, &req) {
		return
	}
	t, err := s.engine.UpdateNotes(r.Context(), sku, req.Version, req.Notes)
	s.taskResult(w, t, err)
}

// RemoveEvidence handles DELETE /api/v1/tasks/{sku}/evidence
func (s *Server) RemoveEvidence(w http.ResponseWriter, r *http.Request) {
	sku, ok := s.skuParam(w, r)
	if !ok {
		return
	}
	var req RemoveEvidenceRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.URL == "" {
		s.errorResponse(w, http.StatusBadRequest, errEmptyURL.Error(), nil)
		return
	}
	t, err := s.engine.RemoveEvidence(r.Context(), sku, req.Version, req.URL)
	s.taskResult(w, t, err)
}

// Helper functions

func (s *Server) skuParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	sku, err := url.PathUnescape(chi.URLParam(r, "sku"))
	if err != nil || strings.TrimSpace(sku) == "" {
		s.errorResponse(w, http.StatusBadRequest, errInvalidSKU.Error(), err)
		return "", false
	}
	return sku, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func (s *Server) decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	return s.decode(w, r, v)
}

func (s *Server) taskResult(w http.ResponseWriter, t *task.Task, err error) {
	if err != nil {
		s.domainError(w, err)
		return
	}
	view := task.NewView(t, t.UpdatedAt)
	s.jsonResponse(w, http.StatusOK, TransitionResponse{Success: true, Task: &view})
}

// domainError maps engine errors to status codes: conflicts 409, missing
// tasks 404, lifecycle violations 422, malformed input 400.
func (s *Server) domainError(w http.ResponseWriter, err error) {
	var te *task.TransitionError
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, task.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, task.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.As(err, &te):
		status, code = http.StatusUnprocessableEntity, "invalid_transition"
	case task.IsValidation(err):
		status, code = http.StatusUnprocessableEntity, "validation"
	case errors.Is(err, engine.ErrInvalidInput),
		errors.Is(err, evidence.ErrEmpty),
		errors.Is(err, evidence.ErrTooLarge),
		errors.Is(err, evidence.ErrBadType),
		errors.Is(err, importer.ErrTooLarge):
		status, code = http.StatusBadRequest, "bad_request"
	}
	if status == http.StatusInternalServerError {
		s.log.WithError(err).Error("Request failed")
	}
	s.jsonResponse(w, status, TransitionResponse{Error: err.Error(), Code: code})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{
		Error: message,
	}
	if err != nil {
		resp.Details = err.Error()
	}
	s.jsonResponse(w, status, resp)
}

// Validation errors
type validationError string

func (e validationError) Error() string { return string(e) }

const (
	errInvalidSKU   validationError = "Invalid SKU"
	errEmptyURL     validationError = "Evidence URL is required"
	errMissingFile  validationError = "Multipart field \"file\" is required"
	errBadDate      validationError = "Dates must be YYYY-MM-DD or RFC3339"
	errBadSecret    validationError = "Invalid cron secret"
	errNoEventsFeed validationError = "Event stream is not enabled"
)

func (s *Server) taskResultWithURL(w http.ResponseWriter, t *task.Task, url string) {
	view := task.NewView(t, t.UpdatedAt)
	s.jsonResponse(w, http.StatusOK, TransitionResponse{Success: true, Task: &view, URL: url})
}
