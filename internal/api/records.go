package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/kylemclaren/slowstock/internal/inventory"
	"github.com/kylemclaren/slowstock/internal/task"
)

// ListHistory handles GET /api/v1/history
func (s *Server) ListHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := task.HistoryFilter{
		SKU:          strings.TrimSpace(q.Get("sku")),
		Charge:       strings.TrimSpace(q.Get("charge")),
		ReviewStatus: task.ReviewStatus(q.Get("review_status")),
	}
	if f.ReviewStatus != "" && !f.ReviewStatus.Valid() {
		s.errorResponse(w, http.StatusBadRequest, "Invalid review_status", nil)
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
	var err error
	if f.From, err = parseDate(q.Get("from")); err != nil {
		s.errorResponse(w, http.StatusBadRequest, errBadDate.Error(), err)
		return
	}
	if f.To, err = parseDate(q.Get("to")); err != nil {
		s.errorResponse(w, http.StatusBadRequest, errBadDate.Error(), err)
		return
	}

	entries, err := s.engine.ListHistory(r.Context(), f)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to fetch history", err)
		return
	}
	if entries == nil {
		entries = []*task.Entry{}
	}
	s.jsonResponse(w, http.StatusOK, HistoryListResponse{Entries: entries, Total: len(entries)})
}

// HistoryStatistics handles GET /api/v1/history/stats
func (s *Server) HistoryStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.HistoryStatistics(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to compute statistics", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, stats)
}

// HistoryOwners handles GET /api/v1/history/owners
func (s *Server) HistoryOwners(w http.ResponseWriter, r *http.Request) {
	owners, err := s.engine.HistoryOwners(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to fetch owners", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, OwnersResponse{Owners: owners})
}

// ListInventory handles GET /api/v1/inventory
func (s *Server) ListInventory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	label, err := inventory.ParseFilter(q.Get("label"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid label filter", err)
		return
	}
	records, err := s.engine.ListInventory(r.Context(), strings.TrimSpace(q.Get("sku")), label)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to fetch inventory", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, InventoryListResponse{Records: records, Total: len(records)})
}

// InventoryStatistics handles GET /api/v1/inventory/stats
func (s *Server) InventoryStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.InventoryStatistics(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to compute statistics", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, stats)
}

// ListOwnerPatterns handles GET /api/v1/owners
func (s *Server) ListOwnerPatterns(w http.ResponseWriter, r *http.Request) {
	patterns, err := s.engine.ListOwnerPatterns(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to fetch owner patterns", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, OwnerPatternsResponse{Patterns: patterns})
}

// ReplaceOwnerPatterns handles PUT /api/v1/owners
func (s *Server) ReplaceOwnerPatterns(w http.ResponseWriter, r *http.Request) {
	var req OwnerPatternsResponse
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.ReplaceOwnerPatterns(r.Context(), req.Patterns); err != nil {
		s.domainError(w, err)
		return
	}
	s.ListOwnerPatterns(w, r)
}

// parseDate accepts YYYY-MM-DD or RFC3339; empty means unset.
func parseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		if t, err = time.Parse(time.RFC3339, s); err != nil {
			return nil, err
		}
	}
	t = t.UTC()
	return &t, nil
}
