package api

import (
	"encoding/json"

	"github.com/kylemclaren/slowstock/internal/db"
	"github.com/kylemclaren/slowstock/internal/inventory"
	"github.com/kylemclaren/slowstock/internal/task"
)

// VersionedRequest carries the optional optimistic precondition. Zero
// skips the check.
type VersionedRequest struct {
	Version int64 `json:"version,omitempty"`
}

// SelectPlanRequest represents a plan selection. Plan is a number or a
// plan name; 0 withdraws.
type SelectPlanRequest struct {
	VersionedRequest
	Plan json.RawMessage `json:"plan"`
}

// RejectRequest represents a review rejection
type RejectRequest struct {
	VersionedRequest
	Reason string `json:"reason"`
}

// NotesRequest represents a notes update
type NotesRequest struct {
	VersionedRequest
	Notes string `json:"notes"`
}

// RemoveEvidenceRequest names the evidence URL to detach
type RemoveEvidenceRequest struct {
	VersionedRequest
	URL string `json:"url"`
}

// TransitionResponse is returned by every task mutation
type TransitionResponse struct {
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
	Task    *task.View  `json:"task,omitempty"`
	Entry   *task.Entry `json:"entry,omitempty"`
	URL     string      `json:"url,omitempty"`
}

// TaskListResponse represents a list of tasks
type TaskListResponse struct {
	Tasks []task.View `json:"tasks"`
	Total int         `json:"total"`
}

// HistoryListResponse represents a list of history entries
type HistoryListResponse struct {
	Entries []*task.Entry `json:"entries"`
	Total   int           `json:"total"`
}

// InventoryListResponse represents a list of inventory records
type InventoryListResponse struct {
	Records []*inventory.Record `json:"records"`
	Total   int                 `json:"total"`
}

// OwnersResponse lists distinct owners
type OwnersResponse struct {
	Owners []string `json:"owners"`
}

// OwnerPatternsResponse lists the owner mapping in match order
type OwnerPatternsResponse struct {
	Patterns []inventory.OwnerPattern `json:"patterns"`
}

// ImportResponse reports one uploaded snapshot
type ImportResponse struct {
	Success bool          `json:"success"`
	Rows    int           `json:"rows"`
	Run     *db.ImportRun `json:"run,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// ImportRunsResponse represents a list of import runs
type ImportRunsResponse struct {
	Runs  []*db.ImportRun `json:"runs"`
	Total int             `json:"total"`
}

// SweepResponse reports one sweep pass
type SweepResponse struct {
	Success  bool     `json:"success"`
	Archived int      `json:"archived"`
	SKUs     []string `json:"skus"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Database string `json:"database,omitempty"`
}
