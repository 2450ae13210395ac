package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kylemclaren/slowstock/internal/inventory"
	"github.com/kylemclaren/slowstock/internal/task"
)

// ImportRun records one snapshot import.
type ImportRun struct {
	ID           int64      `json:"id" db:"id"`
	Source       string     `json:"source" db:"source"`
	StartedAt    time.Time  `json:"started_at" db:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	Status       RunStatus  `json:"status" db:"status"`
	Inserted     int        `json:"inserted" db:"inserted"`
	Updated      int        `json:"updated" db:"updated"`
	Promoted     int        `json:"promoted" db:"promoted"`
	Demoted      int        `json:"demoted" db:"demoted"`
	ForcedChecks int        `json:"forced_checks" db:"forced_checks"`
	Error        *string    `json:"error,omitempty" db:"error"`
}

// RunStatus represents the status of an import run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// stringList is a JSON encoded text column.
type stringList []string

func (l stringList) Value() (driver.Value, error) {
	if l == nil {
		l = stringList{}
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *stringList) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into string list", src)
	}
	if len(data) == 0 || string(data) == "null" {
		*l = nil
		return nil
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*l = out
	return nil
}

type taskRow struct {
	SKU           string             `db:"sku"`
	InventoryNum  int                `db:"inventory_num"`
	SalesNum      int                `db:"sales_num"`
	SaleDay       *int               `db:"sale_day"`
	Labels        inventory.LabelSet `db:"labels"`
	Charge        *string            `db:"charge"`
	Status        int                `db:"status"`
	Plan          int                `db:"plan"`
	PlanSnapshot  *int               `db:"plan_snapshot"`
	CreatedAt     time.Time          `db:"created_at"`
	UpdatedAt     time.Time          `db:"updated_at"`
	Failures      int                `db:"price_reduction_failure_count"`
	ImageURLs     stringList         `db:"image_urls"`
	Notes         *string            `db:"notes"`
	RejectReason  *string            `db:"reject_reason"`
	CheckedAt     *time.Time         `db:"checked_at"`
	ReviewedAt    *time.Time         `db:"reviewed_at"`
	TimeoutAnchor *time.Time         `db:"timeout_anchor"`
	Version       int64              `db:"version"`
}

const taskColumns = `sku, inventory_num, sales_num, sale_day, labels, charge, status, plan, plan_snapshot,
	created_at, updated_at, price_reduction_failure_count, image_urls, notes, reject_reason,
	checked_at, reviewed_at, timeout_anchor, version`

func (r *taskRow) toTask() (*task.Task, error) {
	state, err := task.DecodeState(r.Status, r.Plan, r.PlanSnapshot)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", r.SKU, err)
	}
	return &task.Task{
		SKU:                    r.SKU,
		InventoryNum:           r.InventoryNum,
		SalesNum:               r.SalesNum,
		SaleDay:                r.SaleDay,
		Labels:                 r.Labels,
		Charge:                 r.Charge,
		State:                  state,
		CreatedAt:              r.CreatedAt.UTC(),
		UpdatedAt:              r.UpdatedAt.UTC(),
		PriceReductionFailures: r.Failures,
		ImageURLs:              []string(r.ImageURLs),
		Notes:                  r.Notes,
		RejectReason:           r.RejectReason,
		CheckedAt:              utcPtr(r.CheckedAt),
		ReviewedAt:             utcPtr(r.ReviewedAt),
		TimeoutAnchor:          utcPtr(r.TimeoutAnchor),
		Version:                r.Version,
	}, nil
}

type historyRow struct {
	ID               int64              `db:"id"`
	SKU              string             `db:"sku"`
	CompletedSaleDay *int               `db:"completed_sale_day"`
	Charge           *string            `db:"charge"`
	Plan             int                `db:"plan"`
	InventoryNum     int                `db:"inventory_num"`
	SalesNum         int                `db:"sales_num"`
	Labels           inventory.LabelSet `db:"labels"`
	Notes            *string            `db:"notes"`
	ImageURLs        stringList         `db:"image_urls"`
	ReviewStatus     string             `db:"review_status"`
	CompletedAt      time.Time          `db:"completed_at"`
}

const historyColumns = `id, sku, completed_sale_day, charge, plan, inventory_num, sales_num, labels,
	notes, image_urls, review_status, completed_at`

func (r *historyRow) toEntry() *task.Entry {
	return &task.Entry{
		ID:               r.ID,
		SKU:              r.SKU,
		CompletedSaleDay: r.CompletedSaleDay,
		Charge:           r.Charge,
		Plan:             task.Plan(r.Plan),
		InventoryNum:     r.InventoryNum,
		SalesNum:         r.SalesNum,
		Labels:           r.Labels,
		Notes:            r.Notes,
		ImageURLs:        []string(r.ImageURLs),
		ReviewStatus:     task.ReviewStatus(r.ReviewStatus),
		CompletedAt:      r.CompletedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// utc normalizes times before they are written so every dialect stores UTC.
func utc(t time.Time) time.Time {
	return t.UTC()
}
