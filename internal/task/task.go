// Package task holds the remediation task aggregate and its lifecycle
// commands. Commands are pure: each returns the next version of the task
// and never touches storage.
package task

import (
	"math"
	"slices"
	"strings"
	"time"

	"github.com/kylemclaren/slowstock/internal/inventory"
)

// MaxPriceReductionFailures caps the failed price-cut review counter.
const MaxPriceReductionFailures = 3

// Task is a slow-moving SKU under remediation.
type Task struct {
	SKU                    string             `json:"sku"`
	InventoryNum           int                `json:"inventory_num"`
	SalesNum               int                `json:"sales_num"`
	SaleDay                *int               `json:"sale_day"`
	Labels                 inventory.LabelSet `json:"labels"`
	Charge                 *string            `json:"charge"`
	State                  State              `json:"-"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
	PriceReductionFailures int                `json:"price_reduction_failure_count"`
	ImageURLs              []string           `json:"image_urls"`
	Notes                  *string            `json:"notes"`
	RejectReason           *string            `json:"reject_reason"`
	CheckedAt              *time.Time         `json:"checked_at"`
	ReviewedAt             *time.Time         `json:"reviewed_at"`
	TimeoutAnchor          *time.Time         `json:"timeout_anchor,omitempty"`
	Version                int64              `json:"version"`
}

// New promotes a SKU into a dormant task anchored at now.
func New(sku string, m inventory.Metrics, charge *string, now time.Time) *Task {
	t := &Task{
		SKU:       sku,
		Charge:    charge,
		State:     Dormant(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.apply(m)
	return t
}

func (t *Task) apply(m inventory.Metrics) {
	t.InventoryNum = m.InventoryNum
	t.SalesNum = m.SalesNum
	t.SaleDay = m.SaleDay
	t.Labels = m.Labels
}

func (t *Task) clone() *Task {
	c := *t
	c.ImageURLs = slices.Clone(t.ImageURLs)
	return &c
}

func (t *Task) stageError(op string, expected ...Stage) error {
	return &TransitionError{Op: op, SKU: t.SKU, Expected: expected, Actual: t.State.Stage()}
}

// CountDown returns the whole hours left on the SLA. Negative means overdue.
func (t *Task) CountDown(now time.Time) int {
	elapsed := math.Floor(now.Sub(t.CreatedAt).Hours())
	return int(t.State.Tier().Hours()) - int(elapsed)
}

// anchorArchived reports whether the current anchor already produced a
// timeout record.
func (t *Task) anchorArchived() bool {
	return t.TimeoutAnchor != nil && t.TimeoutAnchor.Equal(t.CreatedAt)
}

// TimedOut reports whether the sweeper must archive the task now.
func (t *Task) TimedOut(now time.Time) bool {
	if t.CountDown(now) >= 0 {
		return false
	}
	return t.State.Live() || !t.anchorArchived()
}

// Eligible reports whether the task's labels still qualify it.
func (t *Task) Eligible() bool {
	return inventory.Eligible(t.Labels)
}

// DiscountHint is the suggested price-cut percentage.
func (t *Task) DiscountHint() int {
	return 20 + 10*min(t.PriceReductionFailures, MaxPriceReductionFailures)
}

// Refresh overwrites the metrics from a new snapshot. The owner is only
// filled in when the task has none.
func (t *Task) Refresh(m inventory.Metrics, charge *string, now time.Time) *Task {
	n := t.clone()
	n.apply(m)
	if n.Charge == nil && charge != nil {
		c := *charge
		n.Charge = &c
	}
	n.UpdatedAt = now
	return n
}

// SelectPlan chooses or changes the plan. Unselected withdraws an in-progress
// plan. The SLA anchor is only restarted when it has none or it already
// timed out.
func (t *Task) SelectPlan(p Plan, now time.Time) (*Task, error) {
	if !p.Valid() {
		return nil, ErrInvalidPlan
	}
	if p == Unselected {
		if t.State.Stage() != StageInProgress {
			return nil, t.stageError("withdraw plan of", StageInProgress)
		}
	} else if t.State.Stage() != StageDormant && t.State.Stage() != StageInProgress {
		return nil, t.stageError("select plan for", StageDormant, StageInProgress)
	}

	n := t.clone()
	if p == Unselected {
		n.State = Dormant()
	} else {
		n.State = Selected(p)
	}
	if n.CreatedAt.IsZero() || n.anchorArchived() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now
	return n, nil
}

// ConfirmCheck moves an in-progress task into completion check and
// freezes its plan.
func (t *Task) ConfirmCheck(now time.Time) (*Task, error) {
	if t.State.Stage() != StageInProgress {
		return nil, t.stageError("confirm completion of", StageInProgress)
	}
	n := t.clone()
	n.State = InCompletionCheck(t.State.Plan())
	checked := now
	n.CheckedAt = &checked
	n.UpdatedAt = now
	return n, nil
}

// ConfirmReview sends a checked task to admin review.
func (t *Task) ConfirmReview(now time.Time) (*Task, error) {
	if t.State.Stage() != StageCompletionCheck {
		return nil, t.stageError("send to review", StageCompletionCheck)
	}
	n := t.clone()
	n.State = InReview(t.State.Plan())
	reviewed := now
	n.ReviewedAt = &reviewed
	n.UpdatedAt = now
	return n, nil
}

// Approve closes a reviewed task. The caller archives the entry and
// deletes the task.
func (t *Task) Approve(now time.Time) (*Entry, error) {
	if t.State.Stage() != StageUnderReview {
		return nil, t.stageError("approve", StageUnderReview)
	}
	return t.archive(ReviewApproved, now), nil
}

// Reject sends a reviewed task back to completion check.
func (t *Task) Reject(reason string, now time.Time) (*Task, error) {
	if t.State.Stage() != StageUnderReview {
		return nil, t.stageError("reject", StageUnderReview)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrEmptyReason
	}

	n := t.clone()
	if t.State.Plan() == PriceCutClearance {
		n.PriceReductionFailures = min(n.PriceReductionFailures+1, MaxPriceReductionFailures)
	}
	n.State = InCompletionCheck(t.State.Plan())
	n.RejectReason = &reason
	reviewed := now
	n.ReviewedAt = &reviewed
	n.UpdatedAt = now
	return n, nil
}

// Timeout archives an overdue task and resets it to dormant. The anchor is
// kept and marked archived so the same occurrence is never recorded twice.
// Evidence moves to the history entry.
func (t *Task) Timeout(now time.Time) (*Task, *Entry) {
	entry := t.archive(ReviewTimeout, now)

	n := t.clone()
	n.State = Dormant()
	n.CheckedAt = nil
	n.ReviewedAt = nil
	n.RejectReason = nil
	n.ImageURLs = nil
	anchor := n.CreatedAt
	n.TimeoutAnchor = &anchor
	n.UpdatedAt = now
	return n, entry
}

// AttachEvidence appends an evidence URL.
func (t *Task) AttachEvidence(url string, now time.Time) *Task {
	n := t.clone()
	n.ImageURLs = append(n.ImageURLs, url)
	n.UpdatedAt = now
	return n
}

// DetachEvidence removes an evidence URL.
func (t *Task) DetachEvidence(url string, now time.Time) (*Task, error) {
	i := slices.Index(t.ImageURLs, url)
	if i < 0 {
		return nil, ErrEvidenceNotFound
	}
	n := t.clone()
	n.ImageURLs = slices.Delete(n.ImageURLs, i, i+1)
	n.UpdatedAt = now
	return n, nil
}

// SetNotes replaces the notes. Blank text clears them.
func (t *Task) SetNotes(notes string, now time.Time) *Task {
	n := t.clone()
	if strings.TrimSpace(notes) == "" {
		n.Notes = nil
	} else {
		n.Notes = &notes
	}
	n.UpdatedAt = now
	return n
}

func (t *Task) archive(status ReviewStatus, now time.Time) *Entry {
	return &Entry{
		SKU:              t.SKU,
		CompletedSaleDay: t.SaleDay,
		Charge:           t.Charge,
		Plan:             t.State.Plan(),
		InventoryNum:     t.InventoryNum,
		SalesNum:         t.SalesNum,
		Labels:           t.Labels,
		Notes:            t.Notes,
		ImageURLs:        slices.Clone(t.ImageURLs),
		ReviewStatus:     status,
		CompletedAt:      now,
	}
}
