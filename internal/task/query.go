package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/kylemclaren/slowstock/internal/inventory"
)

// StatusFilter selects tasks by lifecycle position.
type StatusFilter string

const (
	StatusAny             StatusFilter = ""
	StatusNoPlan          StatusFilter = "no_plan"
	StatusInProgress      StatusFilter = "in_progress"
	StatusCompletionCheck StatusFilter = "completion_check"
	StatusUnderReview     StatusFilter = "under_review"
	StatusTimeout         StatusFilter = "timeout"
)

// ParseStatusFilter validates a status filter name.
func ParseStatusFilter(s string) (StatusFilter, error) {
	switch f := StatusFilter(s); f {
	case StatusAny, StatusNoPlan, StatusInProgress, StatusCompletionCheck, StatusUnderReview, StatusTimeout:
		return f, nil
	default:
		return "", fmt.Errorf("unknown status filter %q", s)
	}
}

// Filter narrows a task listing.
type Filter struct {
	SKU    string
	Label  inventory.Filter
	Status StatusFilter
	Plan   *Plan
	Charge string
}

// Match reports whether t passes every set criterion.
func (f Filter) Match(t *Task, now time.Time) bool {
	if f.SKU != "" && !strings.Contains(strings.ToLower(t.SKU), strings.ToLower(f.SKU)) {
		return false
	}
	if f.Charge != "" && (t.Charge == nil || *t.Charge != f.Charge) {
		return false
	}
	if f.Plan != nil && t.State.Plan() != *f.Plan {
		return false
	}
	if f.Label != inventory.FilterAny && !f.Label.Match(t.Labels) {
		return false
	}

	switch f.Status {
	case StatusNoPlan:
		return t.State.Stage() == StageDormant
	case StatusInProgress:
		return t.State.Stage() == StageInProgress
	case StatusCompletionCheck:
		return t.State.Stage() == StageCompletionCheck
	case StatusUnderReview:
		return t.State.Stage() == StageUnderReview
	case StatusTimeout:
		return t.CountDown(now) < 0
	}
	return true
}

// View is a task as shown to callers, with derived display fields.
type View struct {
	*Task
	Status       int    `json:"status"`
	Stage        string `json:"stage"`
	Plan         Plan   `json:"plan"`
	PlanSnapshot *int   `json:"plan_snapshot"`
	DisplayPlan  string `json:"display_plan"`
	CountDown    int    `json:"count_down"`
	DiscountHint int    `json:"discount_hint"`
}

// NewView derives the display fields of t at now.
func NewView(t *Task, now time.Time) View {
	status, plan, snapshot := t.State.Encode()
	return View{
		Task:         t,
		Status:       status,
		Stage:        t.State.Stage().String(),
		Plan:         Plan(plan),
		PlanSnapshot: snapshot,
		DisplayPlan:  t.State.Plan().String(),
		CountDown:    t.CountDown(now),
		DiscountHint: t.DiscountHint(),
	}
}

// Statistics counts tasks per category.
type Statistics struct {
	Aging           int `json:"aging"`
	InStockNoSales  int `json:"in_stock_no_sales"`
	NoPlan          int `json:"no_plan"`
	InProgress      int `json:"in_progress"`
	CompletionCheck int `json:"completion_check"`
	UnderReview     int `json:"under_review"`
	Timeout         int `json:"timeout"`
}

// Add counts t at now.
func (s *Statistics) Add(t *Task, now time.Time) {
	if inventory.FilterAging.Match(t.Labels) {
		s.Aging++
	}
	if inventory.FilterInStockNoSales.Match(t.Labels) {
		s.InStockNoSales++
	}
	switch t.State.Stage() {
	case StageDormant:
		s.NoPlan++
	case StageInProgress:
		s.InProgress++
	case StageCompletionCheck:
		s.CompletionCheck++
	case StageUnderReview:
		s.UnderReview++
	}
	if t.CountDown(now) < 0 {
		s.Timeout++
	}
}

// HistoryFilter narrows a history listing. To is inclusive of the whole day.
type HistoryFilter struct {
	SKU          string
	Charge       string
	Plan         *Plan
	ReviewStatus ReviewStatus
	From         *time.Time
	To           *time.Time
}

// HistoryStatistics summarizes the history ledger.
type HistoryStatistics struct {
	Total             int `json:"total" db:"total"`
	ThisWeek          int `json:"this_week" db:"this_week"`
	Approved          int `json:"approved" db:"approved"`
	Timeout           int `json:"timeout" db:"timeout"`
	ReturnToFactory   int `json:"return_to_factory" db:"return_to_factory"`
	PriceCutClearance int `json:"price_cut_clearance" db:"price_cut_clearance"`
	Disposal          int `json:"disposal" db:"disposal"`
}

// WeekStart returns Monday 00:00 UTC of the week containing t.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -offset)
}
