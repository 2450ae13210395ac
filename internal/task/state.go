package task

import (
	"fmt"
	"time"
)

// Stage is a lifecycle position of a task.
type Stage int

const (
	StageDormant Stage = iota
	StageInProgress
	StageCompletionCheck
	StageUnderReview
)

func (s Stage) String() string {
	switch s {
	case StageDormant:
		return "dormant"
	case StageInProgress:
		return "in_progress"
	case StageCompletionCheck:
		return "completion_check"
	case StageUnderReview:
		return "under_review"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

const (
	// NoPlanTier is the SLA while no plan has been chosen.
	NoPlanTier = 24 * time.Hour
	// PlanTier is the SLA once a plan is chosen.
	PlanTier = 168 * time.Hour
)

// Persisted status codes. 1-3 mirror the selected plan.
const (
	statusDormant         = 0
	statusCompletionCheck = 4
	statusUnderReview     = 5
)

// State is the lifecycle state of a task: Dormant, Selected{plan},
// CompletionCheck{snapshot} or UnderReview{snapshot}. The zero value is
// Dormant.
type State struct {
	stage Stage
	plan  Plan
}

// Dormant is an eligible task with no plan.
func Dormant() State { return State{stage: StageDormant} }

// Selected is a task executing plan p.
func Selected(p Plan) State { return State{stage: StageInProgress, plan: p} }

// InCompletionCheck is a task awaiting evidence, with the plan frozen.
func InCompletionCheck(snapshot Plan) State {
	return State{stage: StageCompletionCheck, plan: snapshot}
}

// InReview is a task awaiting admin approval, with the plan frozen.
func InReview(snapshot Plan) State {
	return State{stage: StageUnderReview, plan: snapshot}
}

func (s State) Stage() Stage { return s.stage }

// Plan is the plan in force: the selected plan while in progress, the
// snapshot during check and review, Unselected when dormant.
func (s State) Plan() Plan { return s.plan }

// Frozen reports whether the plan is a snapshot.
func (s State) Frozen() bool {
	return s.stage == StageCompletionCheck || s.stage == StageUnderReview
}

// Live reports whether a plan is being worked on or reviewed.
func (s State) Live() bool { return s.stage != StageDormant }

// Tier returns the SLA allowance for the state.
func (s State) Tier() time.Duration {
	if s.plan == Unselected {
		return NoPlanTier
	}
	return PlanTier
}

func (s State) String() string {
	if s.stage == StageDormant {
		return s.stage.String()
	}
	return fmt.Sprintf("%s(%s)", s.stage, s.plan)
}

// Encode maps the state to its persisted status, plan and plan_snapshot.
func (s State) Encode() (status int, plan int, snapshot *int) {
	switch s.stage {
	case StageInProgress:
		return int(s.plan), int(s.plan), nil
	case StageCompletionCheck, StageUnderReview:
		snap := int(s.plan)
		status = statusCompletionCheck
		if s.stage == StageUnderReview {
			status = statusUnderReview
		}
		return status, snap, &snap
	default:
		return statusDormant, int(Unselected), nil
	}
}

// DecodeState rebuilds a state from persisted columns. During check and
// review the snapshot wins over plan when present.
func DecodeState(status int, plan int, snapshot *int) (State, error) {
	frozen := Plan(plan)
	if snapshot != nil {
		frozen = Plan(*snapshot)
	}
	if !frozen.Valid() {
		return State{}, fmt.Errorf("%w: %d", ErrInvalidPlan, int(frozen))
	}

	switch status {
	case statusDormant:
		return Dormant(), nil
	case int(ReturnToFactory), int(PriceCutClearance), int(Disposal):
		return Selected(Plan(status)), nil
	case statusCompletionCheck:
		return InCompletionCheck(frozen), nil
	case statusUnderReview:
		return InReview(frozen), nil
	default:
		return State{}, fmt.Errorf("unknown task status %d", status)
	}
}
