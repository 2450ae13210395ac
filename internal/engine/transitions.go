package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kylemclaren/slowstock/internal/db"
	"github.com/kylemclaren/slowstock/internal/events"
	"github.com/kylemclaren/slowstock/internal/task"
	"github.com/kylemclaren/slowstock/internal/telemetry"
)

// AnyVersion skips the caller's version precondition; the row is still
// written with an optimistic version check.
const AnyVersion int64 = 0

type command func(t *task.Task, now time.Time) (*task.Task, *events.Event, error)

// mutate loads sku under lock, applies cmd and saves the result. When
// version is set it must match the stored row. An overdue task is archived
// as timed out first and cmd sees the reset task; if cmd then refuses, the
// timeout is still committed and the refusal returned.
func (e *Engine) mutate(ctx context.Context, op, sku string, version int64, cmd command) (_ *task.Task, err error) {
	ctx, span := e.inst.Start(ctx, op, attribute.String("sku", sku))
	defer func() { telemetry.End(span, err) }()

	var (
		saved    *task.Task
		evs      []events.Event
		timedOut bool
		refused  error
	)
	err = e.db.WithTx(ctx, func(s *db.Store) error {
		evs, timedOut, refused = nil, false, nil
		current, err := s.GetTaskForUpdate(ctx, sku)
		if err != nil {
			if errors.Is(err, task.ErrNotFound) && version != AnyVersion {
				return fmt.Errorf("%w: %s no longer exists", task.ErrConflict, sku)
			}
			return err
		}
		if version != AnyVersion && current.Version != version {
			return fmt.Errorf("%w: %s is at version %d, not %d", task.ErrConflict, sku, current.Version, version)
		}

		now := e.now()
		current, timeout, err := e.expire(ctx, s, current, now)
		if err != nil {
			return err
		}
		if timeout != nil {
			timedOut = true
			evs = append(evs, *timeout)
		}

		next, event, err := cmd(current, now)
		if err != nil {
			if !timedOut {
				return err
			}
			refused = err
			return s.SaveTask(ctx, current)
		}
		if err := s.SaveTask(ctx, next); err != nil {
			return err
		}
		saved = next
		if event != nil {
			event.At = now
			evs = append(evs, *event)
		}
		return nil
	})
	if err != nil {
		e.log.WithField("sku", sku).WithField("op", op).WithError(err).Debug("Transition refused")
		return nil, errors.Wrap(err, op)
	}

	if timedOut {
		e.inst.Archived(ctx, string(task.ReviewTimeout), 1)
		e.log.WithField("sku", sku).WithField("op", op).Info("Overdue task archived before transition")
	}
	e.publish(evs)
	if refused != nil {
		return nil, errors.Wrap(refused, op)
	}
	e.inst.Transition(ctx, op)
	return saved, nil
}

// expire archives t as timed out when it is overdue and returns the reset
// task with its timeout event. The reset keeps t's version; the caller's
// save bumps it once.
func (e *Engine) expire(ctx context.Context, s *db.Store, t *task.Task, now time.Time) (*task.Task, *events.Event, error) {
	if !t.TimedOut(now) {
		return t, nil, nil
	}
	reset, entry := t.Timeout(now)
	if err := s.InsertHistory(ctx, entry); err != nil {
		return nil, nil, err
	}
	return reset, timeoutEvent(t, reset, now), nil
}

func timeoutEvent(prev, reset *task.Task, now time.Time) *events.Event {
	return &events.Event{
		Kind:   events.KindTimeout,
		SKU:    reset.SKU,
		From:   prev.State.Stage().String(),
		To:     reset.State.Stage().String(),
		Plan:   prev.State.Plan().String(),
		Charge: chargeOf(prev.Charge),
		At:     now,
	}
}

func stageEvent(kind events.Kind, from, to *task.Task) *events.Event {
	return &events.Event{
		Kind:   kind,
		SKU:    to.SKU,
		From:   from.State.Stage().String(),
		To:     to.State.Stage().String(),
		Plan:   to.State.Plan().String(),
		Charge: chargeOf(to.Charge),
	}
}

// SelectPlan chooses, changes or (with Unselected) withdraws a plan.
func (e *Engine) SelectPlan(ctx context.Context, sku string, version int64, plan task.Plan) (*task.Task, error) {
	return e.mutate(ctx, "select_plan", sku, version, func(t *task.Task, now time.Time) (*task.Task, *events.Event, error) {
		next, err := t.SelectPlan(plan, now)
		if err != nil {
			return nil, nil, err
		}
		return next, stageEvent(events.KindPlanSelected, t, next), nil
	})
}

// ConfirmCompletionCheck moves an in-progress task to completion check.
func (e *Engine) ConfirmCompletionCheck(ctx context.Context, sku string, version int64) (*task.Task, error) {
	return e.mutate(ctx, "confirm_check", sku, version, func(t *task.Task, now time.Time) (*task.Task, *events.Event, error) {
		next, err := t.ConfirmCheck(now)
		if err != nil {
			return nil, nil, err
		}
		return next, stageEvent(events.KindCompletionCheck, t, next), nil
	})
}

// ConfirmReview sends a checked task to review.
func (e *Engine) ConfirmReview(ctx context.Context, sku string, version int64) (*task.Task, error) {
	return e.mutate(ctx, "confirm_review", sku, version, func(t *task.Task, now time.Time) (*task.Task, *events.Event, error) {
		next, err := t.ConfirmReview(now)
		if err != nil {
			return nil, nil, err
		}
		return next, stageEvent(events.KindReview, t, next), nil
	})
}

// Reject returns a reviewed task to completion check with a reason.
func (e *Engine) Reject(ctx context.Context, sku string, version int64, reason string) (*task.Task, error) {
	return e.mutate(ctx, "reject", sku, version, func(t *task.Task, now time.Time) (*task.Task, *events.Event, error) {
		next, err := t.Reject(reason, now)
		if err != nil {
			return nil, nil, err
		}
		ev := stageEvent(events.KindRejected, t, next)
		ev.Reason = *next.RejectReason
		return next, ev, nil
	})
}

// Approve archives a reviewed task as approved and deletes it.
func (e *Engine) Approve(ctx context.Context, sku string, version int64) (_ *task.Entry, err error) {
	ctx, span := e.inst.Start(ctx, "approve", attribute.String("sku", sku))
	defer func() { telemetry.End(span, err) }()

	var (
		entry   *task.Entry
		evs     []events.Event
		refused error
	)
	err = e.db.WithTx(ctx, func(s *db.Store) error {
		evs, refused = nil, nil
		current, err := s.GetTaskForUpdate(ctx, sku)
		if err != nil {
			if errors.Is(err, task.ErrNotFound) && version != AnyVersion {
				return fmt.Errorf("%w: %s no longer exists", task.ErrConflict, sku)
			}
			return err
		}
		if version != AnyVersion && current.Version != version {
			return fmt.Errorf("%w: %s is at version %d, not %d", task.ErrConflict, sku, current.Version, version)
		}

		now := e.now()
		current, timeout, err := e.expire(ctx, s, current, now)
		if err != nil {
			return err
		}
		if timeout != nil {
			// an overdue review times out instead of being approved
			evs = append(evs, *timeout)
			_, refused = current.Approve(now)
			return s.SaveTask(ctx, current)
		}

		entry, err = current.Approve(now)
		if err != nil {
			return err
		}
		if err := s.InsertHistory(ctx, entry); err != nil {
			return err
		}
		if err := s.DeleteTask(ctx, sku, current.Version); err != nil {
			return err
		}
		evs = append(evs, events.Event{
			Kind:   events.KindApproved,
			SKU:    sku,
			From:   current.State.Stage().String(),
			Plan:   entry.Plan.String(),
			Charge: chargeOf(entry.Charge),
			At:     now,
		})
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "approve")
	}
	if refused != nil {
		e.inst.Archived(ctx, string(task.ReviewTimeout), 1)
		e.log.WithField("sku", sku).Info("Overdue task archived before approval")
		e.publish(evs)
		return nil, errors.Wrap(refused, "approve")
	}

	e.inst.Transition(ctx, "approve")
	e.inst.Archived(ctx, string(task.ReviewApproved), 1)
	e.log.WithField("sku", sku).WithField("plan", entry.Plan.String()).Info("Task approved")
	e.publish(evs)
	return entry, nil
}

// AddEvidence stores data and attaches its URL to the task. The file is
// removed again if the task cannot be updated.
func (e *Engine) AddEvidence(ctx context.Context, sku string, version int64, name string, data []byte) (*task.Task, string, error) {
	if e.evidence == nil {
		return nil, "", errors.New("no evidence store configured")
	}
	// fail fast on unknown SKUs before storing bytes
	if _, err := e.db.GetTask(ctx, sku); err != nil {
		return nil, "", errors.Wrap(err, "add evidence")
	}
	url, err := e.evidence.Put(ctx, name, data)
	if err != nil {
		return nil, "", errors.Wrap(err, "store evidence")
	}
	t, err := e.mutate(ctx, "add_evidence", sku, version, func(t *task.Task, now time.Time) (*task.Task, *events.Event, error) {
		return t.AttachEvidence(url, now), nil, nil
	})
	if err != nil {
		if rmErr := e.evidence.Remove(ctx, url); rmErr != nil {
			e.log.WithField("url", url).WithError(rmErr).Warn("Failed to remove orphaned evidence")
		}
		return nil, "", err
	}
	return t, url, nil
}

// RemoveEvidence detaches url from the task and deletes the stored file.
func (e *Engine) RemoveEvidence(ctx context.Context, sku string, version int64, url string) (*task.Task, error) {
	t, err := e.mutate(ctx, "remove_evidence", sku, version, func(t *task.Task, now time.Time) (*task.Task, *events.Event, error) {
		next, err := t.DetachEvidence(url, now)
		return next, nil, err
	})
	if err != nil {
		return nil, err
	}
	if e.evidence != nil {
		if err := e.evidence.Remove(ctx, url); err != nil {
			e.log.WithField("url", url).WithError(err).Warn("Failed to remove evidence file")
		}
	}
	return t, nil
}

// UpdateNotes replaces the task notes.
func (e *Engine) UpdateNotes(ctx context.Context, sku string, version int64, notes string) (*task.Task, error) {
	return e.mutate(ctx, "update_notes", sku, version, func(t *task.Task, now time.Time) (*task.Task, *events.Event, error) {
		return t.SetNotes(notes, now), nil, nil
	})
}
