package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kylemclaren/slowstock/internal/db"
	"github.com/kylemclaren/slowstock/internal/events"
	"github.com/kylemclaren/slowstock/internal/task"
	"github.com/kylemclaren/slowstock/internal/telemetry"
)

// SweepResult lists the tasks archived as timed out.
type SweepResult struct {
	Archived int      `json:"archived"`
	SKUs     []string `json:"skus"`
	// Skipped counts overdue rows changed by a concurrent writer.
	Skipped int `json:"skipped"`
}

// Sweep archives every overdue task as "timeout" and resets it to dormant.
// The timed-out set is computed, archived and reset in one transaction, so
// a failed pass leaves nothing behind and the next pass retries it. Rows
// that another writer changed since they were read are skipped.
func (e *Engine) Sweep(ctx context.Context) (res SweepResult, err error) {
	ctx, span := e.inst.Start(ctx, "sweep")
	start := time.Now()
	defer func() {
		span.SetAttributes(attribute.Int("archived", res.Archived))
		telemetry.End(span, err)
		e.inst.SweepDone(ctx, start)
	}()

	var evs []events.Event
	err = e.db.WithTx(ctx, func(s *db.Store) error {
		now := e.now()

		tasks, err := s.ListTasks(ctx, db.TaskQuery{})
		if err != nil {
			return err
		}
		res, evs, err = e.archiveOverdue(ctx, s, tasks, now)
		return err
	})
	if err != nil {
		return SweepResult{}, errors.Wrap(err, "sweep")
	}

	if res.Skipped > 0 {
		e.log.WithField("skipped", res.Skipped).Debug("Sweep skipped rows changed concurrently")
	}
	if res.Archived > 0 {
		e.inst.Archived(ctx, string(task.ReviewTimeout), res.Archived)
		e.log.WithField("archived", res.Archived).WithField("skus", res.SKUs).Info("Timed out tasks archived")
	}
	e.publish(evs)
	return res, nil
}

// archiveOverdue times out every overdue task in tasks. A row whose stored
// version moved on since tasks was read is skipped.
func (e *Engine) archiveOverdue(ctx context.Context, s *db.Store, tasks []*task.Task, now time.Time) (SweepResult, []events.Event, error) {
	res := SweepResult{SKUs: []string{}}
	var evs []events.Event
	for _, t := range tasks {
		if !t.TimedOut(now) {
			continue
		}
		reset, entry := t.Timeout(now)
		if err := s.SaveTask(ctx, reset); err != nil {
			if errors.Is(err, task.ErrConflict) {
				res.Skipped++
				continue
			}
			return SweepResult{}, nil, err
		}
		if err := s.InsertHistory(ctx, entry); err != nil {
			return SweepResult{}, nil, err
		}
		res.SKUs = append(res.SKUs, reset.SKU)
		evs = append(evs, *timeoutEvent(t, reset, now))
	}
	res.Archived = len(res.SKUs)
	return res, evs, nil
}
