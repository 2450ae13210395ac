package engine

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kylemclaren/slowstock/internal/db"
	"github.com/kylemclaren/slowstock/internal/events"
	"github.com/kylemclaren/slowstock/internal/inventory"
	"github.com/kylemclaren/slowstock/internal/task"
	"github.com/kylemclaren/slowstock/internal/telemetry"
)

// ReconcileResult summarizes one snapshot. Inserted and Updated count
// inventory records; the rest count task changes.
type ReconcileResult struct {
	Inserted     int `json:"inserted"`
	Updated      int `json:"updated"`
	Promoted     int `json:"promoted"`
	Demoted      int `json:"demoted"`
	ForcedChecks int `json:"forced_checks"`
	TimedOut     int `json:"timed_out"`
}

// SubmitSnapshot reconciles a fresh inventory snapshot in one transaction.
// Rows with a blank SKU are skipped; a repeated SKU is applied in order.
func (e *Engine) SubmitSnapshot(ctx context.Context, rows []inventory.Row) (res ReconcileResult, err error) {
	ctx, span := e.inst.Start(ctx, "submit_snapshot", attribute.Int("rows", len(rows)))
	defer func() { telemetry.End(span, err) }()

	var evs []events.Event
	err = e.db.WithTx(ctx, func(s *db.Store) error {
		res, evs = ReconcileResult{}, nil
		now := e.now()

		patterns, err := s.ListOwnerPatterns(ctx)
		if err != nil {
			return err
		}
		for _, row := range rows {
			sku := strings.TrimSpace(row.SKU)
			if sku == "" {
				continue
			}
			rowEvs, err := e.reconcileRow(ctx, s, sku, inventory.Classify(row.InventoryNum, row.SalesNum), patterns, &res)
			if err != nil {
				return errors.Wrapf(err, "reconcile %s", sku)
			}
			for _, ev := range rowEvs {
				ev.At = now
				evs = append(evs, ev)
			}
		}
		return nil
	})
	if err != nil {
		return ReconcileResult{}, errors.Wrap(err, "submit snapshot")
	}

	e.inst.ImportRows(ctx, len(rows))
	if res.TimedOut > 0 {
		e.inst.Archived(ctx, string(task.ReviewTimeout), res.TimedOut)
	}
	e.log.WithFields(logrus.Fields{
		"rows":          len(rows),
		"inserted":      res.Inserted,
		"updated":       res.Updated,
		"promoted":      res.Promoted,
		"demoted":       res.Demoted,
		"forced_checks": res.ForcedChecks,
		"timed_out":     res.TimedOut,
	}).Info("Snapshot reconciled")
	e.publish(evs)
	return res, nil
}

// reconcileRow applies one SKU's metrics. An overdue task is archived as
// timed out before the new metrics can demote or force-check it.
func (e *Engine) reconcileRow(ctx context.Context, s *db.Store, sku string, m inventory.Metrics,
	patterns []inventory.OwnerPattern, res *ReconcileResult) ([]events.Event, error) {
	now := e.now()

	rec, err := s.GetInventory(ctx, sku)
	switch {
	case errors.Is(err, db.ErrNotFound):
		rec = &inventory.Record{SKU: sku, CreatedAt: now, UpdatedAt: now}
		rec.Apply(m)
		rec.Charge = e.resolver.Resolve(sku, patterns)
		if err := s.InsertInventory(ctx, rec); err != nil {
			return nil, err
		}
		res.Inserted++
	case err != nil:
		return nil, err
	default:
		rec.Apply(m)
		if rec.Charge == nil {
			rec.Charge = e.resolver.Resolve(sku, patterns)
		}
		rec.UpdatedAt = now
		if err := s.UpdateInventory(ctx, rec); err != nil {
			return nil, err
		}
		res.Updated++
	}

	eligible := inventory.Eligible(m.Labels)
	current, err := s.GetTaskForUpdate(ctx, sku)
	if errors.Is(err, task.ErrNotFound) {
		if !eligible {
			return nil, nil
		}
		t := task.New(sku, m, rec.Charge, now)
		if err := s.InsertTask(ctx, t); err != nil {
			return nil, err
		}
		res.Promoted++
		return []events.Event{{Kind: events.KindPromote, SKU: sku, To: t.State.Stage().String(), Charge: chargeOf(t.Charge)}}, nil
	}
	if err != nil {
		return nil, err
	}

	var evs []events.Event
	current, timeout, err := e.expire(ctx, s, current, now)
	if err != nil {
		return nil, err
	}
	if timeout != nil {
		res.TimedOut++
		evs = append(evs, *timeout)
	}

	next := current.Refresh(m, rec.Charge, now)

	switch current.State.Stage() {
	case task.StageDormant:
		if !eligible {
			if err := s.DeleteTask(ctx, sku, current.Version); err != nil {
				return nil, err
			}
			res.Demoted++
			return append(evs, events.Event{Kind: events.KindDemote, SKU: sku, From: current.State.Stage().String(), Charge: chargeOf(current.Charge)}), nil
		}
	case task.StageInProgress:
		crossed := crossedBelow(current.SaleDay, m)
		if !eligible || crossed {
			checked, err := next.ConfirmCheck(now)
			if err != nil {
				return nil, err
			}
			next = checked
			res.ForcedChecks++
			reason := "no longer eligible"
			if crossed {
				reason = "days of supply fell below threshold"
			}
			evs = append(evs, events.Event{
				Kind:   events.KindCompletionCheck,
				SKU:    sku,
				From:   current.State.Stage().String(),
				To:     next.State.Stage().String(),
				Plan:   next.State.Plan().String(),
				Charge: chargeOf(next.Charge),
				Reason: reason,
			})
		}
	}

	if err := s.SaveTask(ctx, next); err != nil {
		return nil, err
	}
	return evs, nil
}

// crossedBelow reports whether days of supply dropped from at or above the
// category threshold to below it.
func crossedBelow(prev *int, m inventory.Metrics) bool {
	if prev == nil || m.SaleDay == nil {
		return false
	}
	threshold := inventory.AgingThreshold(m.Labels)
	return *prev >= threshold && *m.SaleDay < threshold
}
