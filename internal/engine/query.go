package engine

import (
	"context"

	"github.com/pkg/errors"

	"github.com/kylemclaren/slowstock/internal/db"
	"github.com/kylemclaren/slowstock/internal/inventory"
	"github.com/kylemclaren/slowstock/internal/task"
)

// ListTasks sweeps, then returns the tasks passing f.
func (e *Engine) ListTasks(ctx context.Context, f task.Filter) ([]task.View, error) {
	e.sweepBeforeRead(ctx)
	tasks, err := e.db.ListTasks(ctx, db.TaskQuery{SKU: f.SKU, Charge: f.Charge})
	if err != nil {
		return nil, errors.Wrap(err, "list tasks")
	}
	now := e.now()
	views := make([]task.View, 0, len(tasks))
	for _, t := range tasks {
		if f.Match(t, now) {
			views = append(views, task.NewView(t, now))
		}
	}
	return views, nil
}

// GetTask sweeps, then returns one task.
func (e *Engine) GetTask(ctx context.Context, sku string) (task.View, error) {
	e.sweepBeforeRead(ctx)
	t, err := e.db.GetTask(ctx, sku)
	if err != nil {
		return task.View{}, errors.Wrap(err, "get task")
	}
	return task.NewView(t, e.now()), nil
}

// TaskStatistics sweeps, then counts tasks, optionally for one owner.
func (e *Engine) TaskStatistics(ctx context.Context, charge string) (task.Statistics, error) {
	var stats task.Statistics
	e.sweepBeforeRead(ctx)
	tasks, err := e.db.ListTasks(ctx, db.TaskQuery{Charge: charge})
	if err != nil {
		return stats, errors.Wrap(err, "task statistics")
	}
	now := e.now()
	for _, t := range tasks {
		stats.Add(t, now)
	}
	return stats, nil
}

// sweepBeforeRead archives overdue tasks so reads see fresh countdowns. A
// failed pass is logged; the scheduled sweep retries it.
func (e *Engine) sweepBeforeRead(ctx context.Context) {
	if _, err := e.Sweep(ctx); err != nil {
		e.log.WithError(err).Warn("Sweep before read failed")
	}
}

// TaskOwners lists owners with live tasks.
func (e *Engine) TaskOwners(ctx context.Context) ([]string, error) {
	owners, err := e.db.TaskOwners(ctx)
	return nonNil(owners), errors.Wrap(err, "task owners")
}

// ListHistory returns history entries, newest first.
func (e *Engine) ListHistory(ctx context.Context, f task.HistoryFilter) ([]*task.Entry, error) {
	entries, err := e.db.ListHistory(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "list history")
	}
	return entries, nil
}

// HistoryStatistics summarizes history; the week starts Monday 00:00 UTC.
func (e *Engine) HistoryStatistics(ctx context.Context) (task.HistoryStatistics, error) {
	stats, err := e.db.HistoryStatistics(ctx, task.WeekStart(e.now()))
	return stats, errors.Wrap(err, "history statistics")
}

// HistoryOwners lists owners found in history.
func (e *Engine) HistoryOwners(ctx context.Context) ([]string, error) {
	owners, err := e.db.HistoryOwners(ctx)
	return nonNil(owners), errors.Wrap(err, "history owners")
}

// ListInventory returns inventory records matching a SKU substring and
// label category.
func (e *Engine) ListInventory(ctx context.Context, sku string, f inventory.Filter) ([]*inventory.Record, error) {
	recs, err := e.db.ListInventory(ctx, sku)
	if err != nil {
		return nil, errors.Wrap(err, "list inventory")
	}
	out := make([]*inventory.Record, 0, len(recs))
	for _, r := range recs {
		if f.Match(r.Labels) {
			out = append(out, r)
		}
	}
	return out, nil
}

// InventoryStatistics counts inventory records per label category.
func (e *Engine) InventoryStatistics(ctx context.Context) (inventory.Statistics, error) {
	var stats inventory.Statistics
	recs, err := e.db.ListInventory(ctx, "")
	if err != nil {
		return stats, errors.Wrap(err, "inventory statistics")
	}
	for _, r := range recs {
		stats.Add(r.Labels)
	}
	return stats, nil
}

// ListOwnerPatterns returns the owner mapping in match order.
func (e *Engine) ListOwnerPatterns(ctx context.Context) ([]inventory.OwnerPattern, error) {
	patterns, err := e.db.ListOwnerPatterns(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list owner patterns")
	}
	if patterns == nil {
		patterns = []inventory.OwnerPattern{}
	}
	return patterns, nil
}

// ReplaceOwnerPatterns swaps the owner mapping atomically. Existing owners
// are kept; only SKUs without one pick up the new mapping on next import.
func (e *Engine) ReplaceOwnerPatterns(ctx context.Context, patterns []inventory.OwnerPattern) error {
	for i, p := range patterns {
		if p.Pattern == "" || p.Owner == "" {
			return errors.Wrapf(ErrInvalidInput, "owner pattern %d: pattern and owner are required", i+1)
		}
	}
	err := e.db.WithTx(ctx, func(s *db.Store) error {
		return s.ReplaceOwnerPatterns(ctx, patterns)
	})
	if err != nil {
		return errors.Wrap(err, "replace owner patterns")
	}
	e.log.WithField("patterns", len(patterns)).Info("Owner patterns replaced")
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
