package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/kylemclaren/slowstock/internal/task"
)

// TaskQuery narrows ListTasks on indexed columns. Label and lifecycle
// filters are applied by the caller.
type TaskQuery struct {
	SKU    string
	Charge string
}

// GetTask retrieves a task by SKU.
func (s *Store) GetTask(ctx context.Context, sku string) (*task.Task, error) {
	return s.getTask(ctx, sku, false)
}

// GetTaskForUpdate retrieves a task and locks its row until the
// transaction ends.
func (s *Store) GetTaskForUpdate(ctx context.Context, sku string) (*task.Task, error) {
	return s.getTask(ctx, sku, true)
}

func (s *Store) getTask(ctx context.Context, sku string, lock bool) (*task.Task, error) {
	query := "SELECT " + taskColumns + " FROM tasks WHERE sku = ?"
	if lock {
		query += s.forUpdate()
	}
	var row taskRow
	if err := sqlx.GetContext(ctx, s.q, &row, s.rebind(query), sku); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", task.ErrNotFound, sku)
		}
		return nil, fmt.Errorf("get task %s: %w", sku, err)
	}
	return row.toTask()
}

// ListTasks retrieves tasks ordered by SKU.
func (s *Store) ListTasks(ctx context.Context, q TaskQuery) ([]*task.Task, error) {
	var (
		where []string
		args  []any
	)
	if q.SKU != "" {
		where = append(where, "LOWER(sku) LIKE ?")
		args = append(args, "%"+strings.ToLower(q.SKU)+"%")
	}
	if q.Charge != "" {
		where = append(where, "charge = ?")
		args = append(args, q.Charge)
	}

	query := "SELECT " + taskColumns + " FROM tasks"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY sku"

	var rows []taskRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, s.rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	tasks := make([]*task.Task, 0, len(rows))
	for i := range rows {
		t, err := rows[i].toTask()
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// InsertTask creates a task row at version 1.
func (s *Store) InsertTask(ctx context.Context, t *task.Task) error {
	status, plan, snapshot := t.State.Encode()
	_, err := s.exec(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.SKU, t.InventoryNum, t.SalesNum, t.SaleDay, t.Labels, t.Charge, status, plan, snapshot,
		utc(t.CreatedAt), utc(t.UpdatedAt), t.PriceReductionFailures, stringList(t.ImageURLs), t.Notes,
		t.RejectReason, utcPtr(t.CheckedAt), utcPtr(t.ReviewedAt), utcPtr(t.TimeoutAnchor), 1)
	if err != nil {
		return fmt.Errorf("insert task %s: %w", t.SKU, err)
	}
	t.Version = 1
	return nil
}

// SaveTask writes every field of t if the stored version still equals
// t.Version, then bumps the version. A stale version yields ErrConflict.
func (s *Store) SaveTask(ctx context.Context, t *task.Task) error {
	status, plan, snapshot := t.State.Encode()
	n, err := s.exec(ctx, `
		UPDATE tasks SET inventory_num = ?, sales_num = ?, sale_day = ?, labels = ?, charge = ?,
			status = ?, plan = ?, plan_snapshot = ?, created_at = ?, updated_at = ?,
			price_reduction_failure_count = ?, image_urls = ?, notes = ?, reject_reason = ?,
			checked_at = ?, reviewed_at = ?, timeout_anchor = ?, version = version + 1
		WHERE sku = ? AND version = ?
	`, t.InventoryNum, t.SalesNum, t.SaleDay, t.Labels, t.Charge,
		status, plan, snapshot, utc(t.CreatedAt), utc(t.UpdatedAt),
		t.PriceReductionFailures, stringList(t.ImageURLs), t.Notes, t.RejectReason,
		utcPtr(t.CheckedAt), utcPtr(t.ReviewedAt), utcPtr(t.TimeoutAnchor),
		t.SKU, t.Version)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.SKU, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s at version %d", task.ErrConflict, t.SKU, t.Version)
	}
	t.Version++
	return nil
}

// DeleteTask removes a task if it is still at version.
func (s *Store) DeleteTask(ctx context.Context, sku string, version int64) error {
	n, err := s.exec(ctx, "DELETE FROM tasks WHERE sku = ? AND version = ?", sku, version)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", sku, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s at version %d", task.ErrConflict, sku, version)
	}
	return nil
}

// TaskOwners lists the distinct owners of live tasks.
func (s *Store) TaskOwners(ctx context.Context) ([]string, error) {
	return s.owners(ctx, "tasks")
}

func (s *Store) owners(ctx context.Context, table string) ([]string, error) {
	var owners []string
	query := fmt.Sprintf("SELECT DISTINCT charge FROM %s WHERE charge IS NOT NULL AND charge <> '' ORDER BY charge", table)
	if err := sqlx.SelectContext(ctx, s.q, &owners, query); err != nil {
		return nil, fmt.Errorf("list %s owners: %w", table, err)
	}
	return owners, nil
}
