package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kylemclaren/slowstock/internal/task"
)

// InsertHistory appends a history entry. History rows are never updated.
func (s *Store) InsertHistory(ctx context.Context, e *task.Entry) error {
	id, err := s.insertID(ctx, `
		INSERT INTO task_history (sku, completed_sale_day, charge, plan, inventory_num, sales_num,
			labels, notes, image_urls, review_status, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SKU, e.CompletedSaleDay, e.Charge, int(e.Plan), e.InventoryNum, e.SalesNum,
		e.Labels, e.Notes, stringList(e.ImageURLs), string(e.ReviewStatus), utc(e.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert history for %s: %w", e.SKU, err)
	}
	e.ID = id
	return nil
}

// ListHistory retrieves entries newest first.
func (s *Store) ListHistory(ctx context.Context, f task.HistoryFilter) ([]*task.Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.SKU != "" {
		where = append(where, "LOWER(sku) LIKE ?")
		args = append(args, "%"+strings.ToLower(f.SKU)+"%")
	}
	if f.Charge != "" {
		where = append(where, "charge = ?")
		args = append(args, f.Charge)
	}
	if f.Plan != nil {
		where = append(where, "plan = ?")
		args = append(args, int(*f.Plan))
	}
	if f.ReviewStatus != "" {
		where = append(where, "review_status = ?")
		args = append(args, string(f.ReviewStatus))
	}
	if f.From != nil {
		where = append(where, "completed_at >= ?")
		args = append(args, dayStart(*f.From))
	}
	if f.To != nil {
		where = append(where, "completed_at < ?")
		args = append(args, dayStart(*f.To).AddDate(0, 0, 1))
	}

	query := "SELECT " + historyColumns + " FROM task_history"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY completed_at DESC, id DESC"

	var rows []historyRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, s.rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	entries := make([]*task.Entry, len(rows))
	for i := range rows {
		entries[i] = rows[i].toEntry()
	}
	return entries, nil
}

// HistoryStatistics counts history entries; ThisWeek counts entries
// completed at or after weekStart.
func (s *Store) HistoryStatistics(ctx context.Context, weekStart time.Time) (task.HistoryStatistics, error) {
	var stats task.HistoryStatistics
	query := `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN completed_at >= ? THEN 1 ELSE 0 END), 0) AS this_week,
			COALESCE(SUM(CASE WHEN review_status = ? THEN 1 ELSE 0 END), 0) AS approved,
			COALESCE(SUM(CASE WHEN review_status = ? THEN 1 ELSE 0 END), 0) AS timeout,
			COALESCE(SUM(CASE WHEN plan = ? THEN 1 ELSE 0 END), 0) AS return_to_factory,
			COALESCE(SUM(CASE WHEN plan = ? THEN 1 ELSE 0 END), 0) AS price_cut_clearance,
			COALESCE(SUM(CASE WHEN plan = ? THEN 1 ELSE 0 END), 0) AS disposal
		FROM task_history`
	err := sqlx.GetContext(ctx, s.q, &stats, s.rebind(query),
		utc(weekStart), string(task.ReviewApproved), string(task.ReviewTimeout),
		int(task.ReturnToFactory), int(task.PriceCutClearance), int(task.Disposal))
	if err != nil {
		return stats, fmt.Errorf("history statistics: %w", err)
	}
	return stats, nil
}

// HistoryOwners lists the distinct owners found in history.
func (s *Store) HistoryOwners(ctx context.Context) ([]string, error) {
	return s.owners(ctx, "task_history")
}

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
