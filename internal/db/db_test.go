package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kylemclaren/slowstock/internal/inventory"
	"github.com/kylemclaren/slowstock/internal/task"
)

var t0 = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := New(filepath.Join(t.TempDir(), "slowstock.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestTaskRoundTrip(t *testing.T) {
	runTaskRoundTrip(t, openTestDB(t))
}

func runTaskRoundTrip(t *testing.T, database *DB) {
	ctx := context.Background()
	owner := "alice"
	tk := task.New("SKU-1", inventory.Classify(100, 20), &owner, t0)
	tk = tk.AttachEvidence("http://img/a.png", t0)
	require.NoError(t, database.InsertTask(ctx, tk))
	assert.Equal(t, int64(1), tk.Version)

	got, err := database.GetTask(ctx, "SKU-1")
	require.NoError(t, err)
	assert.Equal(t, task.Dormant(), got.State)
	assert.Equal(t, tk.Labels, got.Labels)
	require.NotNil(t, got.SaleDay)
	assert.Equal(t, 35, *got.SaleDay)
	assert.Equal(t, []string{"http://img/a.png"}, got.ImageURLs)
	assert.True(t, got.CreatedAt.Equal(t0))
	assert.Equal(t, "alice", *got.Charge)

	next, err := got.SelectPlan(task.PriceCutClearance, t0.Add(time.Hour))
	require.NoError(t, err)
	next, err = next.ConfirmCheck(t0.Add(2 * time.Hour))
	require.NoError(t, err)
	require.NoError(t, database.SaveTask(ctx, next))
	assert.Equal(t, int64(2), next.Version)

	got, err = database.GetTask(ctx, "SKU-1")
	require.NoError(t, err)
	assert.Equal(t, task.InCompletionCheck(task.PriceCutClearance), got.State)
	require.NotNil(t, got.CheckedAt)
	assert.True(t, got.CheckedAt.Equal(t0.Add(2*time.Hour)))

	tasks, err := database.ListTasks(ctx, TaskQuery{SKU: "sku", Charge: "alice"})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	owners, err := database.TaskOwners(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, owners)
}

func TestSaveTaskDetectsConflict(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)

	tk := task.New("SKU-1", inventory.Classify(100, 0), nil, t0)
	require.NoError(t, database.InsertTask(ctx, tk))

	first, err := database.GetTask(ctx, "SKU-1")
	require.NoError(t, err)
	second, err := database.GetTask(ctx, "SKU-1")
	require.NoError(t, err)

	a, err := first.SelectPlan(task.Disposal, t0)
	require.NoError(t, err)
	require.NoError(t, database.SaveTask(ctx, a))

	b, err := second.SelectPlan(task.ReturnToFactory, t0)
	require.NoError(t, err)
	assert.ErrorIs(t, database.SaveTask(ctx, b), task.ErrConflict)

	assert.ErrorIs(t, database.DeleteTask(ctx, "SKU-1", 1), task.ErrConflict)
	require.NoError(t, database.DeleteTask(ctx, "SKU-1", 2))

	_, err = database.GetTask(ctx, "SKU-1")
	assert.ErrorIs(t, err, task.ErrNotFound)
}

func TestWithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)

	err := database.WithTx(ctx, func(s *Store) error {
		tk := task.New("SKU-1", inventory.Classify(100, 0), nil, t0)
		require.NoError(t, s.InsertTask(ctx, tk))
		return task.ErrConflict
	})
	assert.ErrorIs(t, err, task.ErrConflict)

	_, err = database.GetTask(ctx, "SKU-1")
	assert.ErrorIs(t, err, task.ErrNotFound)
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	bob := "bob"

	entries := []*task.Entry{
		{SKU: "A-1", Plan: task.Disposal, ReviewStatus: task.ReviewApproved, CompletedAt: t0.AddDate(0, 0, -10), Charge: &bob},
		{SKU: "A-2", Plan: task.PriceCutClearance, ReviewStatus: task.ReviewTimeout, CompletedAt: t0},
		{SKU: "B-1", Plan: task.Unselected, ReviewStatus: task.ReviewTimeout, CompletedAt: t0.Add(14 * time.Hour),
			Labels: inventory.NewLabelSet(inventory.NoSales)},
	}
	for _, e := range entries {
		require.NoError(t, database.InsertHistory(ctx, e))
		assert.NotZero(t, e.ID)
	}

	all, err := database.ListHistory(ctx, task.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "B-1", all[0].SKU)
	assert.Equal(t, inventory.NewLabelSet(inventory.NoSales), all[0].Labels)

	day := t0
	sameDay, err := database.ListHistory(ctx, task.HistoryFilter{From: &day, To: &day})
	require.NoError(t, err)
	assert.Len(t, sameDay, 2)

	timeout := task.ReviewTimeout
	plan := task.PriceCutClearance
	filtered, err := database.ListHistory(ctx, task.HistoryFilter{SKU: "a-", ReviewStatus: timeout, Plan: &plan})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "A-2", filtered[0].SKU)

	stats, err := database.HistoryStatistics(ctx, task.WeekStart(t0))
	require.NoError(t, err)
	assert.Equal(t, task.HistoryStatistics{
		Total:             3,
		ThisWeek:          2,
		Approved:          1,
		Timeout:           2,
		PriceCutClearance: 1,
		Disposal:          1,
	}, stats)

	owners, err := database.HistoryOwners(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, owners)
}

func TestInventoryAndOwners(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)

	rec := &inventory.Record{SKU: "X-1", CreatedAt: t0, UpdatedAt: t0}
	rec.Apply(inventory.Classify(100, 0))
	require.NoError(t, database.InsertInventory(ctx, rec))

	rec.Apply(inventory.Classify(50, 50))
	rec.UpdatedAt = t0.Add(time.Hour)
	require.NoError(t, database.UpdateInventory(ctx, rec))

	got, err := database.GetInventory(ctx, "X-1")
	require.NoError(t, err)
	assert.Equal(t, 50, got.InventoryNum)
	assert.True(t, got.Labels.IsEmpty())

	_, err = database.GetInventory(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	recs, err := database.ListInventory(ctx, "x-")
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	patterns := []inventory.OwnerPattern{{Pattern: "X", Owner: "xena"}, {Pattern: "Y", Owner: "yuri"}}
	require.NoError(t, database.WithTx(ctx, func(s *Store) error {
		return s.ReplaceOwnerPatterns(ctx, patterns)
	}))
	got2, err := database.ListOwnerPatterns(ctx)
	require.NoError(t, err)
	assert.Equal(t, patterns, got2)
}

func TestImportRuns(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)

	run := &ImportRun{Source: "snapshot.xlsx", StartedAt: t0, Status: RunStatusRunning}
	require.NoError(t, database.CreateImportRun(ctx, run))
	require.NotZero(t, run.ID)

	stale := &ImportRun{Source: "other.csv", StartedAt: t0.Add(time.Minute), Status: RunStatusRunning}
	require.NoError(t, database.CreateImportRun(ctx, stale))

	ended := t0.Add(time.Second)
	run.EndedAt = &ended
	run.Status = RunStatusCompleted
	run.Inserted = 4
	require.NoError(t, database.UpdateImportRun(ctx, run))

	n, err := database.MarkStaleRunsAsFailed(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := database.GetImportRun(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, got.Status)
	require.NotNil(t, got.Error)

	runs, err := database.ListImportRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, stale.ID, runs[0].ID)
	assert.Equal(t, 4, runs[1].Inserted)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("oracle", "")
	assert.Error(t, err)
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, isRetryableError(assert.AnError))
	assert.True(t, isRetryableError(&fakeErr{"database is locked (5) (SQLITE_BUSY)"}))
	assert.True(t, isRetryableError(&fakeErr{"Error 1213: Deadlock found when trying to get lock"}))
	assert.False(t, isRetryableError(task.ErrConflict))
}

type fakeErr struct{ msg string }

func (e *fakeErr) Error() string { return e.msg }
