package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kylemclaren/slowstock/internal/clock"
	"github.com/kylemclaren/slowstock/internal/db"
	"github.com/kylemclaren/slowstock/internal/events"
	"github.com/kylemclaren/slowstock/internal/inventory"
	"github.com/kylemclaren/slowstock/internal/logging"
	"github.com/kylemclaren/slowstock/internal/task"
)

var t0 = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

type recorder struct {
	mu  sync.Mutex
	evs []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, e)
}

func (r *recorder) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Kind, len(r.evs))
	for i, e := range r.evs {
		out[i] = e.Kind
	}
	return out
}

type memEvidence struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (m *memEvidence) Put(_ context.Context, name string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	url := "mem://" + name
	m.files[url] = data
	return url, nil
}

func (m *memEvidence) Remove(_ context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, url)
	return nil
}

type fixture struct {
	engine   *Engine
	db       *db.DB
	clock    *clock.Fake
	sink     *recorder
	evidence *memEvidence
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "slowstock.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	f := &fixture{
		db:       database,
		clock:    clock.NewFake(t0),
		sink:     &recorder{},
		evidence: &memEvidence{files: map[string][]byte{}},
	}
	f.engine = New(database,
		WithClock(f.clock),
		WithSink(f.sink),
		WithEvidence(f.evidence),
		WithLogger(logging.Discard()),
	)
	return f
}

func (f *fixture) submit(t *testing.T, rows ...inventory.Row) ReconcileResult {
	t.Helper()
	res, err := f.engine.SubmitSnapshot(context.Background(), rows)
	require.NoError(t, err)
	return res
}

func (f *fixture) task(t *testing.T, sku string) *task.Task {
	t.Helper()
	tk, err := f.db.GetTask(context.Background(), sku)
	require.NoError(t, err)
	return tk
}

func TestSnapshotScenarios(t *testing.T) {
	f := newFixture(t)
	res := f.submit(t,
		inventory.Row{SKU: "X1", InventoryNum: 0, SalesNum: 0},
		inventory.Row{SKU: "X2", InventoryNum: 100, SalesNum: 0},
		inventory.Row{SKU: "X3", InventoryNum: 2000, SalesNum: 400},
		inventory.Row{SKU: "  ", InventoryNum: 5, SalesNum: 0},
	)
	assert.Equal(t, ReconcileResult{Inserted: 3, Promoted: 2}, res)

	_, err := f.db.GetTask(context.Background(), "X1")
	assert.ErrorIs(t, err, task.ErrNotFound)

	x2 := f.task(t, "X2")
	assert.Equal(t, task.Dormant(), x2.State)
	assert.Equal(t, inventory.NewLabelSet(inventory.NoSales), x2.Labels)

	x3 := f.task(t, "X3")
	require.NotNil(t, x3.SaleDay)
	assert.Equal(t, 35, *x3.SaleDay)
	assert.True(t, x3.Labels.Has(inventory.AgingWarning))

	assert.Equal(t, []events.Kind{events.KindPromote, events.KindPromote}, f.sink.kinds())

	res = f.submit(t, inventory.Row{SKU: "X1", InventoryNum: 0, SalesNum: 0})
	assert.Equal(t, ReconcileResult{Updated: 1}, res)
}

func TestChargeResolvedOnceAndPreserved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.engine.ReplaceOwnerPatterns(ctx, []inventory.OwnerPattern{{Pattern: "AB", Owner: "alice"}}))

	f.submit(t,
		inventory.Row{SKU: "AB-1", InventoryNum: 100, SalesNum: 0},
		inventory.Row{SKU: "ZMT-AB-2", InventoryNum: 100, SalesNum: 0},
	)
	assert.Equal(t, "alice", *f.task(t, "AB-1").Charge)
	assert.Equal(t, inventory.DefaultSpecialOwner, *f.task(t, "ZMT-AB-2").Charge)

	require.NoError(t, f.engine.ReplaceOwnerPatterns(ctx, []inventory.OwnerPattern{{Pattern: "AB", Owner: "bob"}}))
	f.submit(t, inventory.Row{SKU: "AB-1", InventoryNum: 90, SalesNum: 0})
	tk := f.task(t, "AB-1")
	assert.Equal(t, "alice", *tk.Charge)
	assert.Equal(t, 90, tk.InventoryNum)

	owners, err := f.engine.TaskOwners(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", inventory.DefaultSpecialOwner}, owners)

	err = f.engine.ReplaceOwnerPatterns(ctx, []inventory.OwnerPattern{{Pattern: "", Owner: "x"}})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDormantTaskDeletedWhenIneligible(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.submit(t, inventory.Row{SKU: "A", InventoryNum: 100, SalesNum: 0})

	res := f.submit(t, inventory.Row{SKU: "A", InventoryNum: 10, SalesNum: 10})
	assert.Equal(t, 1, res.Demoted)

	_, err := f.db.GetTask(ctx, "A")
	assert.ErrorIs(t, err, task.ErrNotFound)
	rec, err := f.db.GetInventory(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 10, rec.InventoryNum)

	res = f.submit(t, inventory.Row{SKU: "A", InventoryNum: 100, SalesNum: 0})
	assert.Equal(t, 1, res.Promoted)
}

func TestInProgressForcedToCompletionCheck(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.submit(t, inventory.Row{SKU: "A", InventoryNum: 100, SalesNum: 20})
	_, err := f.engine.SelectPlan(ctx, "A", AnyVersion, task.PriceCutClearance)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	res := f.submit(t, inventory.Row{SKU: "A", InventoryNum: 40, SalesNum: 20})
	assert.Equal(t, 1, res.ForcedChecks)

	tk := f.task(t, "A")
	assert.Equal(t, task.InCompletionCheck(task.PriceCutClearance), tk.State)
	require.NotNil(t, tk.CheckedAt)
	assert.True(t, tk.CheckedAt.Equal(t0.Add(time.Hour)))

	// checked tasks are never moved by imports
	res = f.submit(t, inventory.Row{SKU: "A", InventoryNum: 500, SalesNum: 20})
	assert.Zero(t, res.ForcedChecks)
	tk = f.task(t, "A")
	assert.Equal(t, task.StageCompletionCheck, tk.State.Stage())
	assert.Equal(t, 500, tk.InventoryNum)
}

func TestInProgressStillEligibleStays(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.submit(t, inventory.Row{SKU: "A", InventoryNum: 100, SalesNum: 20})
	_, err := f.engine.SelectPlan(ctx, "A", AnyVersion, task.Disposal)
	require.NoError(t, err)

	res := f.submit(t, inventory.Row{SKU: "A", InventoryNum: 90, SalesNum: 20})
	assert.Zero(t, res.ForcedChecks)
	assert.Equal(t, task.Selected(task.Disposal), f.task(t, "A").State)
}

func TestFullLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.submit(t, inventory.Row{SKU: "A", InventoryNum: 100, SalesNum: 0})

	tk, err := f.engine.SelectPlan(ctx, "A", 1, task.PriceCutClearance)
	require.NoError(t, err)
	assert.Equal(t, int64(2), tk.Version)

	_, err = f.engine.ConfirmReview(ctx, "A", AnyVersion)
	var te *task.TransitionError
	require.ErrorAs(t, err, &te)
	assert.True(t, task.IsValidation(err))

	_, err = f.engine.ConfirmCompletionCheck(ctx, "A", AnyVersion)
	require.NoError(t, err)
	_, err = f.engine.ConfirmReview(ctx, "A", AnyVersion)
	require.NoError(t, err)

	_, err = f.engine.Reject(ctx, "A", AnyVersion, "")
	assert.ErrorIs(t, err, task.ErrEmptyReason)

	tk, err = f.engine.Reject(ctx, "A", AnyVersion, "prices still high")
	require.NoError(t, err)
	assert.Equal(t, 1, tk.PriceReductionFailures)
	assert.Equal(t, task.StageCompletionCheck, tk.State.Stage())

	_, err = f.engine.ConfirmReview(ctx, "A", AnyVersion)
	require.NoError(t, err)

	entry, err := f.engine.Approve(ctx, "A", AnyVersion)
	require.NoError(t, err)
	assert.Equal(t, task.ReviewApproved, entry.ReviewStatus)
	assert.Equal(t, task.PriceCutClearance, entry.Plan)

	_, err = f.db.GetTask(ctx, "A")
	assert.ErrorIs(t, err, task.ErrNotFound)

	history, err := f.engine.ListHistory(ctx, task.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, history, 1)

	assert.Equal(t, []events.Kind{
		events.KindPromote,
		events.KindPlanSelected,
		events.KindCompletionCheck,
		events.KindReview,
		events.KindRejected,
		events.KindReview,
		events.KindApproved,
	}, f.sink.kinds())
}

func toReview(t *testing.T, f *fixture, sku string) *task.Task {
	t.Helper()
	ctx := context.Background()
	f.submit(t, inventory.Row{SKU: sku, InventoryNum: 100, SalesNum: 0})
	_, err := f.engine.SelectPlan(ctx, sku, AnyVersion, task.Disposal)
	require.NoError(t, err)
	_, err = f.engine.ConfirmCompletionCheck(ctx, sku, AnyVersion)
	require.NoError(t, err)
	tk, err := f.engine.ConfirmReview(ctx, sku, AnyVersion)
	require.NoError(t, err)
	return tk
}

func TestDoubleApprovalFailsCleanly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tk := toReview(t, f, "A")

	_, err := f.engine.Approve(ctx, "A", tk.Version)
	require.NoError(t, err)

	_, err = f.engine.Approve(ctx, "A", tk.Version)
	assert.ErrorIs(t, err, task.ErrConflict)

	_, err = f.engine.Approve(ctx, "A", AnyVersion)
	assert.ErrorIs(t, err, task.ErrNotFound)

	history, err := f.engine.ListHistory(ctx, task.HistoryFilter{SKU: "A"})
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestConcurrentApprovalsArchiveOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tk := toReview(t, f, "A")

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.Approve(ctx, "A", tk.Version)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, task.ErrConflict)
		}
	}
	assert.Equal(t, 1, succeeded)

	history, err := f.engine.ListHistory(ctx, task.HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestStaleVersionConflicts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.submit(t, inventory.Row{SKU: "A", InventoryNum: 100, SalesNum: 0})

	_, err := f.engine.SelectPlan(ctx, "A", 1, task.Disposal)
	require.NoError(t, err)
	_, err = f.engine.SelectPlan(ctx, "A", 1, task.ReturnToFactory)
	assert.ErrorIs(t, err, task.ErrConflict)
	assert.False(t, task.IsValidation(err))

	_, err = f.engine.SelectPlan(ctx, "missing", AnyVersion, task.Disposal)
	assert.ErrorIs(t, err, task.ErrNotFound)
}

func TestSweepDormantScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.submit(t, inventory.Row{SKU: "E", InventoryNum: 100, SalesNum: 0})

	f.clock.Advance(200 * time.Hour)
	res, err := f.engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Archived: 1, SKUs: []string{"E"}}, res)

	history, err := f.engine.ListHistory(ctx, task.HistoryFilter{ReviewStatus: task.ReviewTimeout})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, task.Unselected, history[0].Plan)

	views, err := f.engine.ListTasks(ctx, task.Filter{})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, -176, views[0].CountDown)
	assert.Equal(t, task.StageDormant.String(), views[0].Stage)

	res, err = f.engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Archived)

	history, err = f.engine.ListHistory(ctx, task.HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, history, 1, "one timeout occurrence archives once")

	// a plan restarts the anchor; the next overrun archives again
	tk, err := f.engine.SelectPlan(ctx, "E", AnyVersion, task.ReturnToFactory)
	require.NoError(t, err)
	assert.True(t, tk.CreatedAt.Equal(f.clock.Now()))
	f.clock.Advance(169 * time.Hour)
	res, err = f.engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Archived)
}

func TestSweepLiveTaskUsesSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	toReview(t, f, "A")
	f.submit(t, inventory.Row{SKU: "B", InventoryNum: 100, SalesNum: 0})
	_, err := f.engine.SelectPlan(ctx, "B", AnyVersion, task.ReturnToFactory)
	require.NoError(t, err)

	f.clock.Advance(100 * time.Hour)
	res, err := f.engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Archived)

	f.clock.Advance(69 * time.Hour)
	res, err = f.engine.Sweep(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "B"}, res.SKUs)

	a := f.task(t, "A")
	assert.Equal(t, task.Dormant(), a.State)
	assert.Nil(t, a.CheckedAt)
	assert.Nil(t, a.ReviewedAt)

	history, err := f.engine.ListHistory(ctx, task.HistoryFilter{SKU: "A"})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, task.Disposal, history[0].Plan)

	kinds := f.sink.kinds()
	assert.Equal(t, events.KindTimeout, kinds[len(kinds)-1])
}

func TestListTasksFiltersAndStatistics(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.engine.ReplaceOwnerPatterns(ctx, []inventory.OwnerPattern{{Pattern: "AB", Owner: "alice"}}))
	f.submit(t,
		inventory.Row{SKU: "AB-1", InventoryNum: 100, SalesNum: 20},
		inventory.Row{SKU: "AB-2", InventoryNum: 100, SalesNum: 0},
		inventory.Row{SKU: "CD-1", InventoryNum: 100, SalesNum: 0},
	)
	_, err := f.engine.SelectPlan(ctx, "AB-2", AnyVersion, task.Disposal)
	require.NoError(t, err)

	views, err := f.engine.ListTasks(ctx, task.Filter{Charge: "alice"})
	require.NoError(t, err)
	assert.Len(t, views, 2)

	views, err = f.engine.ListTasks(ctx, task.Filter{Label: inventory.FilterAging})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "AB-1", views[0].SKU)

	views, err = f.engine.ListTasks(ctx, task.Filter{Status: task.StatusInProgress})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "disposal", views[0].DisplayPlan)
	assert.Equal(t, 168, views[0].CountDown)

	stats, err := f.engine.TaskStatistics(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, task.Statistics{Aging: 1, InStockNoSales: 2, NoPlan: 2, InProgress: 1}, stats)

	stats, err = f.engine.TaskStatistics(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NoPlan)

	inv, err := f.engine.InventoryStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, inventory.Statistics{Aging: 1, NoSales: 2, InStockNoSales: 2}, inv)

	view, err := f.engine.GetTask(ctx, "AB-2")
	require.NoError(t, err)
	assert.Equal(t, int(task.Disposal), view.Status)
}

func TestHistoryStatistics(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	toReview(t, f, "A")
	_, err := f.engine.Approve(ctx, "A", AnyVersion)
	require.NoError(t, err)

	f.submit(t, inventory.Row{SKU: "B", InventoryNum: 100, SalesNum: 0})
	f.clock.Advance(25 * time.Hour)
	_, err = f.engine.Sweep(ctx)
	require.NoError(t, err)

	stats, err := f.engine.HistoryStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, task.HistoryStatistics{Total: 2, ThisWeek: 2, Approved: 1, Timeout: 1, Disposal: 1}, stats)
}

func TestEvidence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.submit(t, inventory.Row{SKU: "A", InventoryNum: 100, SalesNum: 0})

	tk, url, err := f.engine.AddEvidence(ctx, "A", AnyVersion, "shelf.png", []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, []string{url}, tk.ImageURLs)
	assert.Len(t, f.evidence.files, 1)

	_, _, err = f.engine.AddEvidence(ctx, "missing", AnyVersion, "x.png", []byte("img"))
	assert.ErrorIs(t, err, task.ErrNotFound)
	assert.Len(t, f.evidence.files, 1)

	_, _, err = f.engine.AddEvidence(ctx, "A", 99, "y.png", []byte("img"))
	assert.ErrorIs(t, err, task.ErrConflict)
	assert.Len(t, f.evidence.files, 1, "orphaned upload removed")

	tk, err = f.engine.RemoveEvidence(ctx, "A", AnyVersion, url)
	require.NoError(t, err)
	assert.Empty(t, tk.ImageURLs)
	assert.Empty(t, f.evidence.files)

	_, err = f.engine.RemoveEvidence(ctx, "A", AnyVersion, url)
	assert.ErrorIs(t, err, task.ErrEvidenceNotFound)

	tk, err = f.engine.UpdateNotes(ctx, "A", AnyVersion, "supplier agreed")
	require.NoError(t, err)
	assert.Equal(t, "supplier agreed", *tk.Notes)
}

func TestOverdueDormantArchivedBeforePlanSelect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.submit(t, inventory.Row{SKU: "A", InventoryNum: 100, SalesNum: 0})
	f.clock.Advance(30 * time.Hour)

	tk, err := f.engine.SelectPlan(ctx, "A", 1, task.Disposal)
	require.NoError(t, err)
	assert.Equal(t, task.Selected(task.Disposal), tk.State)
	assert.Equal(t, 168, tk.CountDown(f.clock.Now()), "plan restarts the archived anchor")

	history, err := f.engine.ListHistory(ctx, task.HistoryFilter{ReviewStatus: task.ReviewTimeout})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, task.Unselected, history[0].Plan)

	res, err := f.engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Archived)
	assert.Equal(t, []events.Kind{
		events.KindPromote,
		events.KindTimeout,
		events.KindPlanSelected,
	}, f.sink.kinds())
}

func TestOverdueDormantArchivedBeforeDemotion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.submit(t, inventory.Row{SKU: "A", InventoryNum: 100, SalesNum: 0})
	f.clock.Advance(30 * time.Hour)

	res := f.submit(t, inventory.Row{SKU: "A", InventoryNum: 10, SalesNum: 10})
	assert.Equal(t, 1, res.TimedOut)
	assert.Equal(t, 1, res.Demoted)

	_, err := f.db.GetTask(ctx, "A")
	assert.ErrorIs(t, err, task.ErrNotFound)

	history, err := f.engine.ListHistory(ctx, task.HistoryFilter{SKU: "A"})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, task.ReviewTimeout, history[0].ReviewStatus)
	assert.Equal(t, 100, history[0].InventoryNum)
}

func TestOverdueReviewTimesOutInsteadOfApproval(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	toReview(t, f, "A")
	f.clock.Advance(169 * time.Hour)

	_, err := f.engine.Approve(ctx, "A", AnyVersion)
	var te *task.TransitionError
	require.ErrorAs(t, err, &te)

	// the timeout is committed even though the approval was refused
	assert.Equal(t, task.Dormant(), f.task(t, "A").State)
	history, err := f.engine.ListHistory(ctx, task.HistoryFilter{SKU: "A"})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, task.ReviewTimeout, history[0].ReviewStatus)
	assert.Equal(t, task.Disposal, history[0].Plan)
}

func TestSweepSkipsRowsChangedSinceRead(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.submit(t,
		inventory.Row{SKU: "A", InventoryNum: 100, SalesNum: 0},
		inventory.Row{SKU: "B", InventoryNum: 100, SalesNum: 0},
	)
	f.clock.Advance(30 * time.Hour)

	stale, err := f.db.ListTasks(ctx, db.TaskQuery{})
	require.NoError(t, err)
	require.Len(t, stale, 2)

	// another writer archives A between the read and the sweep's writes
	_, err = f.engine.UpdateNotes(ctx, "A", AnyVersion, "called supplier")
	require.NoError(t, err)

	var res SweepResult
	err = f.db.WithTx(ctx, func(s *db.Store) error {
		var err error
		res, _, err = f.engine.archiveOverdue(ctx, s, stale, f.clock.Now())
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Archived: 1, SKUs: []string{"B"}, Skipped: 1}, res)

	history, err := f.engine.ListHistory(ctx, task.HistoryFilter{ReviewStatus: task.ReviewTimeout})
	require.NoError(t, err)
	assert.Len(t, history, 2, "each SKU archived once")
}
