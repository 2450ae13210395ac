package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kylemclaren/slowstock/internal/clock"
	"github.com/kylemclaren/slowstock/internal/db"
	"github.com/kylemclaren/slowstock/internal/engine"
	"github.com/kylemclaren/slowstock/internal/importer"
	"github.com/kylemclaren/slowstock/internal/inventory"
	"github.com/kylemclaren/slowstock/internal/logging"
	"github.com/kylemclaren/slowstock/internal/task"
)

type fixture struct {
	db       *db.DB
	engine   *engine.Engine
	importer *importer.Importer
	clock    *clock.Fake
	dropDir  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "slowstock.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	clk := clock.NewFake(time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC))
	eng := engine.New(database, engine.WithClock(clk), engine.WithLogger(logging.Discard()))
	return &fixture{
		db:       database,
		engine:   eng,
		importer: importer.New(eng, importer.WithLogger(logging.Discard())),
		clock:    clk,
		dropDir:  t.TempDir(),
	}
}

func (f *fixture) scheduler(opts Options) *Scheduler {
	if opts.DropDir == "" {
		opts.DropDir = f.dropDir
	}
	return New(f.engine, f.importer, opts, logging.Discard())
}

func TestValidateSchedule(t *testing.T) {
	assert.NoError(t, ValidateSchedule("0 */5 * * * *"))
	assert.NoError(t, ValidateSchedule("@every 1m"))
	assert.Error(t, ValidateSchedule("*/5 * * * *"))
	assert.Error(t, ValidateSchedule("not a schedule"))
}

func TestRunNowSweep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.engine.SubmitSnapshot(ctx, []inventory.Row{{SKU: "A", InventoryNum: 100}})
	require.NoError(t, err)

	f.clock.Advance(25 * time.Hour)
	require.NoError(t, f.scheduler(Options{}).RunNow(ctx, JobSweep))

	history, err := f.engine.ListHistory(ctx, task.HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRunNowImport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	data := "马帮SKU,仓库,库存数量,待发货量,在途量,最近7天销量\nA,US,100,0,0,0\n"
	require.NoError(t, os.WriteFile(filepath.Join(f.dropDir, "snap.csv"), []byte(data), 0o644))

	require.NoError(t, f.scheduler(Options{}).RunNow(ctx, JobImport))

	_, err := f.db.GetTask(ctx, "A")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(f.dropDir, importer.ProcessedDir, "snap.csv"))
}

func TestRunNowUnknownJob(t *testing.T) {
	f := newFixture(t)
	assert.Error(t, f.scheduler(Options{}).RunNow(context.Background(), "reboot"))
}

func TestStartSchedulesConfiguredJobs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.scheduler(Options{SweepSchedule: "0 */5 * * * *"})
	require.NoError(t, s.Start(ctx))
	t.Cleanup(s.Stop)

	assert.NotNil(t, s.NextRun(JobSweep))
	assert.Nil(t, s.NextRun(JobImport))
	assert.Len(t, s.NextRuns(), 1)

	require.NoError(t, s.SetSchedule(JobImport, "@every 1h"))
	assert.Len(t, s.NextRuns(), 2)

	require.NoError(t, s.SetSchedule(JobSweep, ""))
	assert.Nil(t, s.NextRun(JobSweep))

	assert.Error(t, s.SetSchedule(JobSweep, "bogus"))
	assert.Error(t, s.SetSchedule("reboot", "@every 1h"))
}

func TestStartRejectsBadSchedule(t *testing.T) {
	f := newFixture(t)
	s := f.scheduler(Options{SweepSchedule: "bogus"})
	assert.Error(t, s.Start(context.Background()))
}

func TestStartMarksStaleRuns(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	run := &db.ImportRun{Source: "x.csv", StartedAt: time.Now().UTC(), Status: db.RunStatusRunning}
	require.NoError(t, f.db.CreateImportRun(ctx, run))

	s := f.scheduler(Options{})
	require.NoError(t, s.Start(ctx))
	s.Stop()
	s.Stop()

	stored, err := f.db.GetImportRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, db.RunStatusFailed, stored.Status)
}

func TestScheduledSweepFires(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.engine.SubmitSnapshot(ctx, []inventory.Row{{SKU: "A", InventoryNum: 100}})
	require.NoError(t, err)
	f.clock.Advance(25 * time.Hour)

	s := f.scheduler(Options{SweepSchedule: "@every 1s"})
	require.NoError(t, s.Start(ctx))
	t.Cleanup(s.Stop)

	require.Eventually(t, func() bool {
		history, err := f.engine.ListHistory(ctx, task.HistoryFilter{})
		return err == nil && len(history) == 1
	}, 5*time.Second, 100*time.Millisecond)
}
