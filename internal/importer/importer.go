// Package importer turns spreadsheet exports into inventory snapshots and
// records every attempt as an import run.
package importer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kylemclaren/slowstock/internal/db"
	"github.com/kylemclaren/slowstock/internal/engine"
	"github.com/kylemclaren/slowstock/internal/logging"
)

const (
	ProcessedDir = "processed"
	FailedDir    = "failed"
)

// Importer feeds snapshot files to the engine.
type Importer struct {
	engine  *engine.Engine
	db      *db.DB
	columns Columns
	log     logrus.FieldLogger
	now     func() time.Time
}

// Option configures an Importer.
type Option func(*Importer)

// WithColumns overrides the expected sheet headers.
func WithColumns(c Columns) Option { return func(i *Importer) { i.columns = c } }

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option { return func(i *Importer) { i.log = l } }

// New creates an importer
func New(eng *engine.Engine, opts ...Option) *Importer {
	i := &Importer{
		engine:  eng,
		db:      eng.DB(),
		columns: DefaultColumns(),
		log:     logging.GetLogger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Result represents the outcome of one import
type Result struct {
	Run      *db.ImportRun
	Rows     int
	Duration time.Duration
	Error    error
}

// Import parses data and submits it as one snapshot. A run record is
// written before parsing and finalized with the counts or the error.
func (i *Importer) Import(ctx context.Context, source string, data []byte) *Result {
	run, err := i.startRun(ctx, source)
	if err != nil {
		return &Result{Error: err}
	}
	return i.run(ctx, run, data)
}

// ImportAsync records a running import and processes data in the
// background. The run is returned at once; its final state is delivered on
// the channel and stored on the run record.
func (i *Importer) ImportAsync(ctx context.Context, source string, data []byte) (*db.ImportRun, <-chan *Result, error) {
	run, err := i.startRun(ctx, source)
	if err != nil {
		return nil, nil, err
	}
	snapshot := *run

	ch := make(chan *Result, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		ch <- i.run(ctx, run, data)
		close(ch)
	}()
	return &snapshot, ch, nil
}

func (i *Importer) startRun(ctx context.Context, source string) (*db.ImportRun, error) {
	run := &db.ImportRun{
		Source:    source,
		StartedAt: i.now(),
		Status:    db.RunStatusRunning,
	}
	if err := i.db.CreateImportRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run record: %w", err)
	}
	return run, nil
}

func (i *Importer) run(ctx context.Context, run *db.ImportRun, data []byte) *Result {
	startTime := run.StartedAt
	log := i.log.WithField("source", run.Source).WithField("run_id", run.ID)

	rows, err := ParseSnapshot(run.Source, data, i.columns)
	if err != nil {
		return i.handleImportError(ctx, run, startTime, err)
	}

	res, err := i.engine.SubmitSnapshot(ctx, rows)
	if err != nil {
		return i.handleImportError(ctx, run, startTime, err)
	}

	endTime := i.now()
	run.EndedAt = &endTime
	run.Status = db.RunStatusCompleted
	run.Inserted = res.Inserted
	run.Updated = res.Updated
	run.Promoted = res.Promoted
	run.Demoted = res.Demoted
	run.ForcedChecks = res.ForcedChecks
	if err := i.db.UpdateImportRun(ctx, run); err != nil {
		log.WithError(err).Warn("Failed to finalize import run")
	}

	log.WithField("rows", len(rows)).Info("Import completed")
	return &Result{Run: run, Rows: len(rows), Duration: endTime.Sub(startTime)}
}

// handleImportError marks the run failed and builds the error result
func (i *Importer) handleImportError(ctx context.Context, run *db.ImportRun, startTime time.Time, err error) *Result {
	endTime := i.now()
	msg := err.Error()
	run.EndedAt = &endTime
	run.Status = db.RunStatusFailed
	run.Error = &msg
	if uerr := i.db.UpdateImportRun(ctx, run); uerr != nil {
		i.log.WithField("run_id", run.ID).WithError(uerr).Warn("Failed to record import failure")
	}
	i.log.WithField("source", run.Source).WithField("run_id", run.ID).WithError(err).Error("Import failed")
	return &Result{Run: run, Error: err, Duration: endTime.Sub(startTime)}
}

// ImportFile imports a snapshot from disk.
func (i *Importer) ImportFile(ctx context.Context, path string) *Result {
	info, err := os.Stat(path)
	if err != nil {
		return &Result{Error: err}
	}
	if info.Size() > MaxFileSize {
		return &Result{Error: ErrTooLarge}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return &Result{Error: err}
	}
	return i.Import(ctx, filepath.Base(path), data)
}

// ProcessDropDir imports every supported file in dir, oldest first, and
// moves each into processed/ or failed/. It returns the results in order.
func (i *Importer) ProcessDropDir(ctx context.Context, dir string) ([]*Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read drop dir: %w", err)
	}

	type pending struct {
		name string
		mod  time.Time
	}
	var files []pending
	for _, e := range entries {
		if e.IsDir() || !Supported(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, pending{e.Name(), info.ModTime()})
	}
	sort.Slice(files, func(a, b int) bool {
		if files[a].mod.Equal(files[b].mod) {
			return files[a].name < files[b].name
		}
		return files[a].mod.Before(files[b].mod)
	})

	var results []*Result
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		path := filepath.Join(dir, f.name)
		res := i.ImportFile(ctx, path)
		results = append(results, res)

		dest := ProcessedDir
		if res.Error != nil {
			dest = FailedDir
		}
		if err := moveInto(path, filepath.Join(dir, dest)); err != nil {
			return results, err
		}
	}
	return results, nil
}

func moveInto(path, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	target := filepath.Join(dir, filepath.Base(path))
	if _, err := os.Stat(target); err == nil {
		ext := filepath.Ext(target)
		target = fmt.Sprintf("%s-%d%s", target[:len(target)-len(ext)], time.Now().UnixNano(), ext)
	}
	if err := os.Rename(path, target); err != nil {
		return fmt.Errorf("move %s: %w", path, err)
	}
	return nil
}

// Runs lists the most recent import runs.
func (i *Importer) Runs(ctx context.Context, limit int) ([]*db.ImportRun, error) {
	if limit <= 0 {
		limit = 50
	}
	runs, err := i.db.ListImportRuns(ctx, limit)
	if err != nil {
		return nil, err
	}
	if runs == nil {
		runs = []*db.ImportRun{}
	}
	return runs, nil
}

// MarkStaleRuns fails runs left running by a previous process.
func (i *Importer) MarkStaleRuns(ctx context.Context) (int64, error) {
	n, err := i.db.MarkStaleRunsAsFailed(ctx, i.now())
	if err == nil && n > 0 {
		i.log.WithField("runs", n).Info("Marked stale import runs as failed")
	}
	return n, err
}
