// Package scheduler runs the SLA sweep and drop-directory imports on cron
// schedules.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/kylemclaren/slowstock/internal/engine"
	"github.com/kylemclaren/slowstock/internal/importer"
)

// Job names.
const (
	JobSweep  = "sweep"
	JobImport = "import"
)

// jobTimeout bounds one scheduled run.
const jobTimeout = 10 * time.Minute

var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule checks a six-field (seconds first) cron expression or
// descriptor such as "@every 5m".
func ValidateSchedule(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// Options selects what runs and when. An empty schedule disables the job.
type Options struct {
	SweepSchedule  string
	ImportSchedule string
	DropDir        string
}

// Scheduler manages the cron jobs
type Scheduler struct {
	cron     *cron.Cron
	engine   *engine.Engine
	importer *importer.Importer
	dropDir  string
	log      logrus.FieldLogger

	mu      sync.RWMutex
	jobs    map[string]cron.EntryID
	exprs   map[string]string
	running bool
}

// New creates a new scheduler
func New(eng *engine.Engine, imp *importer.Importer, opts Options, log logrus.FieldLogger) *Scheduler {
	logger := cron.PrintfLogger(log)
	s := &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		engine:   eng,
		importer: imp,
		dropDir:  opts.DropDir,
		log:      log,
		jobs:     make(map[string]cron.EntryID),
		exprs:    map[string]string{JobSweep: opts.SweepSchedule, JobImport: opts.ImportSchedule},
	}
	return s
}

// Start fails leftover import runs, registers the jobs and starts the cron
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if s.importer != nil {
		if _, err := s.importer.MarkStaleRuns(ctx); err != nil {
			s.log.WithError(err).Warn("Failed to mark stale import runs")
		}
	}

	for name, expr := range s.exprs {
		if err := s.scheduleLocked(name, expr); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.running = true
	s.log.WithField("jobs", len(s.jobs)).Info("Scheduler started")
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()
}

// SetSchedule replaces a job's schedule. An empty expression removes it.
func (s *Scheduler) SetSchedule(name, expr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleLocked(name, expr)
}

func (s *Scheduler) scheduleLocked(name, expr string) error {
	if name != JobSweep && name != JobImport {
		return fmt.Errorf("unknown job %q", name)
	}
	if entryID, ok := s.jobs[name]; ok {
		s.cron.Remove(entryID)
		delete(s.jobs, name)
	}
	s.exprs[name] = expr
	if expr == "" {
		return nil
	}
	job, err := s.job(name)
	if err != nil {
		return err
	}

	entryID, err := s.cron.AddFunc(expr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		if err := job(ctx); err != nil {
			s.log.WithField("job", name).WithError(err).Error("Scheduled job failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression for %s: %w", name, err)
	}
	s.jobs[name] = entryID
	return nil
}

func (s *Scheduler) job(name string) (func(context.Context) error, error) {
	switch name {
	case JobSweep:
		return s.sweep, nil
	case JobImport:
		if s.importer == nil || s.dropDir == "" {
			return nil, fmt.Errorf("import job needs an importer and a drop directory")
		}
		return s.importDropDir, nil
	default:
		return nil, fmt.Errorf("unknown job %q", name)
	}
}

func (s *Scheduler) sweep(ctx context.Context) error {
	_, err := s.engine.Sweep(ctx)
	return err
}

func (s *Scheduler) importDropDir(ctx context.Context) error {
	results, err := s.importer.ProcessDropDir(ctx, s.dropDir)
	for _, r := range results {
		if r.Error != nil {
			s.log.WithField("job", JobImport).WithError(r.Error).Warn("Dropped file failed to import")
		}
	}
	return err
}

// RunNow executes a job synchronously
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	job, err := s.job(name)
	if err != nil {
		return err
	}
	return job(ctx)
}

// NextRun returns the next scheduled run time for a job
func (s *Scheduler) NextRun(name string) *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if entryID, ok := s.jobs[name]; ok {
		entry := s.cron.Entry(entryID)
		if !entry.Next.IsZero() {
			return &entry.Next
		}
	}
	return nil
}

// NextRuns returns next run times for all scheduled jobs
func (s *Scheduler) NextRuns() map[string]time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]time.Time)
	for name, entryID := range s.jobs {
		entry := s.cron.Entry(entryID)
		if !entry.Next.IsZero() {
			result[name] = entry.Next
		}
	}
	return result
}
