package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kylemclaren/slowstock/internal/config"
	"github.com/kylemclaren/slowstock/internal/db"
	"github.com/kylemclaren/slowstock/internal/engine"
	"github.com/kylemclaren/slowstock/internal/events"
	"github.com/kylemclaren/slowstock/internal/evidence"
	"github.com/kylemclaren/slowstock/internal/importer"
	"github.com/kylemclaren/slowstock/internal/logging"
	"github.com/kylemclaren/slowstock/internal/scheduler"
	"github.com/kylemclaren/slowstock/internal/telemetry"
	"github.com/kylemclaren/slowstock/internal/version"
	"github.com/kylemclaren/slowstock/internal/webhook"
)

const (
	serviceName = "slowstock"
	// eventBuffer is how many recent events a new SSE subscriber replays.
	eventBuffer = 100
)

type appOptions struct {
	// events enables the in-process hub for the SSE feed.
	events bool
}

// app holds everything a command needs, wired from configuration.
type app struct {
	cfg        *config.Config
	log        *logrus.Logger
	db         *db.DB
	engine     *engine.Engine
	importer   *importer.Importer
	evidence   *evidence.DirStore
	hub        *events.Hub
	dispatcher *webhook.Dispatcher
	scheduler  *scheduler.Scheduler
	closers    []func()
}

func openApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := logging.Configure(cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	a := &app{cfg: cfg, log: logging.GetLogger()}

	if err := telemetry.Init(ctx, telemetry.Options{
		Enabled: cfg.Telemetry.Enabled,
		Stdout:  cfg.Telemetry.Stdout,
	}, serviceName, version.Version); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(shutdownCtx)
	})

	database, err := db.Open(cfg.Database.Driver, cfg.DatabaseDSN())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("initializing database: %w", err)
	}
	a.db = database
	a.closers = append(a.closers, func() { database.Close() })

	store, err := evidence.NewDirStore(cfg.Evidence.Dir, cfg.Evidence.BaseURL)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.evidence = store

	var sinks events.Multi
	if opts.events {
		a.hub = events.NewHub(eventBuffer)
		sinks = append(sinks, a.hub)
	}
	if notifiers := buildNotifiers(cfg.Webhook); len(notifiers) > 0 {
		a.dispatcher = webhook.NewDispatcher(a.log, notifiers...)
		sinks = append(sinks, a.dispatcher)
		a.closers = append(a.closers, a.dispatcher.Close)
	}

	a.engine = engine.New(database,
		engine.WithResolver(cfg.Resolver()),
		engine.WithEvidence(store),
		engine.WithSink(sinks),
		engine.WithLogger(a.log),
	)
	a.importer = importer.New(a.engine,
		importer.WithColumns(cfg.Import.Columns),
		importer.WithLogger(a.log),
	)
	return a, nil
}

func buildNotifiers(cfg config.WebhookConfig) []webhook.Notifier {
	var notifiers []webhook.Notifier
	if cfg.SlackURL != "" {
		notifiers = append(notifiers, webhook.NewSlack(cfg.SlackURL))
	}
	if cfg.DiscordURL != "" {
		notifiers = append(notifiers, webhook.NewDiscord(cfg.DiscordURL))
	}
	return notifiers
}

// startScheduler runs the sweep and drop-directory jobs until Close.
func (a *app) startScheduler(ctx context.Context) error {
	a.scheduler = scheduler.New(a.engine, a.importer, scheduler.Options{
		SweepSchedule:  a.cfg.Sweeper.Schedule,
		ImportSchedule: a.importSchedule(),
		DropDir:        a.cfg.Import.DropDir,
	}, a.log)
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	// stop the scheduler before the store it writes to
	a.closers = append(a.closers, a.scheduler.Stop)
	return nil
}

// importSchedule is empty unless a drop directory is configured.
func (a *app) importSchedule() string {
	if a.cfg.Import.DropDir == "" {
		return ""
	}
	return a.cfg.Import.Schedule
}

// evidencePath is where the API serves evidence files. Absolute base URLs
// point elsewhere, so files are still served at the default path.
func (a *app) evidencePath() string {
	if strings.HasPrefix(a.cfg.Evidence.BaseURL, "/") {
		return a.cfg.Evidence.BaseURL
	}
	return "/evidence"
}

func (a *app) pidPath() string {
	return filepath.Join(a.cfg.DataDir, "daemon.pid")
}

// logFile opens slowstock.log in the data dir, or discards on failure.
func (a *app) logFile() io.Writer {
	f, err := os.OpenFile(filepath.Join(a.cfg.DataDir, "slowstock.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return io.Discard
	}
	a.closers = append(a.closers, func() { f.Close() })
	return f
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// isDaemonRunning checks if a daemon is running by reading PID file and checking process
func isDaemonRunning(pidPath string) (int, bool) {
	data, err := os.ReadFile(pidPath)
	if err != nil {
		return 0, false
	}

	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return 0, false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}

	// On Unix, FindProcess always succeeds, so send signal 0 to check if alive
	if err := process.Signal(syscall.Signal(0)); err != nil {
		return 0, false
	}

	return pid, true
}
