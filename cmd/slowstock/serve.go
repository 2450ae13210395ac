package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kylemclaren/slowstock/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with the scheduler",
	Long: `Run the REST API, the SSE event feed and the scheduled jobs (SLA sweep
and drop-directory import) in one process.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the scheduler in the foreground (for services)",
	Args:  cobra.NoArgs,
	RunE:  runDaemon,
}

func init() {
	serveCmd.Flags().Int("port", 0, "HTTP server port (default: server.port)")
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))

	rootCmd.AddCommand(serveCmd, daemonCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, appOptions{events: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.startScheduler(ctx); err != nil {
		return err
	}

	server := api.NewServer(a.engine, a.importer, api.Options{
		CronSecret:   a.cfg.Server.CronSecret,
		Hub:          a.hub,
		Evidence:     a.evidence.Handler(),
		EvidencePath: a.evidencePath(),
		Logger:       a.log,
	})

	addr := fmt.Sprintf(":%d", a.cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// event streams never go idle; end them so Shutdown can drain
	srv.RegisterOnShutdown(a.hub.Close)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	a.log.WithField("addr", addr).WithField("driver", a.cfg.Database.Driver).Info("API server started")

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}

	a.log.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	pidPath := a.pidPath()
	if pid, running := isDaemonRunning(pidPath); running {
		return fmt.Errorf("daemon already running (PID %d)", pid)
	}
	if err := os.WriteFile(pidPath, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer os.Remove(pidPath)

	if err := a.startScheduler(ctx); err != nil {
		return err
	}

	a.log.WithField("pid", os.Getpid()).WithField("data_dir", a.cfg.DataDir).Info("Daemon started")
	<-ctx.Done()
	a.log.Info("Shutting down daemon")
	return nil
}
