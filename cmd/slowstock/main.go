package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kylemclaren/slowstock/internal/config"
	"github.com/kylemclaren/slowstock/internal/logging"
	"github.com/kylemclaren/slowstock/internal/tui"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "slowstock",
	Short: "Track remediation of slow-moving inventory",
	Long: `slowstock promotes slow-moving SKUs from inventory snapshots into
remediation tasks, walks them through plan selection, completion check and
review, and archives overdue tasks on an SLA.

Run without a subcommand to open the interactive task board.`,
	SilenceUsage: true,
	RunE:         runBoard,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.slowstock/config.yaml)")
	rootCmd.PersistentFlags().String("data-dir", "", "data directory (default: ~/.slowstock)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	if err := config.Init(cfgFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading config: %v\n", err)
		os.Exit(1)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runBoard opens the task board. A scheduler runs in-process unless a
// daemon already owns the schedules.
func runBoard(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	// keep log lines off the alternate screen
	logging.SetOutput(a.logFile())

	pid, daemonRunning := isDaemonRunning(a.pidPath())
	if daemonRunning {
		fmt.Printf("Daemon running (PID %d), board in client mode\n", pid)
	} else {
		if err := a.startScheduler(cmd.Context()); err != nil {
			return err
		}
	}

	return tui.Run(a.engine, a.scheduler)
}
