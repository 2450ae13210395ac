package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kylemclaren/slowstock/internal/version"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Archive overdue tasks once and exit",
	Long: `Run one SLA sweep: every task past its deadline is recorded in history
as a timeout and reset to no plan. Safe to run repeatedly.`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.Info())
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd, versionCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.engine.Sweep(cmd.Context())
	if err != nil {
		return err
	}
	if res.Archived == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No overdue tasks")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Archived %d overdue tasks: %s\n", res.Archived, strings.Join(res.SKUs, ", "))
	return nil
}
