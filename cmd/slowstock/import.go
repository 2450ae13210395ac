package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/kylemclaren/slowstock/internal/importer"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import an inventory snapshot (.xlsx or .csv)",
	Long: `Import an inventory snapshot. Rows are grouped by SKU across
warehouses, classified and reconciled against the task table in one
transaction. The run is recorded in the import history.

Examples:
  slowstock import inventory.xlsx
  slowstock import export.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

var ownersCmd = &cobra.Command{
	Use:   "owners",
	Short: "Manage SKU owner patterns",
}

var ownersImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace owner patterns from a sheet with pattern and owner columns",
	Args:  cobra.ExactArgs(1),
	RunE:  runOwnersImport,
}

var ownersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List owner patterns in match order",
	Args:  cobra.NoArgs,
	RunE:  runOwnersList,
}

func init() {
	ownersCmd.AddCommand(ownersImportCmd, ownersListCmd)
	rootCmd.AddCommand(importCmd, ownersCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	res := a.importer.ImportFile(cmd.Context(), args[0])
	if res.Error != nil {
		return fmt.Errorf("import %s: %w", filepath.Base(args[0]), res.Error)
	}
	run := res.Run
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d SKUs from %s in %s\n", res.Rows, run.Source, res.Duration.Round(time.Millisecond))
	fmt.Fprintf(cmd.OutOrStdout(), "  inventory: %d inserted, %d updated\n", run.Inserted, run.Updated)
	fmt.Fprintf(cmd.OutOrStdout(), "  tasks:     %d promoted, %d demoted, %d sent to completion check\n",
		run.Promoted, run.Demoted, run.ForcedChecks)
	return nil
}

func runOwnersImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	patterns, err := importer.ParseOwnerPatterns(args[0], data)
	if err != nil {
		return err
	}

	a, err := openApp(cmd.Context(), appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.engine.ReplaceOwnerPatterns(cmd.Context(), patterns); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d owner patterns\n", len(patterns))
	return nil
}

func runOwnersList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	patterns, err := a.engine.ListOwnerPatterns(cmd.Context())
	if err != nil {
		return err
	}
	if special := a.cfg.Charge; special.SpecialPattern != "" && special.SpecialOwner != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "*%s*\t%s\t(special)\n", special.SpecialPattern, special.SpecialOwner)
	}
	for _, p := range patterns {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", p.Pattern, p.Owner)
	}
	return nil
}
