package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qzhou-ai/memflow/internal/memory/episode"
)

var filterConfirm bool

var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Decide which episodes are eligible for scene building",
}

var filterScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Apply the eligibility rules to every qualified dialogue",
	Long: `Apply the rule-based eligibility filter to each dialogue's
qualifications. The rules are deterministic, so this stage needs no LLM
and re-running it always produces the same result.

Examples:
  memflow filter scan`,
	Args: cobra.NoArgs,
	RunE: runFilterScan,
}

var filterClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every eligibility file",
	Long: `Delete all eligibility results so the next scan starts clean.
Requires --confirm.

Examples:
  memflow filter clear --confirm`,
	Args: cobra.NoArgs,
	RunE: runFilterClear,
}

func init() {
	filterClearCmd.Flags().BoolVar(&filterConfirm, "confirm", false, "confirm the deletion")

	filterCmd.AddCommand(filterScanCmd)
	filterCmd.AddCommand(filterClearCmd)
}

func runFilterScan(cmd *cobra.Command, args []string) error {
	filter := episode.NewFilter(episodePaths())

	var result *episode.ScanResult
	err := runWithProgress(cmd.Context(), "filtering", func(_ context.Context, report func(int, int)) error {
		filter.OnProgress = report
		var scanErr error
		result, scanErr = filter.ScanAll()
		return scanErr
	})
	if err != nil {
		return err
	}

	fmt.Printf("Filtered: %d  Skipped: %d  Failed: %d\n", result.Processed, result.Skipped, result.Failed)
	printErrors(result.Errors)
	return nil
}

func runFilterClear(cmd *cobra.Command, args []string) error {
	if !filterConfirm {
		return fmt.Errorf("refusing to delete eligibility results without --confirm")
	}

	removed, err := episode.NewFilter(episodePaths()).ClearAll()
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d eligibility file(s)\n", removed)
	return nil
}
