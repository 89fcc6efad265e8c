package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qzhou-ai/memflow/internal/memory/episode"
)

var qualifyCmd = &cobra.Command{
	Use:   "qualify",
	Short: "Score episodes for scene potential",
}

var qualifyScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Score every segmented dialogue that has no qualification file yet",
	Long: `Score each episode on information density, emotional weight, topic
coherence, and reusability, and decide whether it is a scene candidate.

Dialogues without an episode file are skipped; run 'memflow episodes scan'
first.

Examples:
  memflow qualify scan`,
	Args: cobra.NoArgs,
	RunE: runQualifyScan,
}

func init() {
	qualifyCmd.AddCommand(qualifyScanCmd)
}

func runQualifyScan(cmd *cobra.Command, args []string) error {
	m, err := getModel(cmd.Context())
	if err != nil {
		return err
	}
	qualifier := episode.NewQualifier(m, prompts, dialogueArchive(), episodePaths())

	var result *episode.ScanResult
	err = runWithProgress(cmd.Context(), "qualifying", func(ctx context.Context, report func(int, int)) error {
		qualifier.OnProgress = report
		var scanErr error
		result, scanErr = qualifier.ScanAll(ctx)
		return scanErr
	})
	if err != nil {
		return err
	}

	fmt.Printf("Qualified: %d  Skipped: %d  Failed: %d\n", result.Processed, result.Skipped, result.Failed)
	printErrors(result.Errors)
	return nil
}
