package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qzhou-ai/memflow/internal/memory/episode"
)

var episodesCmd = &cobra.Command{
	Use:   "episodes",
	Short: "Segment dialogues into episodes",
}

var episodesScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Segment every dialogue that has no episode file yet",
	Long: `Scan the dialogue archive and segment each new dialogue into episodes.

Dialogues that already have an episode file are skipped, so the scan is
safe to re-run after adding conversations.

Examples:
  memflow episodes scan`,
	Args: cobra.NoArgs,
	RunE: runEpisodesScan,
}

func init() {
	episodesCmd.AddCommand(episodesScanCmd)
}

func runEpisodesScan(cmd *cobra.Command, args []string) error {
	m, err := getModel(cmd.Context())
	if err != nil {
		return err
	}
	builder := episode.NewBuilder(m, prompts, dialogueArchive(), episodePaths())

	var result *episode.ScanResult
	err = runWithProgress(cmd.Context(), "segmenting", func(ctx context.Context, report func(int, int)) error {
		builder.OnProgress = report
		var scanErr error
		result, scanErr = builder.ScanAll(ctx)
		return scanErr
	})
	if err != nil {
		return err
	}

	fmt.Printf("Segmented: %d  Skipped: %d  Failed: %d\n", result.Processed, result.Skipped, result.Failed)
	printErrors(result.Errors)
	return nil
}
