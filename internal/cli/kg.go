package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qzhou-ai/memflow/internal/memory/kg"
)

var kgScenePath string

var kgCmd = &cobra.Command{
	Use:   "kg",
	Short: "Extract and aggregate the knowledge graph",
}

var kgExtractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract entity and relation candidates from scenes",
	Long: `Extract knowledge graph candidates from every scene that has none
yet, or from a single scene with --scene.

Examples:
  memflow kg extract
  memflow kg extract --scene data/memory/scenes/by_user/alice/scene_000001/v1.0.json`,
	Args: cobra.NoArgs,
	RunE: runKGExtract,
}

var kgAggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Merge all candidates into the graph snapshot",
	Long: `Merge every candidate file into kg_data.json. Entities are
deduplicated across scenes; relations keep per-scene provenance. The
snapshot is rebuilt from scratch on every run.

Examples:
  memflow kg aggregate`,
	Args: cobra.NoArgs,
	RunE: runKGAggregate,
}

func init() {
	kgExtractCmd.Flags().StringVar(&kgScenePath, "scene", "", "extract a single scene file instead of scanning")

	kgCmd.AddCommand(kgExtractCmd)
	kgCmd.AddCommand(kgAggregateCmd)
}

func newExtractor(cmd *cobra.Command) (*kg.Extractor, error) {
	m, err := getModel(cmd.Context())
	if err != nil {
		return nil, err
	}
	return kg.NewExtractor(m, prompts, sceneStore(), cfg.KGCandidatesRoot()), nil
}

func runKGExtract(cmd *cobra.Command, args []string) error {
	extractor, err := newExtractor(cmd)
	if err != nil {
		return err
	}

	if kgScenePath != "" {
		if _, err := extractor.ExtractScene(cmd.Context(), kgScenePath); err != nil {
			return fmt.Errorf("extract scene: %w", err)
		}
		fmt.Printf("Extracted: %s\n", kgScenePath)
		return nil
	}

	var result *kg.ScanResult
	err = runWithProgress(cmd.Context(), "extracting", func(ctx context.Context, report func(int, int)) error {
		extractor.OnProgress = report
		var scanErr error
		result, scanErr = extractor.ScanAll(ctx)
		return scanErr
	})
	if err != nil {
		return err
	}

	fmt.Printf("Extracted: %d  Skipped: %d  Degraded: %d  Failed: %d\n",
		result.Processed, result.Skipped, result.Degraded, result.Failed)
	printErrors(result.Errors)
	return nil
}

func runKGAggregate(cmd *cobra.Command, args []string) error {
	// Aggregation only reads candidate files, no model needed.
	extractor := kg.NewExtractor(nil, prompts, sceneStore(), cfg.KGCandidatesRoot())
	aggregator := kg.NewAggregator(extractor, cfg.KGDataRoot())

	snapshot, err := aggregator.Run()
	if err != nil {
		return err
	}

	fmt.Printf("Snapshot written: %s\n", aggregator.SnapshotPath())
	fmt.Printf("  Scenes:    %d\n", snapshot.Metadata.TotalScenes)
	fmt.Printf("  Entities:  %d\n", snapshot.Metadata.TotalEntities)
	fmt.Printf("  Relations: %d\n", snapshot.Metadata.TotalRelations)
	return nil
}
