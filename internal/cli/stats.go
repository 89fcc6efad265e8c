package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/qzhou-ai/memflow/internal/memory/kg"
	"github.com/qzhou-ai/memflow/internal/memory/store"
	"github.com/qzhou-ai/memflow/internal/memory/vector"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show pipeline state across all stages",
	Long: `Report what each pipeline stage has produced so far: dialogues,
episode files, the scene tracker, the graph snapshot, and the vector
index.

Examples:
  memflow stats`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	dialogues, err := dialogueArchive().List()
	if err != nil {
		return fmt.Errorf("list dialogues: %w", err)
	}
	fmt.Printf("Dialogues:       %d\n", len(dialogues))

	paths := episodePaths()
	ids, err := paths.ListDialogueIDs()
	if err != nil {
		return fmt.Errorf("list episode dirs: %w", err)
	}
	var qualified, filtered int
	for _, id := range ids {
		if store.Exists(paths.QualificationsFile(id)) {
			qualified++
		}
		if store.Exists(paths.EligibilityFile(id)) {
			filtered++
		}
	}
	fmt.Printf("Segmented:       %d\n", len(ids))
	fmt.Printf("Qualified:       %d\n", qualified)
	fmt.Printf("Filtered:        %d\n", filtered)

	if tracker, err := trackerStore().Load(); err == nil {
		s := tracker.Statistics
		fmt.Printf("Scene tracker:   %d episode(s), %d built, %d unbuilt, %d filtered\n",
			s.TotalEpisodes, s.BuiltCount, s.UnbuiltCount, s.FilteredCount)
	} else {
		fmt.Println("Scene tracker:   not built (run 'memflow scenes scan')")
	}

	scenes, err := sceneStore().List()
	if err != nil {
		return fmt.Errorf("list scenes: %w", err)
	}
	fmt.Printf("Scenes:          %d\n", len(scenes))

	snapshotPath := filepath.Join(cfg.KGDataRoot(), kg.SnapshotFileName)
	if snapshot, err := kg.LoadSnapshot(snapshotPath); err == nil {
		fmt.Printf("Graph snapshot:  %d entities, %d relations, %d scenes (%s)\n",
			snapshot.Metadata.TotalEntities, snapshot.Metadata.TotalRelations,
			snapshot.Metadata.TotalScenes, snapshot.Metadata.GeneratedAt)
	} else {
		fmt.Println("Graph snapshot:  not built (run 'memflow kg aggregate')")
	}

	metaPath := filepath.Join(cfg.VectorsRoot(), vector.MetaFileName)
	if records, err := vector.ReadMeta(metaPath); err == nil {
		fmt.Printf("Vector index:    %d scene(s)\n", len(records))
	} else {
		fmt.Println("Vector index:    not built (run 'memflow vectors build')")
	}

	return nil
}
