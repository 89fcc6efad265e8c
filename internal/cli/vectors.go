package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qzhou-ai/memflow/internal/memory/vector"
)

var (
	vectorsOverwrite bool
	vectorsTopK      int
)

var vectorsCmd = &cobra.Command{
	Use:   "vectors",
	Short: "Build and query the scene vector index",
}

var vectorsBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Embed every scene and write the vector index",
	Long: `Embed all scenes and write index.faiss, embeddings.npy, and
meta.jsonl. An existing index is refused unless --overwrite is given.

Examples:
  memflow vectors build
  memflow vectors build --overwrite`,
	Args: cobra.NoArgs,
	RunE: runVectorsBuild,
}

var vectorsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find the scenes nearest to a query",
	Long: `Embed the query and return the top-k nearest scenes by L2 distance.

Examples:
  memflow vectors search "trip to kyoto"
  memflow vectors search "pottery class" --top-k 5`,
	Args: cobra.ExactArgs(1),
	RunE: runVectorsSearch,
}

func init() {
	vectorsBuildCmd.Flags().BoolVar(&vectorsOverwrite, "overwrite", false, "replace an existing index")
	vectorsSearchCmd.Flags().IntVarP(&vectorsTopK, "top-k", "k", 5, "number of results")

	vectorsCmd.AddCommand(vectorsBuildCmd)
	vectorsCmd.AddCommand(vectorsSearchCmd)
}

func newIndexer() (*vector.Indexer, error) {
	emb, err := getEmbedder()
	if err != nil {
		return nil, err
	}
	return vector.NewIndexer(emb, sceneStore(), cfg.VectorsRoot()), nil
}

func runVectorsBuild(cmd *cobra.Command, args []string) error {
	indexer, err := newIndexer()
	if err != nil {
		return err
	}

	var result *vector.BuildResult
	err = runWithProgress(cmd.Context(), "embedding", func(ctx context.Context, report func(int, int)) error {
		indexer.OnProgress = report
		var buildErr error
		result, buildErr = indexer.Build(ctx, vectorsOverwrite)
		return buildErr
	})
	if err != nil {
		return err
	}

	fmt.Printf("Indexed: %d  Dropped: %d\n", result.Indexed, result.Dropped)
	printErrors(result.Errors)
	return nil
}

func runVectorsSearch(cmd *cobra.Command, args []string) error {
	indexer, err := newIndexer()
	if err != nil {
		return err
	}

	hits, err := indexer.Search(cmd.Context(), args[0], vectorsTopK)
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		fmt.Println("No results.")
		return nil
	}

	for i, hit := range hits {
		fmt.Printf("%d. %s (user %s, distance %.4f)\n", i+1, hit.Record.SceneID, hit.Record.UserID, hit.Distance)
		if hit.Record.Intent != "" {
			fmt.Printf("   intent: %s\n", hit.Record.Intent)
		}
		fmt.Printf("   %s\n", hit.Record.ScenePath)
	}
	return nil
}
