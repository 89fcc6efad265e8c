package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/qzhou-ai/memflow/internal/memory/scene"
)

var scenesDeleteForce bool

var scenesCmd = &cobra.Command{
	Use:   "scenes",
	Short: "Build memory scenes from eligible episodes",
}

var scenesScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Rebuild the scene tracker from the pipeline state on disk",
	Long: `Walk the eligibility results and existing scenes and rebuild the
unbuilt-scenes tracker. The previous tracker is kept as a .backup file.

Examples:
  memflow scenes scan`,
	Args: cobra.NoArgs,
	RunE: runScenesScan,
}

var scenesBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build a scene for every unbuilt tracker row",
	Long: `Generate scenes for the tracker rows that are eligible and not yet
built. The tracker is saved after every scene, so an interrupted build
resumes where it stopped.

Examples:
  memflow scenes scan
  memflow scenes build`,
	Args: cobra.NoArgs,
	RunE: runScenesBuild,
}

var scenesDeleteCmd = &cobra.Command{
	Use:   "delete <user:scene_id|user:all>",
	Short: "Delete scenes and mark them unbuilt in the tracker",
	Long: `Delete one scene, or every scene of one user with '<user>:all'.
Deleted scenes go back to unbuilt in the tracker, so the next build
regenerates them.

Examples:
  memflow scenes delete alice:scene_000003
  memflow scenes delete alice:all --force`,
	Args: cobra.ExactArgs(1),
	RunE: runScenesDelete,
}

func init() {
	scenesDeleteCmd.Flags().BoolVarP(&scenesDeleteForce, "force", "f", false, "skip confirmation")

	scenesCmd.AddCommand(scenesScanCmd)
	scenesCmd.AddCommand(scenesBuildCmd)
	scenesCmd.AddCommand(scenesDeleteCmd)
}

func newSceneBuilder(cmd *cobra.Command) (*scene.Builder, error) {
	m, err := getModel(cmd.Context())
	if err != nil {
		return nil, err
	}
	return scene.NewBuilder(m, prompts, dialogueArchive(), episodePaths(), sceneStore(), trackerStore()), nil
}

func runScenesScan(cmd *cobra.Command, args []string) error {
	builder, err := newSceneBuilder(cmd)
	if err != nil {
		return err
	}

	tracker, err := builder.Scan()
	if err != nil {
		return err
	}

	s := tracker.Statistics
	fmt.Printf("Tracker rebuilt: %d episode(s)\n", s.TotalEpisodes)
	fmt.Printf("  Built:    %d\n", s.BuiltCount)
	fmt.Printf("  Unbuilt:  %d\n", s.UnbuiltCount)
	fmt.Printf("  Filtered: %d\n", s.FilteredCount)
	return nil
}

func runScenesBuild(cmd *cobra.Command, args []string) error {
	builder, err := newSceneBuilder(cmd)
	if err != nil {
		return err
	}

	var result *scene.BuildResult
	err = runWithProgress(cmd.Context(), "building scenes", func(ctx context.Context, report func(int, int)) error {
		builder.OnProgress = report
		var buildErr error
		result, buildErr = builder.BuildAll(ctx)
		return buildErr
	})
	if err != nil {
		return err
	}

	fmt.Printf("Built: %d  Skipped: %d  Failed: %d\n", result.Built, result.Skipped, result.Failed)
	printErrors(result.Errors)
	return nil
}

func runScenesDelete(cmd *cobra.Command, args []string) error {
	target := args[0]

	parts := strings.SplitN(target, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("invalid target %q (expected user:scene_id or user:all)", target)
	}
	userID, sceneID := parts[0], parts[1]

	if !scenesDeleteForce {
		fmt.Printf("About to delete: %s\n", target)
		fmt.Print("\nContinue? [y/N]: ")

		reader := bufio.NewReader(os.Stdin)
		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	// Deletion never generates anything, so the model stays uninitialized.
	builder := scene.NewBuilder(nil, prompts, dialogueArchive(), episodePaths(), sceneStore(), trackerStore())
	deleted, err := builder.Delete(userID, sceneID)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d scene(s)\n", deleted)
	return nil
}
