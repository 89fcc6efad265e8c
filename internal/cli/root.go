// Package cli provides the command-line interface for memflow.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/qzhou-ai/memflow/internal/config"
	"github.com/qzhou-ai/memflow/internal/llm"
	"github.com/qzhou-ai/memflow/internal/memory/dialogue"
	"github.com/qzhou-ai/memflow/internal/memory/episode"
	"github.com/qzhou-ai/memflow/internal/memory/scene"
	"github.com/qzhou-ai/memflow/internal/metrics"
	"github.com/qzhou-ai/memflow/internal/prompt"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global config, logger cleanup, and runtime metrics
	cfg       config.Config
	closeLog  func() error
	collector *metrics.Collector
	prompts   *prompt.Library

	// Lazy-initialized LLM components
	model    *llm.Model
	embedder *llm.Embedder
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "memflow",
	Short: "Conversational memory distillation pipeline",
	Long: `Memflow distills raw dialogues into durable memory for a personal
assistant: episodes, quality scores, scenes, a knowledge graph, and a
vector index, each stage persisted as plain JSON on disk.

Run the stages in order (episodes, qualify, filter, scenes, kg, vectors)
or talk to the assistant directly with 'memflow chat'.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()

		logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
		closeLog = cleanup
		slog.SetDefault(logger)

		collector = metrics.NewCollector()

		var err error
		prompts, err = prompt.Load(cfg.PromptFile)
		if err != nil {
			return fmt.Errorf("load prompts: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if closeLog != nil {
			if err := closeLog(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

// getModel initializes the chat/generation model on first use.
func getModel(ctx context.Context) (*llm.Model, error) {
	if model == nil {
		var err error
		model, err = llm.NewModel(ctx, cfg, collector)
		if err != nil {
			return nil, fmt.Errorf("init model: %w", err)
		}
	}
	return model, nil
}

// getEmbedder initializes the embedding client on first use.
func getEmbedder() (*llm.Embedder, error) {
	if embedder == nil {
		var err error
		embedder, err = llm.NewEmbedder(cfg, collector)
		if err != nil {
			return nil, fmt.Errorf("init embedder: %w", err)
		}
	}
	return embedder, nil
}

// Shared stage wiring. These are cheap to construct, so no caching.

func dialogueArchive() *dialogue.Archive {
	return dialogue.NewArchive(cfg.DialoguesRoot())
}

func episodePaths() episode.Paths {
	return episode.Paths{Root: cfg.EpisodesRoot()}
}

func sceneStore() *scene.Store {
	return scene.NewStore(cfg.ScenesRoot())
}

func trackerStore() *scene.TrackerStore {
	return scene.NewTrackerStore(cfg.ScenesRoot())
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(episodesCmd)
	rootCmd.AddCommand(qualifyCmd)
	rootCmd.AddCommand(filterCmd)
	rootCmd.AddCommand(scenesCmd)
	rootCmd.AddCommand(kgCmd)
	rootCmd.AddCommand(vectorsCmd)
	rootCmd.AddCommand(personCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statsCmd)
}

// printErrors lists per-item failures collected by a batch stage.
func printErrors(errs []string) {
	if len(errs) == 0 {
		return
	}
	fmt.Printf("\nErrors (%d):\n", len(errs))
	for _, e := range errs {
		fmt.Printf("  • %s\n", e)
	}
}
