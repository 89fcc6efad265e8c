package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/qzhou-ai/memflow/internal/chat"
	"github.com/qzhou-ai/memflow/internal/memory/vector"
)

var (
	chatMemory      bool
	chatStore       bool
	chatObservation string
	chatTopK        int
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the assistant",
	Long: `Start an interactive conversation. With --memory each turn retrieves
relevant scenes from the vector index; with --store the transcript is
saved as a dialogue and picked up by the next pipeline scan.

Examples:
  memflow chat
  memflow chat --memory --store
  memflow chat --observation "alice just got back from kyoto"`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().BoolVar(&chatMemory, "memory", false, "retrieve scene memories each turn")
	chatCmd.Flags().BoolVar(&chatStore, "store", false, "store the transcript as a dialogue on exit")
	chatCmd.Flags().StringVar(&chatObservation, "observation", "", "context injected into the system prompt")
	chatCmd.Flags().IntVarP(&chatTopK, "top-k", "k", 0, "memories retrieved per turn")
}

func runChat(cmd *cobra.Command, args []string) error {
	m, err := getModel(cmd.Context())
	if err != nil {
		return err
	}

	var retriever chat.Retriever
	if chatMemory {
		emb, err := getEmbedder()
		if err != nil {
			return err
		}
		retriever = vector.NewIndexer(emb, sceneStore(), cfg.VectorsRoot())
	}

	session := chat.NewSession(m, retriever, sceneStore(), dialogueArchive(), prompts, cfg, chat.Options{
		Memory:      chatMemory,
		Store:       chatStore,
		Observation: chatObservation,
		TopK:        chatTopK,
	}, os.Stdin, os.Stdout)

	path, err := session.Run(cmd.Context())
	if err != nil {
		return err
	}
	if path != "" {
		fmt.Printf("Transcript stored: %s\n", path)
	}
	return nil
}
