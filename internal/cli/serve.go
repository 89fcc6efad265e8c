package cli

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/qzhou-ai/memflow/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the knowledge graph visualization backend",
	Long: `Serve the aggregated knowledge graph over HTTP. Connected WebSocket
clients are notified when the graph data changes on disk.

Examples:
  memflow serve
  memflow serve --addr :9000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	addr := serveAddr
	if addr == "" {
		addr = cfg.ServeAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(addr, cfg.KGDataRoot(), collector, slog.Default())
	return srv.Run(ctx)
}
