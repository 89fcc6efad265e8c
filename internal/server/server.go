// Package server exposes the aggregated knowledge graph over HTTP: REST
// endpoints for nodes, edges, scenes, and stats, plus a WebSocket that
// pushes updates when the graph data changes on disk.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/qzhou-ai/memflow/internal/memory/kg"
	"github.com/qzhou-ai/memflow/internal/metrics"
)

// Server serves the visualization backend.
type Server struct {
	addr      string
	dataDir   string
	logger    *slog.Logger
	collector *metrics.Collector
	hub       *hub
}

// New creates a server reading kg_data.json from dataDir.
func New(addr, dataDir string, collector *metrics.Collector, logger *slog.Logger) *Server {
	return &Server{
		addr:      addr,
		dataDir:   dataDir,
		logger:    logger,
		collector: collector,
		hub:       newHub(logger),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/nodes", s.handleNodes)
	mux.HandleFunc("GET /api/edges", s.handleEdges)
	mux.HandleFunc("GET /api/scenes", s.handleScenes)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/graph", s.handleGraph)
	mux.HandleFunc("GET /api/entity/{id}", s.handleEntity)
	mux.HandleFunc("/ws", s.handleWS)
	return LoggingMiddleware(s.logger)(mux)
}

// Run serves until the context is canceled. The directory watcher feeds
// the WebSocket hub for the lifetime of the server.
func (s *Server) Run(ctx context.Context) error {
	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	if err := s.watch(watchCtx); err != nil {
		// The server is still useful without live updates.
		s.logger.Warn("graph watcher unavailable", "error", err)
	}

	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("visualization server listening", "addr", s.addr, "data_dir", s.dataDir)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// loadSnapshot reads the current graph document. Requests always see the
// latest aggregation because the file is reloaded per call.
func (s *Server) loadSnapshot() (*kg.Snapshot, error) {
	return kg.LoadSnapshot(s.snapshotPath())
}

func (s *Server) snapshotPath() string {
	return filepath.Join(s.dataDir, kg.SnapshotFileName)
}
