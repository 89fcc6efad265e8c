package server

import (
	"context"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/websocket"

	"github.com/qzhou-ai/memflow/internal/memory/kg"
)

// debounceWindow collapses the burst of filesystem events a single
// aggregation write produces into one update push.
const debounceWindow = 250 * time.Millisecond

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The viz frontend runs on a different origin during development.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsMessage is the envelope pushed to clients.
type wsMessage struct {
	Type     string       `json:"type"`
	Graph    *kg.Snapshot `json:"graph,omitempty"`
	Metadata *kg.Metadata `json:"metadata,omitempty"`
}

// hub tracks connected WebSocket clients.
type hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	logger  *slog.Logger
}

func newHub(logger *slog.Logger) *hub {
	return &hub{clients: make(map[*websocket.Conn]struct{}), logger: logger}
}

func (h *hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = struct{}{}
}

func (h *hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
	conn.Close()
}

// broadcast sends a message to every client, dropping the ones that fail.
func (h *hub) broadcast(msg wsMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteJSON(msg); err != nil {
			h.logger.Debug("websocket client dropped", "error", err)
			delete(h.clients, conn)
			conn.Close()
		}
	}
}

// handleWS upgrades the connection, sends the current snapshot, then keeps
// the client registered for update pushes.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	s.hub.add(conn)

	if snapshot, err := s.loadSnapshot(); err == nil {
		if err := conn.WriteJSON(wsMessage{Type: "snapshot", Graph: snapshot}); err != nil {
			s.hub.remove(conn)
			return
		}
	}

	// Drain reads so close frames are processed; the client never sends
	// application messages.
	go func() {
		defer s.hub.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// watch pushes a graph_update message whenever the data directory changes.
func (s *Server) watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(s.dataDir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		var timer *time.Timer
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if filepath.Base(event.Name) != kg.SnapshotFileName {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounceWindow, s.pushUpdate)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("graph watcher error", "error", err)
			}
		}
	}()
	return nil
}

func (s *Server) pushUpdate() {
	snapshot, err := s.loadSnapshot()
	if err != nil {
		s.logger.Warn("graph update skipped, snapshot unreadable", "error", err)
		return
	}
	s.logger.Info("graph changed, notifying clients",
		"entities", snapshot.Metadata.TotalEntities,
		"relations", snapshot.Metadata.TotalRelations)
	s.hub.broadcast(wsMessage{Type: "graph_update", Metadata: &snapshot.Metadata})
}
