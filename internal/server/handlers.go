package server

import (
	"encoding/json"
	"net/http"

	"github.com/qzhou-ai/memflow/internal/memory/kg"
)

// writeJSON sends a JSON response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) withSnapshot(w http.ResponseWriter, fn func(*kg.Snapshot)) {
	snapshot, err := s.loadSnapshot()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "graph data not available, run the aggregation first")
		return
	}
	fn(snapshot)
}

func (s *Server) handleNodes(w http.ResponseWriter, _ *http.Request) {
	s.withSnapshot(w, func(snapshot *kg.Snapshot) {
		writeJSON(w, http.StatusOK, map[string]any{
			"nodes": snapshot.Entities,
			"total": len(snapshot.Entities),
		})
	})
}

func (s *Server) handleEdges(w http.ResponseWriter, _ *http.Request) {
	s.withSnapshot(w, func(snapshot *kg.Snapshot) {
		writeJSON(w, http.StatusOK, map[string]any{
			"edges": snapshot.Relations,
			"total": len(snapshot.Relations),
		})
	})
}

func (s *Server) handleScenes(w http.ResponseWriter, _ *http.Request) {
	s.withSnapshot(w, func(snapshot *kg.Snapshot) {
		writeJSON(w, http.StatusOK, map[string]any{
			"scenes": snapshot.Scenes,
			"total":  len(snapshot.Scenes),
		})
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.withSnapshot(w, func(snapshot *kg.Snapshot) {
		stats := map[string]any{
			"graph": snapshot.Metadata,
		}
		if s.collector != nil {
			stats["runtime"] = s.collector.Snapshot()
		}
		writeJSON(w, http.StatusOK, stats)
	})
}

func (s *Server) handleGraph(w http.ResponseWriter, _ *http.Request) {
	s.withSnapshot(w, func(snapshot *kg.Snapshot) {
		writeJSON(w, http.StatusOK, snapshot)
	})
}

// handleEntity returns one entity plus every relation that touches it.
func (s *Server) handleEntity(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.withSnapshot(w, func(snapshot *kg.Snapshot) {
		for _, entity := range snapshot.Entities {
			if entity.ID != id {
				continue
			}
			var relations []kg.ProvenancedRelation
			for _, rel := range snapshot.Relations {
				if rel.Subject == id || rel.Object == id {
					relations = append(relations, rel)
				}
			}
			if relations == nil {
				relations = []kg.ProvenancedRelation{}
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"entity":    entity,
				"relations": relations,
			})
			return
		}
		writeError(w, http.StatusNotFound, "entity not found: "+id)
	})
}
