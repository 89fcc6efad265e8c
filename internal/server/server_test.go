package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qzhou-ai/memflow/internal/memory/kg"
	"github.com/qzhou-ai/memflow/internal/memory/store"
	"github.com/qzhou-ai/memflow/internal/metrics"
)

func testSnapshot() *kg.Snapshot {
	return &kg.Snapshot{
		Metadata: kg.Metadata{
			GeneratedAt:    "2026-03-14 09:30:00",
			TotalScenes:    1,
			TotalEntities:  2,
			TotalRelations: 1,
		},
		Entities: []kg.MergedEntity{
			{ID: "alice", Type: "person", Confidence: 0.9, Scenes: []string{"scene_000001"}},
			{ID: "kyoto", Type: "location", Confidence: 0.8, Scenes: []string{"scene_000001"}},
		},
		Relations: []kg.ProvenancedRelation{
			{Subject: "alice", Relation: "traveled_to", Object: "kyoto", Confidence: 0.85, SceneID: "scene_000001"},
		},
		Scenes: []kg.SceneRef{
			{SceneID: "scene_000001", UserID: "alice", GeneratedAt: "2026-03-14 09:00:00", PromptVersion: "kg_strong_filter_v1"},
		},
	}
}

func newTestServer(t *testing.T, snapshot *kg.Snapshot) *Server {
	t.Helper()
	dataDir := t.TempDir()
	if snapshot != nil {
		require.NoError(t, store.WriteJSON(filepath.Join(dataDir, kg.SnapshotFileName), snapshot))
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New("127.0.0.1:0", dataDir, metrics.NewCollector(), logger)
}

func get(t *testing.T, handler http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestHandleNodes(t *testing.T) {
	handler := newTestServer(t, testSnapshot()).Handler()

	rec, body := get(t, handler, "/api/nodes")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["total"])
	assert.Len(t, body["nodes"], 2)
}

func TestHandleEdges(t *testing.T) {
	handler := newTestServer(t, testSnapshot()).Handler()

	rec, body := get(t, handler, "/api/edges")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["total"])
}

func TestHandleScenes(t *testing.T) {
	handler := newTestServer(t, testSnapshot()).Handler()

	rec, body := get(t, handler, "/api/scenes")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["total"])
}

func TestHandleStats(t *testing.T) {
	handler := newTestServer(t, testSnapshot()).Handler()

	rec, body := get(t, handler, "/api/stats")
	assert.Equal(t, http.StatusOK, rec.Code)

	graph, ok := body["graph"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), graph["total_entities"])
	assert.Contains(t, body, "runtime")
}

func TestHandleGraph(t *testing.T) {
	handler := newTestServer(t, testSnapshot()).Handler()

	rec, body := get(t, handler, "/api/graph")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "metadata")
	assert.Contains(t, body, "entities")
	assert.Contains(t, body, "relations")
}

func TestHandleEntity(t *testing.T) {
	handler := newTestServer(t, testSnapshot()).Handler()

	rec, body := get(t, handler, "/api/entity/alice")
	assert.Equal(t, http.StatusOK, rec.Code)

	entity, ok := body["entity"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "alice", entity["id"])
	assert.Len(t, body["relations"], 1)
}

func TestHandleEntityNotFound(t *testing.T) {
	handler := newTestServer(t, testSnapshot()).Handler()

	rec, body := get(t, handler, "/api/entity/nobody")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, body["error"], "nobody")
}

func TestMissingSnapshotReturns503(t *testing.T) {
	handler := newTestServer(t, nil).Handler()

	for _, path := range []string{"/api/nodes", "/api/edges", "/api/scenes", "/api/stats", "/api/graph", "/api/entity/alice"} {
		rec, body := get(t, handler, path)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
		assert.Contains(t, body["error"], "aggregation", path)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	handler := newTestServer(t, testSnapshot()).Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/nodes", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "exactly10!", truncate("exactly10!", 10))
	assert.Equal(t, "long st...", truncate("long string here", 10))
	assert.Equal(t, "ab", truncate("abcdef", 2))
}
