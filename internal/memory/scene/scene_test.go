package scene

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qzhou-ai/memflow/internal/memory/dialogue"
)

func testScene(sceneID, userID, dialogueID, episodeID string) *Scene {
	return &Scene{
		SceneID:      sceneID,
		SceneVersion: "v1",
		Source: Source{Episodes: []SourceEpisode{{
			EpisodeID:  episodeID,
			DialogueID: dialogueID,
			UserID:     userID,
			TurnSpan:   [2]int{0, 2},
		}}},
		SceneType:   "experience",
		ContentType: "event",
		Diary:       "I booked the Kyoto trip today.",
		Intent:      "travel_planning",
		Content:     Content{Core: "booked trip"},
		Tags:        []string{"travel"},
		Confidence:  0.9,
	}
}

func TestStoreSaveLoadList(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "scenes"))

	scene := testScene("scene_000001", "alice", "dlg_a", "ep_001")
	path, err := s.Save(scene)
	require.NoError(t, err)
	assert.Equal(t, s.ScenePath("alice", "scene_000001"), path)

	loaded, err := s.Load(path)
	require.NoError(t, err)
	assert.Equal(t, scene, loaded)

	paths, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{path}, paths)
}

func TestStoreSaveWithoutSource(t *testing.T) {
	s := NewStore(t.TempDir())
	_, err := s.Save(&Scene{SceneID: "scene_000001"})
	assert.Error(t, err)
}

func TestNextSceneID(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "scenes"))

	id, err := s.NextSceneID("alice")
	require.NoError(t, err)
	assert.Equal(t, "scene_000001", id)

	_, err = s.Save(testScene("scene_000001", "alice", "dlg_a", "ep_001"))
	require.NoError(t, err)
	_, err = s.Save(testScene("scene_000007", "alice", "dlg_a", "ep_002"))
	require.NoError(t, err)

	// One past the max suffix, not the count.
	id, err = s.NextSceneID("alice")
	require.NoError(t, err)
	assert.Equal(t, "scene_000008", id)

	// Per-user counters are independent.
	id, err = s.NextSceneID("bob")
	require.NoError(t, err)
	assert.Equal(t, "scene_000001", id)
}

func TestNextSceneIDMonotonicAfterDeletion(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "scenes"))
	_, err := s.Save(testScene("scene_000001", "alice", "dlg_a", "ep_001"))
	require.NoError(t, err)
	_, err = s.Save(testScene("scene_000002", "alice", "dlg_a", "ep_002"))
	require.NoError(t, err)

	// Deleting the low id must not cause reuse of scene_000002's successor.
	require.NoError(t, os.RemoveAll(s.SceneDir("alice", "scene_000001")))

	id, err := s.NextSceneID("alice")
	require.NoError(t, err)
	assert.Equal(t, "scene_000003", id)
}

func TestSpanText(t *testing.T) {
	turns := []dialogue.Turn{
		{TurnID: 1, Speaker: "assistant", Text: "Nice,\nwhen do you leave?"},
		{TurnID: 0, Speaker: "alice", Text: "  I booked the trip  "},
	}
	got := SpanText(turns)
	assert.Equal(t, "alice: I booked the trip\nassistant: Nice, when do you leave?", got)
}

func TestParseScene(t *testing.T) {
	t.Run("valid with prose", func(t *testing.T) {
		resp := `Sure: {"scene_type":"experience","content_type":"event","diary":"I went.","intent":"travel","content":{"core":"went"},"confidence":0.8}`
		scene, err := parseScene(resp)
		require.NoError(t, err)
		assert.Equal(t, "I went.", scene.Diary)
		assert.NotNil(t, scene.Tags)
	})

	t.Run("missing diary", func(t *testing.T) {
		_, err := parseScene(`{"scene_type":"experience"}`)
		assert.Error(t, err)
	})

	t.Run("no json", func(t *testing.T) {
		_, err := parseScene("cannot help")
		assert.Error(t, err)
	})
}
