package scene

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qzhou-ai/memflow/internal/memory/dialogue"
	"github.com/qzhou-ai/memflow/internal/memory/episode"
	"github.com/qzhou-ai/memflow/internal/memory/store"
	"github.com/qzhou-ai/memflow/internal/prompt"
)

type fixture struct {
	archive  *dialogue.Archive
	episodes episode.Paths
	scenes   *Store
	tracker  *TrackerStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	scenesRoot := filepath.Join(root, "scenes")
	return &fixture{
		archive:  dialogue.NewArchive(filepath.Join(root, "dialogues")),
		episodes: episode.Paths{Root: filepath.Join(root, "episodes")},
		scenes:   NewStore(scenesRoot),
		tracker:  NewTrackerStore(scenesRoot),
	}
}

// seedDialogue writes a dialogue plus its episode and eligibility files.
func (f *fixture) seedDialogue(t *testing.T, dialogueID, userID string, eligible map[string]bool) {
	t.Helper()
	d := &dialogue.Dialogue{
		DialogueID: dialogueID,
		UserID:     userID,
		Meta:       dialogue.Meta{StartTime: "2026-03-14 09:30:00"},
		Turns: []dialogue.Turn{
			{TurnID: 0, Speaker: userID, Text: "I started pottery classes"},
			{TurnID: 1, Speaker: "assistant", Text: "How was the first one?"},
			{TurnID: 2, Speaker: userID, Text: "Messy but great, going weekly now"},
		},
	}
	_, err := f.archive.Save(d)
	require.NoError(t, err)

	var eps []episode.Episode
	var results []episode.EligibilityResult
	i := 0
	for _, epID := range sortedKeys(eligible) {
		eps = append(eps, episode.Episode{
			EpisodeID:       epID,
			TurnSpan:        [2]int{0, 2},
			IntentType:      "planning",
			InteractionMode: "discussion",
			Topic:           fmt.Sprintf("topic %d", i),
		})
		results = append(results, episode.EligibilityResult{
			EpisodeID: epID,
			Eligible:  eligible[epID],
			RuleHits:  []string{},
		})
		i++
	}
	require.NoError(t, store.WriteJSON(f.episodes.EpisodesFile(dialogueID), episode.Set{
		DialogueID:     dialogueID,
		EpisodeVersion: prompt.EpisodeVersion,
		Episodes:       eps,
	}))
	require.NoError(t, store.WriteJSON(f.episodes.EligibilityFile(dialogueID), episode.EligibilitySet{
		DialogueID:         dialogueID,
		EligibilityVersion: prompt.EligibilityVersion,
		Results:            results,
	}))
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			if keys[j] < keys[i] {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}
	return keys
}

func TestRebuild(t *testing.T) {
	f := newFixture(t)
	f.seedDialogue(t, "dlg_b", "alice", map[string]bool{"ep_001": true, "ep_002": false})
	f.seedDialogue(t, "dlg_a", "alice", map[string]bool{"ep_001": true})

	// One scene already built from dlg_a/ep_001.
	_, err := f.scenes.Save(testScene("scene_000001", "alice", "dlg_a", "ep_001"))
	require.NoError(t, err)

	tracker, err := Rebuild(f.episodes, f.scenes, f.archive)
	require.NoError(t, err)

	require.Len(t, tracker.Episodes, 3)
	// Sorted by (dialogue_id, episode_id).
	assert.Equal(t, "dlg_a", tracker.Episodes[0].DialogueID)
	assert.Equal(t, "ep_001", tracker.Episodes[0].EpisodeID)
	assert.True(t, tracker.Episodes[0].SceneBuilt)
	require.NotNil(t, tracker.Episodes[0].SceneID)
	assert.Equal(t, "scene_000001", *tracker.Episodes[0].SceneID)

	assert.Equal(t, "dlg_b", tracker.Episodes[1].DialogueID)
	assert.False(t, tracker.Episodes[1].SceneBuilt)
	assert.Nil(t, tracker.Episodes[1].SceneID)
	assert.False(t, tracker.Episodes[1].Filter)

	assert.Equal(t, "ep_002", tracker.Episodes[2].EpisodeID)
	assert.True(t, tracker.Episodes[2].Filter)

	stats := tracker.Statistics
	assert.Equal(t, 3, stats.TotalEpisodes)
	assert.Equal(t, 1, stats.FilteredCount)
	assert.Equal(t, 1, stats.UnbuiltCount)
	assert.Equal(t, 1, stats.BuiltCount)
}

func TestTrackerSaveRotatesBackup(t *testing.T) {
	f := newFixture(t)

	first := &Tracker{TrackerVersion: prompt.TrackerVersion}
	require.NoError(t, f.tracker.Save(first))
	assert.True(t, store.Exists(f.tracker.Path()))
	assert.False(t, store.Exists(f.tracker.BackupPath()))

	second := &Tracker{
		TrackerVersion: prompt.TrackerVersion,
		Episodes:       []TrackerRow{{DialogueID: "dlg_a", EpisodeID: "ep_001", UserID: "alice"}},
	}
	require.NoError(t, f.tracker.Save(second))
	assert.True(t, store.Exists(f.tracker.BackupPath()))

	// The backup holds the previous generation.
	var backup Tracker
	require.NoError(t, store.ReadJSON(f.tracker.BackupPath(), &backup))
	assert.Empty(t, backup.Episodes)

	loaded, err := f.tracker.Load()
	require.NoError(t, err)
	require.Len(t, loaded.Episodes, 1)
	assert.Equal(t, 1, loaded.Statistics.TotalEpisodes)
}

const sceneResponse = `{"scene_type":"experience","content_type":"event","diary":"I started pottery and committed to weekly classes.","intent":"hobby_start","content":{"core":"started pottery","context":"first class","outcome":"going weekly","notes":""},"tags":["pottery","hobby"],"confidence":0.85}`

func TestBuilderScanBuildDelete(t *testing.T) {
	f := newFixture(t)
	f.seedDialogue(t, "dlg_a", "alice", map[string]bool{"ep_001": true, "ep_002": false})

	prompts, err := prompt.Load("")
	require.NoError(t, err)
	model := &fakeModel{response: sceneResponse}
	b := NewBuilder(model, prompts, f.archive, f.episodes, f.scenes, f.tracker)

	tracker, err := b.Scan()
	require.NoError(t, err)
	assert.Equal(t, 1, tracker.Statistics.UnbuiltCount)

	result, err := b.BuildAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Built)
	assert.Zero(t, result.Failed)

	// Scene persisted with provenance and allocated id.
	path := f.scenes.ScenePath("alice", "scene_000001")
	scene, err := f.scenes.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "scene_000001", scene.SceneID)
	assert.Equal(t, "v1", scene.SceneVersion)
	require.Len(t, scene.Source.Episodes, 1)
	assert.Equal(t, "dlg_a", scene.Source.Episodes[0].DialogueID)

	// Tracker row flipped to built.
	loaded, err := f.tracker.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Statistics.BuiltCount)
	assert.Equal(t, 0, loaded.Statistics.UnbuiltCount)

	// Building again is a no-op.
	result, err = b.BuildAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Built)

	// Delete rolls the row back to unbuilt.
	removed, err := b.Delete("alice", "scene_000001")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.False(t, store.Exists(path))

	loaded, err = f.tracker.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Statistics.UnbuiltCount)
	assert.Equal(t, 0, loaded.Statistics.BuiltCount)
}

func TestBuilderDeleteAll(t *testing.T) {
	f := newFixture(t)
	_, err := f.scenes.Save(testScene("scene_000001", "alice", "dlg_a", "ep_001"))
	require.NoError(t, err)
	_, err = f.scenes.Save(testScene("scene_000002", "alice", "dlg_a", "ep_002"))
	require.NoError(t, err)

	prompts, err := prompt.Load("")
	require.NoError(t, err)
	b := NewBuilder(&fakeModel{}, prompts, f.archive, f.episodes, f.scenes, f.tracker)

	removed, err := b.Delete("alice", "all")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	ids, err := f.scenes.ListUser("alice")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestBuilderDeleteNeedsUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.scenes.Save(testScene("scene_000001", "alice", "dlg_a", "ep_001"))
	require.NoError(t, err)

	prompts, err := prompt.Load("")
	require.NoError(t, err)
	b := NewBuilder(&fakeModel{}, prompts, f.archive, f.episodes, f.scenes, f.tracker)

	_, err = b.Delete("", "all")
	require.Error(t, err)

	// The scene is untouched.
	ids, err := f.scenes.ListUser("alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"scene_000001"}, ids)
}

func TestBuildAllWithoutTracker(t *testing.T) {
	f := newFixture(t)
	prompts, err := prompt.Load("")
	require.NoError(t, err)
	b := NewBuilder(&fakeModel{}, prompts, f.archive, f.episodes, f.scenes, f.tracker)

	_, err = b.BuildAll(context.Background())
	assert.Error(t, err)
}

// fakeModel returns one canned response for every call.
type fakeModel struct {
	response string
	err      error
	calls    int
}

func (f *fakeModel) Generate(_ context.Context, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if f.response == "" {
		return "", fmt.Errorf("no canned response")
	}
	return f.response, nil
}
