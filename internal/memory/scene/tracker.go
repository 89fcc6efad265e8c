package scene

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/qzhou-ai/memflow/internal/memory/dialogue"
	"github.com/qzhou-ai/memflow/internal/memory/episode"
	"github.com/qzhou-ai/memflow/internal/memory/store"
	"github.com/qzhou-ai/memflow/internal/prompt"
)

// TrackerFileName is the tracker document under the scenes root.
const TrackerFileName = "unbuilt_scenes_tracker.json"

// TrackerRow is one episode's build state.
type TrackerRow struct {
	DialogueID  string  `json:"dialogue_id"`
	EpisodeID   string  `json:"episode_id"`
	UserID      string  `json:"user_id"`
	Filter      bool    `json:"filter"`
	SceneBuilt  bool    `json:"scene_built"`
	SceneID     *string `json:"scene_id"`
	LastChecked string  `json:"last_checked"`
}

// Statistics summarizes a tracker.
type Statistics struct {
	TotalEpisodes int `json:"total_episodes"`
	FilteredCount int `json:"filtered_count"`
	UnbuiltCount  int `json:"unbuilt_count"`
	BuiltCount    int `json:"built_count"`
}

// Tracker is the scene build work queue, rebuilt from ground truth on
// every scan.
type Tracker struct {
	TrackerVersion string       `json:"tracker_version"`
	GeneratedAt    string       `json:"generated_at"`
	Episodes       []TrackerRow `json:"episodes"`
	Statistics     Statistics   `json:"statistics"`
}

// computeStatistics recounts the summary block from the rows.
func (t *Tracker) computeStatistics() {
	stats := Statistics{TotalEpisodes: len(t.Episodes)}
	for _, row := range t.Episodes {
		switch {
		case row.Filter:
			stats.FilteredCount++
		case row.SceneBuilt:
			stats.BuiltCount++
		default:
			stats.UnbuiltCount++
		}
	}
	t.Statistics = stats
}

// TrackerStore reads and writes the tracker with backup rotation.
type TrackerStore struct {
	scenesRoot string
}

// NewTrackerStore creates a tracker store under the scenes root.
func NewTrackerStore(scenesRoot string) *TrackerStore {
	return &TrackerStore{scenesRoot: scenesRoot}
}

// Path returns the tracker file location.
func (ts *TrackerStore) Path() string {
	return filepath.Join(ts.scenesRoot, TrackerFileName)
}

// BackupPath returns the rotated backup location.
func (ts *TrackerStore) BackupPath() string {
	return ts.Path() + ".backup"
}

// Load reads the current tracker.
func (ts *TrackerStore) Load() (*Tracker, error) {
	var t Tracker
	if err := store.ReadJSON(ts.Path(), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Save writes the tracker, first rotating any existing file to .backup.
// The rotation keeps exactly one prior generation.
func (ts *TrackerStore) Save(t *Tracker) error {
	t.computeStatistics()
	t.GeneratedAt = store.GeneratedAt()

	path := ts.Path()
	if store.Exists(path) {
		backup := ts.BackupPath()
		if store.Exists(backup) {
			if err := os.Remove(backup); err != nil {
				return fmt.Errorf("remove old tracker backup: %w", err)
			}
		}
		if err := os.Rename(path, backup); err != nil {
			return fmt.Errorf("rotate tracker backup: %w", err)
		}
	}

	if err := store.WriteJSON(path, t); err != nil {
		return fmt.Errorf("write tracker: %w", err)
	}
	return nil
}

// episodeKey identifies an episode across dialogues.
type episodeKey struct {
	dialogueID string
	episodeID  string
}

// Rebuild reconstructs the tracker from ground truth: the eligibility
// files decide what exists and what is filtered, the scene store decides
// what is already built. Scenes are indexed once up front so the rebuild
// reads each file a single time.
func Rebuild(paths episode.Paths, scenes *Store, archive *dialogue.Archive) (*Tracker, error) {
	builtIndex, err := builtSceneIndex(scenes)
	if err != nil {
		return nil, err
	}

	ids, err := paths.ListDialogueIDs()
	if err != nil {
		return nil, err
	}

	tracker := &Tracker{TrackerVersion: prompt.TrackerVersion}
	now := store.GeneratedAt()

	for _, dialogueID := range ids {
		if !store.Exists(paths.EligibilityFile(dialogueID)) {
			continue
		}
		elig, err := paths.LoadEligibility(dialogueID)
		if err != nil {
			return nil, err
		}

		userID := ""
		if d, err := archive.FindByID(dialogueID); err == nil {
			userID = d.UserID
		} else {
			slog.Warn("tracker rebuild: dialogue missing from archive", "dialogue", dialogueID, "error", err)
		}

		for _, result := range elig.Results {
			row := TrackerRow{
				DialogueID:  dialogueID,
				EpisodeID:   result.EpisodeID,
				UserID:      userID,
				Filter:      !result.Eligible,
				LastChecked: now,
			}
			if sceneID, ok := builtIndex[episodeKey{dialogueID, result.EpisodeID}]; ok {
				row.SceneBuilt = true
				row.SceneID = &sceneID
			}
			tracker.Episodes = append(tracker.Episodes, row)
		}
	}

	sort.Slice(tracker.Episodes, func(i, j int) bool {
		a, b := tracker.Episodes[i], tracker.Episodes[j]
		if a.DialogueID != b.DialogueID {
			return a.DialogueID < b.DialogueID
		}
		return a.EpisodeID < b.EpisodeID
	})
	tracker.computeStatistics()
	return tracker, nil
}

// builtSceneIndex maps source episodes to the scene built from them.
func builtSceneIndex(scenes *Store) (map[episodeKey]string, error) {
	paths, err := scenes.List()
	if err != nil {
		return nil, err
	}
	index := make(map[episodeKey]string)
	for _, path := range paths {
		scene, err := scenes.Load(path)
		if err != nil {
			slog.Warn("tracker rebuild: unreadable scene skipped", "path", path, "error", err)
			continue
		}
		for _, src := range scene.Source.Episodes {
			index[episodeKey{src.DialogueID, src.EpisodeID}] = scene.SceneID
		}
	}
	return index, nil
}
