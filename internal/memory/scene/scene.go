// Package scene turns eligible episodes into persisted scene memories and
// keeps the build tracker that drives the work queue.
package scene

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/qzhou-ai/memflow/internal/memory/store"
)

// SceneFileName is the versioned document name inside a scene directory.
const SceneFileName = "v1.0.json"

// sceneIDPrefix and sceneIDWidth define the scene_NNNNNN id format.
const (
	sceneIDPrefix = "scene_"
	sceneIDWidth  = 6
)

// SourceEpisode records where a scene came from.
type SourceEpisode struct {
	EpisodeID  string `json:"episode_id"`
	DialogueID string `json:"dialogue_id"`
	UserID     string `json:"user_id"`
	TurnSpan   [2]int `json:"turn_span"`
}

// Source is the provenance block of a scene.
type Source struct {
	Episodes []SourceEpisode `json:"episodes"`
}

// Content is the structured core of a scene.
type Content struct {
	Core    string `json:"core"`
	Context string `json:"context"`
	Outcome string `json:"outcome"`
	Notes   string `json:"notes"`
}

// Scene is one distilled memory.
type Scene struct {
	SceneID      string   `json:"scene_id"`
	SceneVersion string   `json:"scene_version"`
	Source       Source   `json:"source"`
	SceneType    string   `json:"scene_type"`
	ContentType  string   `json:"content_type"`
	Diary        string   `json:"diary"`
	Intent       string   `json:"intent"`
	Content      Content  `json:"content"`
	Tags         []string `json:"tags"`
	Confidence   float64  `json:"confidence"`
}

// UserID returns the owning user, taken from the first source episode.
func (s *Scene) UserID() string {
	if len(s.Source.Episodes) == 0 {
		return ""
	}
	return s.Source.Episodes[0].UserID
}

// Store is the on-disk scene layout rooted at the scenes directory:
// by_user/<user_id>/<scene_id>/v1.0.json.
type Store struct {
	root string
}

// NewStore creates a scene store.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Root returns the scenes root directory.
func (s *Store) Root() string { return s.root }

// ScenePath returns where a scene document lives.
func (s *Store) ScenePath(userID, sceneID string) string {
	return filepath.Join(s.root, "by_user", userID, sceneID, SceneFileName)
}

// SceneDir returns a scene's directory.
func (s *Store) SceneDir(userID, sceneID string) string {
	return filepath.Join(s.root, "by_user", userID, sceneID)
}

// Save persists a scene document.
func (s *Store) Save(scene *Scene) (string, error) {
	userID := scene.UserID()
	if userID == "" {
		return "", fmt.Errorf("scene %s has no source user", scene.SceneID)
	}
	path := s.ScenePath(userID, scene.SceneID)
	if err := store.WriteJSON(path, scene); err != nil {
		return "", fmt.Errorf("save scene %s: %w", scene.SceneID, err)
	}
	return path, nil
}

// Load reads one scene document.
func (s *Store) Load(path string) (*Scene, error) {
	var scene Scene
	if err := store.ReadJSON(path, &scene); err != nil {
		return nil, err
	}
	return &scene, nil
}

// List walks the store and returns every scene document path, sorted.
func (s *Store) List() ([]string, error) {
	base := filepath.Join(s.root, "by_user")
	if !store.Exists(base) {
		return nil, nil
	}
	var paths []string
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Base(path) == SceneFileName {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk scenes: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

// ListUser returns the scene ids a user owns, sorted.
func (s *Store) ListUser(userID string) ([]string, error) {
	userDir := filepath.Join(s.root, "by_user", userID)
	if !store.Exists(userDir) {
		return nil, nil
	}
	entries, err := filepath.Glob(filepath.Join(userDir, sceneIDPrefix+"*"))
	if err != nil {
		return nil, fmt.Errorf("list user scenes: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, filepath.Base(entry))
	}
	sort.Strings(ids)
	return ids, nil
}

// NextSceneID allocates the next id for a user: one past the highest
// numeric suffix already present, scene_000001 for a first scene. Ids stay
// monotonic even after deletions at the low end.
func (s *Store) NextSceneID(userID string) (string, error) {
	ids, err := s.ListUser(userID)
	if err != nil {
		return "", err
	}
	maxSuffix := 0
	for _, id := range ids {
		suffix, ok := parseSceneSuffix(id)
		if !ok {
			continue
		}
		if suffix > maxSuffix {
			maxSuffix = suffix
		}
	}
	return fmt.Sprintf("%s%0*d", sceneIDPrefix, sceneIDWidth, maxSuffix+1), nil
}

func parseSceneSuffix(sceneID string) (int, bool) {
	if !strings.HasPrefix(sceneID, sceneIDPrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(sceneID, sceneIDPrefix))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
