package dialogue

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/qzhou-ai/memflow/internal/memory/store"
)

// Archive is the on-disk dialogue store rooted at
// <data>/dialogues/by_user/<user_id>/<YYYY-MM>/<dialogue_id>.json.
type Archive struct {
	root string
}

// NewArchive creates an archive rooted at the dialogues directory.
func NewArchive(root string) *Archive {
	return &Archive{root: root}
}

// Path returns where a dialogue lives, bucketed by the month of its start
// time. An unparseable start time buckets under the current month.
func (a *Archive) Path(d *Dialogue) string {
	start, err := time.Parse(store.TimeLayout, d.Meta.StartTime)
	if err != nil {
		start = time.Now()
	}
	month := start.Format("2006-01")
	return filepath.Join(a.root, "by_user", d.UserID, month, d.DialogueID+".json")
}

// Save validates and persists a dialogue.
func (a *Archive) Save(d *Dialogue) (string, error) {
	if err := d.Validate(); err != nil {
		return "", fmt.Errorf("validate dialogue: %w", err)
	}
	path := a.Path(d)
	if err := store.WriteJSON(path, d); err != nil {
		return "", fmt.Errorf("save dialogue %s: %w", d.DialogueID, err)
	}
	return path, nil
}

// Load reads one dialogue file.
func (a *Archive) Load(path string) (*Dialogue, error) {
	var d Dialogue
	if err := store.ReadJSON(path, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// FindByID locates and loads a dialogue by its id.
func (a *Archive) FindByID(dialogueID string) (*Dialogue, error) {
	paths, err := a.List()
	if err != nil {
		return nil, err
	}
	want := dialogueID + ".json"
	for _, path := range paths {
		if filepath.Base(path) == want {
			return a.Load(path)
		}
	}
	return nil, fmt.Errorf("dialogue %s not found", dialogueID)
}

// List walks the archive and returns every dialogue file path, sorted for
// deterministic scan order.
func (a *Archive) List() ([]string, error) {
	if !store.Exists(a.root) {
		return nil, nil
	}
	var paths []string
	err := filepath.WalkDir(a.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".json") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk dialogues: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}
