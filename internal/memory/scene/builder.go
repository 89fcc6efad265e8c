package scene

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/qzhou-ai/memflow/internal/llm"
	"github.com/qzhou-ai/memflow/internal/memory/dialogue"
	"github.com/qzhou-ai/memflow/internal/memory/episode"
	"github.com/qzhou-ai/memflow/internal/memory/store"
	"github.com/qzhou-ai/memflow/internal/prompt"
)

// Generator is the completion surface the scene builder needs.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// BuildResult summarizes a scene build run.
type BuildResult struct {
	Built   int
	Failed  int
	Skipped int
	Errors  []string
}

// Builder constructs scenes for unbuilt tracker rows.
type Builder struct {
	model    Generator
	prompts  *prompt.Library
	archive  *dialogue.Archive
	episodes episode.Paths
	scenes   *Store
	tracker  *TrackerStore

	OnProgress func(done, total int)
}

// NewBuilder creates the scene build stage.
func NewBuilder(model Generator, prompts *prompt.Library, archive *dialogue.Archive, episodes episode.Paths, scenes *Store, tracker *TrackerStore) *Builder {
	return &Builder{
		model:    model,
		prompts:  prompts,
		archive:  archive,
		episodes: episodes,
		scenes:   scenes,
		tracker:  tracker,
	}
}

// Scan rebuilds the tracker from ground truth and saves it with backup
// rotation.
func (b *Builder) Scan() (*Tracker, error) {
	tracker, err := Rebuild(b.episodes, b.scenes, b.archive)
	if err != nil {
		return nil, fmt.Errorf("rebuild tracker: %w", err)
	}
	if err := b.tracker.Save(tracker); err != nil {
		return nil, err
	}
	slog.Info("tracker rebuilt",
		"total", tracker.Statistics.TotalEpisodes,
		"filtered", tracker.Statistics.FilteredCount,
		"unbuilt", tracker.Statistics.UnbuiltCount,
		"built", tracker.Statistics.BuiltCount)
	return tracker, nil
}

// BuildAll builds a scene for every unbuilt, unfiltered tracker row. The
// tracker is rewritten after each successful build so a crash loses at
// most one row of progress.
func (b *Builder) BuildAll(ctx context.Context) (*BuildResult, error) {
	tracker, err := b.tracker.Load()
	if err != nil {
		return nil, fmt.Errorf("load tracker (run scan first): %w", err)
	}

	var pending []int
	for i, row := range tracker.Episodes {
		if !row.Filter && !row.SceneBuilt {
			pending = append(pending, i)
		}
	}

	result := &BuildResult{}
	for n, i := range pending {
		row := &tracker.Episodes[i]
		scene, err := b.buildOne(ctx, row)
		switch {
		case err != nil && errors.Is(err, llm.ErrFatalAPI):
			return result, err
		case err != nil:
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s/%s: %v", row.DialogueID, row.EpisodeID, err))
			slog.Warn("scene build failed", "dialogue", row.DialogueID, "episode", row.EpisodeID, "error", err)
		default:
			row.SceneBuilt = true
			row.SceneID = &scene.SceneID
			row.LastChecked = store.GeneratedAt()
			if err := b.tracker.Save(tracker); err != nil {
				return result, err
			}
			result.Built++
		}
		if b.OnProgress != nil {
			b.OnProgress(n+1, len(pending))
		}
	}
	return result, nil
}

// buildOne distills one episode into a persisted scene.
func (b *Builder) buildOne(ctx context.Context, row *TrackerRow) (*Scene, error) {
	d, err := b.archive.FindByID(row.DialogueID)
	if err != nil {
		return nil, err
	}
	set, err := b.episodes.LoadSet(row.DialogueID)
	if err != nil {
		return nil, err
	}

	var ep *episode.Episode
	for i := range set.Episodes {
		if set.Episodes[i].EpisodeID == row.EpisodeID {
			ep = &set.Episodes[i]
			break
		}
	}
	if ep == nil {
		return nil, fmt.Errorf("episode %s not in %s", row.EpisodeID, row.DialogueID)
	}

	talk := SpanText(d.TurnsInSpan(ep.TurnSpan))
	promptText := b.prompts.SceneBuild.Render(map[string]string{
		prompt.PlaceholderSceneTalk: talk,
	})
	response, err := b.model.Generate(ctx, promptText)
	if err != nil {
		return nil, fmt.Errorf("build scene: %w", err)
	}

	scene, err := parseScene(response)
	if err != nil {
		return nil, err
	}

	scene.Source = Source{Episodes: []SourceEpisode{{
		EpisodeID:  row.EpisodeID,
		DialogueID: row.DialogueID,
		UserID:     d.UserID,
		TurnSpan:   ep.TurnSpan,
	}}}
	scene.SceneVersion = prompt.SceneVersion

	sceneID, err := b.scenes.NextSceneID(d.UserID)
	if err != nil {
		return nil, err
	}
	scene.SceneID = sceneID

	if _, err := b.scenes.Save(scene); err != nil {
		return nil, err
	}
	slog.Info("scene built", "scene", sceneID, "user", d.UserID, "dialogue", row.DialogueID, "episode", row.EpisodeID)
	return scene, nil
}

// SpanText renders turns as "speaker: text" lines, sorted by turn id, with
// inner newlines flattened to spaces.
func SpanText(turns []dialogue.Turn) string {
	sorted := make([]dialogue.Turn, len(turns))
	copy(sorted, turns)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TurnID < sorted[j].TurnID })

	lines := make([]string, 0, len(sorted))
	for _, turn := range sorted {
		text := strings.Join(strings.Fields(turn.Text), " ")
		lines = append(lines, turn.Speaker+": "+text)
	}
	return strings.Join(lines, "\n")
}

// parseScene decodes the model's scene document. Parse failure is a hard
// per-episode failure; the row stays unbuilt.
func parseScene(response string) (*Scene, error) {
	block, err := llm.ExtractJSONObject(response)
	if err != nil {
		return nil, fmt.Errorf("scene response: %w", err)
	}
	var scene Scene
	if err := json.Unmarshal([]byte(block), &scene); err != nil {
		return nil, fmt.Errorf("parse scene: %w", err)
	}
	if scene.Diary == "" {
		return nil, fmt.Errorf("scene has no diary")
	}
	if scene.Tags == nil {
		scene.Tags = []string{}
	}
	return &scene, nil
}

// Delete removes one scene (or every scene of a user when sceneID is
// "all") and resets the matching tracker rows to unbuilt.
func (b *Builder) Delete(userID, sceneID string) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("scene deletion needs a user id")
	}
	var targets []string
	if sceneID == "all" {
		ids, err := b.scenes.ListUser(userID)
		if err != nil {
			return 0, err
		}
		targets = ids
	} else {
		targets = []string{sceneID}
	}

	removed := 0
	removedSet := make(map[string]bool, len(targets))
	for _, id := range targets {
		dir := b.scenes.SceneDir(userID, id)
		if !store.Exists(dir) {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			return removed, fmt.Errorf("remove scene %s: %w", id, err)
		}
		removedSet[id] = true
		removed++
	}
	if removed == 0 {
		return 0, nil
	}

	tracker, err := b.tracker.Load()
	if err != nil {
		// No tracker yet; nothing to reset.
		slog.Debug("scene delete: no tracker to update", "error", err)
		return removed, nil
	}
	for i := range tracker.Episodes {
		row := &tracker.Episodes[i]
		if row.SceneID != nil && removedSet[*row.SceneID] && row.UserID == userID {
			row.SceneBuilt = false
			row.SceneID = nil
			row.LastChecked = store.GeneratedAt()
		}
	}
	if err := b.tracker.Save(tracker); err != nil {
		return removed, err
	}
	return removed, nil
}
