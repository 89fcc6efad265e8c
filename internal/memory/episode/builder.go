package episode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/qzhou-ai/memflow/internal/llm"
	"github.com/qzhou-ai/memflow/internal/memory/dialogue"
	"github.com/qzhou-ai/memflow/internal/memory/store"
	"github.com/qzhou-ai/memflow/internal/prompt"
)

// Generator is the completion surface the episode stages need.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ScanResult summarizes a batch stage run.
type ScanResult struct {
	Processed int
	Skipped   int
	Failed    int
	Errors    []string
}

// Builder segments dialogues into episode sets.
type Builder struct {
	model   Generator
	prompts *prompt.Library
	archive *dialogue.Archive
	paths   Paths

	// OnProgress, when set, is called after each dialogue is handled.
	OnProgress func(done, total int)
}

// NewBuilder creates the segmentation stage.
func NewBuilder(model Generator, prompts *prompt.Library, archive *dialogue.Archive, paths Paths) *Builder {
	return &Builder{model: model, prompts: prompts, archive: archive, paths: paths}
}

// ScanAll segments every dialogue that has no episode file yet. Per-dialogue
// failures are collected; fatal API errors abort the batch.
func (b *Builder) ScanAll(ctx context.Context) (*ScanResult, error) {
	dialoguePaths, err := b.archive.List()
	if err != nil {
		return nil, err
	}

	result := &ScanResult{}
	total := len(dialoguePaths)
	for i, path := range dialoguePaths {
		built, err := b.BuildDialogue(ctx, path)
		switch {
		case err != nil && errors.Is(err, llm.ErrFatalAPI):
			return result, err
		case err != nil:
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", path, err))
			slog.Warn("episode build failed", "dialogue", path, "error", err)
		case built:
			result.Processed++
		default:
			result.Skipped++
		}
		if b.OnProgress != nil {
			b.OnProgress(i+1, total)
		}
	}
	return result, nil
}

// BuildDialogue segments one dialogue file. Returns false when the output
// already exists.
func (b *Builder) BuildDialogue(ctx context.Context, path string) (bool, error) {
	d, err := b.archive.Load(path)
	if err != nil {
		return false, err
	}
	if err := d.Validate(); err != nil {
		return false, err
	}

	outPath := b.paths.EpisodesFile(d.DialogueID)
	if store.Exists(outPath) {
		slog.Debug("episodes already built", "dialogue", d.DialogueID)
		return false, nil
	}

	inputJSON, err := json.Marshal(d)
	if err != nil {
		return false, fmt.Errorf("marshal dialogue: %w", err)
	}

	promptText := b.prompts.Segmentation.Render(map[string]string{
		prompt.PlaceholderInputJSON: string(inputJSON),
	})
	response, err := b.model.Generate(ctx, promptText)
	if err != nil {
		return false, fmt.Errorf("segment dialogue: %w", err)
	}

	episodes, err := parseSegmentation(response)
	if err != nil {
		return false, err
	}
	if err := validateSpans(episodes, len(d.Turns)); err != nil {
		return false, err
	}

	set := Set{
		DialogueID:     d.DialogueID,
		EpisodeVersion: prompt.EpisodeVersion,
		GeneratedAt:    store.GeneratedAt(),
		Episodes:       episodes,
	}
	if err := store.WriteJSON(outPath, set); err != nil {
		return false, err
	}

	slog.Info("episodes built", "dialogue", d.DialogueID, "episodes", len(episodes))
	return true, nil
}

// parseSegmentation extracts and decodes the model's episode list. A
// response with no parseable episode object is a hard per-dialogue failure.
func parseSegmentation(response string) ([]Episode, error) {
	block, err := llm.ExtractJSONObject(response)
	if err != nil {
		return nil, fmt.Errorf("segmentation response: %w", err)
	}

	var parsed struct {
		Episodes []Episode `json:"episodes"`
	}
	if err := json.Unmarshal([]byte(block), &parsed); err != nil {
		return nil, fmt.Errorf("parse segmentation: %w", err)
	}
	if len(parsed.Episodes) == 0 {
		return nil, fmt.Errorf("segmentation produced no episodes")
	}

	for i := range parsed.Episodes {
		if parsed.Episodes[i].EpisodeID == "" {
			parsed.Episodes[i].EpisodeID = fmt.Sprintf("ep_%03d", i+1)
		}
	}
	return parsed.Episodes, nil
}

// validateSpans checks that spans are ordered, non-overlapping, and inside
// the dialogue. Gaps are fine: a segmentation may leave filler turns
// unassigned.
func validateSpans(episodes []Episode, turnCount int) error {
	next := 0
	for _, ep := range episodes {
		lo, hi := ep.TurnSpan[0], ep.TurnSpan[1]
		if hi < lo {
			return fmt.Errorf("episode %s: inverted span [%d,%d]", ep.EpisodeID, lo, hi)
		}
		if lo < next {
			return fmt.Errorf("episode %s: span [%d,%d] overlaps the previous episode", ep.EpisodeID, lo, hi)
		}
		if hi > turnCount-1 {
			return fmt.Errorf("episode %s: span [%d,%d] exceeds last turn %d", ep.EpisodeID, lo, hi, turnCount-1)
		}
		next = hi + 1
	}
	return nil
}
