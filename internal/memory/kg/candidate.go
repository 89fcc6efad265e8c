// Package kg extracts knowledge-graph candidates from scenes and merges
// them into the aggregated snapshot.
package kg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/qzhou-ai/memflow/internal/llm"
	"github.com/qzhou-ai/memflow/internal/memory/scene"
	"github.com/qzhou-ai/memflow/internal/memory/store"
	"github.com/qzhou-ai/memflow/internal/prompt"
)

// CandidateSuffix is the per-scene candidate file suffix.
const CandidateSuffix = ".kg_candidate.json"

// Entity is one extracted graph node.
type Entity struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// Relation is one extracted graph edge.
type Relation struct {
	Subject    string  `json:"subject"`
	Relation   string  `json:"relation"`
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence"`
}

// Facts holds everything extracted from one scene.
type Facts struct {
	Entities   []Entity   `json:"entities"`
	Relations  []Relation `json:"relations"`
	Attributes []any      `json:"attributes"`
}

// Candidate is the per-scene extraction result.
type Candidate struct {
	SceneID       string `json:"scene_id"`
	UserID        string `json:"user_id"`
	GeneratedAt   string `json:"generated_at"`
	PromptVersion string `json:"prompt_version"`
	Facts         Facts  `json:"facts"`
}

// Generator is the completion surface the extractor needs.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Extractor runs the strict-extraction prompt over scenes.
type Extractor struct {
	model   Generator
	prompts *prompt.Library
	scenes  *scene.Store
	root    string

	OnProgress func(done, total int)
}

// NewExtractor creates the candidate extraction stage rooted at the
// kg_candidates directory.
func NewExtractor(model Generator, prompts *prompt.Library, scenes *scene.Store, root string) *Extractor {
	return &Extractor{model: model, prompts: prompts, scenes: scenes, root: root}
}

// StrongDir returns the strong-filter candidate directory.
func (e *Extractor) StrongDir() string {
	return filepath.Join(e.root, "strong")
}

// CandidatePath returns where a scene's candidate lives.
func (e *Extractor) CandidatePath(sceneID string) string {
	return filepath.Join(e.StrongDir(), sceneID+CandidateSuffix)
}

// ScanResult summarizes an extraction run.
type ScanResult struct {
	Processed int
	Skipped   int
	Failed    int
	Degraded  int
	Errors    []string
}

// ScanAll extracts candidates for every scene that has none yet.
func (e *Extractor) ScanAll(ctx context.Context) (*ScanResult, error) {
	paths, err := e.scenes.List()
	if err != nil {
		return nil, err
	}

	result := &ScanResult{}
	total := len(paths)
	for i, path := range paths {
		outcome, err := e.ExtractScene(ctx, path)
		switch {
		case err != nil && errors.Is(err, llm.ErrFatalAPI):
			return result, err
		case err != nil:
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", path, err))
			slog.Warn("kg extraction failed", "scene", path, "error", err)
		case outcome == extractSkipped:
			result.Skipped++
		case outcome == extractDegraded:
			result.Degraded++
			result.Processed++
		default:
			result.Processed++
		}
		if e.OnProgress != nil {
			e.OnProgress(i+1, total)
		}
	}
	return result, nil
}

type extractOutcome int

const (
	extracted extractOutcome = iota
	extractSkipped
	extractDegraded
)

// ExtractScene runs extraction for one scene document. An unparseable
// response still persists an empty-facts candidate so the scene is not
// retried forever; only I/O and fatal API errors fail the scene.
func (e *Extractor) ExtractScene(ctx context.Context, scenePath string) (extractOutcome, error) {
	s, err := e.scenes.Load(scenePath)
	if err != nil {
		return extracted, err
	}

	outPath := e.CandidatePath(s.SceneID)
	if store.Exists(outPath) {
		return extractSkipped, nil
	}

	sceneJSON, err := json.Marshal(s)
	if err != nil {
		return extracted, fmt.Errorf("marshal scene: %w", err)
	}

	promptText := e.prompts.KGExtract.Render(map[string]string{
		prompt.PlaceholderJSONString: string(sceneJSON),
	})
	response, err := e.model.Generate(ctx, promptText)
	if err != nil {
		return extracted, fmt.Errorf("extract facts: %w", err)
	}

	facts, degraded := parseFacts(response)
	candidate := Candidate{
		SceneID:       s.SceneID,
		UserID:        s.UserID(),
		GeneratedAt:   store.GeneratedAt(),
		PromptVersion: prompt.KGPromptVersion,
		Facts:         facts,
	}
	if err := store.WriteJSON(outPath, candidate); err != nil {
		return extracted, err
	}

	if degraded {
		slog.Info("kg extraction degraded, no facts found", "scene", s.SceneID)
		return extractDegraded, nil
	}
	slog.Info("kg candidate extracted", "scene", s.SceneID,
		"entities", len(facts.Entities), "relations", len(facts.Relations))
	return extracted, nil
}

// parseFacts normalizes a model response into a Facts block. Responses may
// wrap the lists in "facts" or put them at the top level; non-list fields
// coerce to empty lists. A completely unusable response degrades to empty
// facts.
func parseFacts(response string) (Facts, bool) {
	empty := Facts{Entities: []Entity{}, Relations: []Relation{}, Attributes: []any{}}

	block, err := llm.ExtractJSONObject(response)
	if err != nil {
		return empty, true
	}

	var outer map[string]json.RawMessage
	if err := json.Unmarshal([]byte(block), &outer); err != nil {
		return empty, true
	}

	inner := outer
	if raw, ok := outer["facts"]; ok {
		var factsMap map[string]json.RawMessage
		if err := json.Unmarshal(raw, &factsMap); err != nil {
			return empty, true
		}
		inner = factsMap
	}

	facts := empty
	if raw, ok := inner["entities"]; ok {
		var entities []Entity
		if err := json.Unmarshal(raw, &entities); err == nil && entities != nil {
			facts.Entities = entities
		}
	}
	if raw, ok := inner["relations"]; ok {
		var relations []Relation
		if err := json.Unmarshal(raw, &relations); err == nil && relations != nil {
			facts.Relations = relations
		}
	}
	if raw, ok := inner["attributes"]; ok {
		var attrs []any
		if err := json.Unmarshal(raw, &attrs); err == nil && attrs != nil {
			facts.Attributes = attrs
		}
	}

	degraded := len(facts.Entities) == 0 && len(facts.Relations) == 0 && len(facts.Attributes) == 0
	return facts, degraded
}

// ListCandidates returns every candidate file in the strong directory,
// sorted.
func (e *Extractor) ListCandidates() ([]string, error) {
	if !store.Exists(e.StrongDir()) {
		return nil, nil
	}
	entries, err := filepath.Glob(filepath.Join(e.StrongDir(), "*"+CandidateSuffix))
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	sort.Strings(entries)
	return entries, nil
}

// LoadCandidate reads one candidate file.
func LoadCandidate(path string) (*Candidate, error) {
	var c Candidate
	if err := store.ReadJSON(path, &c); err != nil {
		return nil, err
	}
	if c.SceneID == "" {
		base := filepath.Base(path)
		c.SceneID = strings.TrimSuffix(base, CandidateSuffix)
	}
	return &c, nil
}
