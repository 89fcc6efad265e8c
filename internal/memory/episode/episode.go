// Package episode covers the first three distillation stages: segmenting
// dialogues into episodes, scoring them, and filtering out the ones not
// worth a scene.
package episode

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/qzhou-ai/memflow/internal/memory/store"
	"github.com/qzhou-ai/memflow/internal/prompt"
)

// Episode is one coherent span of a dialogue.
type Episode struct {
	EpisodeID       string `json:"episode_id"`
	TurnSpan        [2]int `json:"turn_span"`
	IntentType      string `json:"intent_type"`
	InteractionMode string `json:"interaction_mode"`
	Topic           string `json:"topic"`
	Summary         string `json:"summary"`
}

// TurnCount returns the number of turns the span covers.
func (e Episode) TurnCount() int {
	return e.TurnSpan[1] - e.TurnSpan[0] + 1
}

// Set is the per-dialogue episode file.
type Set struct {
	DialogueID     string    `json:"dialogue_id"`
	EpisodeVersion string    `json:"episode_version"`
	GeneratedAt    string    `json:"generated_at"`
	Episodes       []Episode `json:"episodes"`
}

// Score is the four-dimension rubric plus its sum.
type Score struct {
	TopicClarity       int `json:"topic_clarity"`
	ContextClosure     int `json:"context_closure"`
	IntentStability    int `json:"intent_stability"`
	InformationDensity int `json:"information_density"`
	Total              int `json:"total"`
}

// Rationale explains each rubric dimension.
type Rationale struct {
	TopicClarity       string `json:"topic_clarity"`
	ContextClosure     string `json:"context_closure"`
	IntentStability    string `json:"intent_stability"`
	InformationDensity string `json:"information_density"`
}

// Qualification decisions.
const (
	DecisionSceneCandidate = "scene_candidate"
	DecisionPending        = "pending"
	DecisionDiscard        = "discard"
)

// Qualification is one episode's rubric verdict.
type Qualification struct {
	EpisodeID            string    `json:"episode_id"`
	DialogueID           string    `json:"dialogue_id"`
	QualificationVersion string    `json:"qualification_version"`
	GeneratedAt          string    `json:"generated_at"`
	Score                Score     `json:"scene_potential_score"`
	Decision             string    `json:"decision"`
	Rationale            Rationale `json:"rationale"`
	Confidence           float64   `json:"confidence"`
}

// QualificationSet is the per-dialogue qualification file.
type QualificationSet struct {
	Qualifications       []Qualification `json:"qualifications"`
	GeneratedAt          string          `json:"generated_at"`
	QualificationVersion string          `json:"qualification_version"`
}

// EligibilityResult is one episode's deterministic filter verdict.
type EligibilityResult struct {
	EpisodeID string   `json:"episode_id"`
	Eligible  bool     `json:"eligible"`
	Reason    string   `json:"reason"`
	RuleHits  []string `json:"rule_hits"`
}

// EligibilitySet is the per-dialogue eligibility file.
type EligibilitySet struct {
	DialogueID         string              `json:"dialogue_id"`
	EligibilityVersion string              `json:"eligibility_version"`
	GeneratedAt        string              `json:"generated_at"`
	Results            []EligibilityResult `json:"results"`
}

// Paths locates the per-dialogue stage files under the episodes root.
type Paths struct {
	Root string
}

// DialogueDir returns the per-dialogue artifact directory.
func (p Paths) DialogueDir(dialogueID string) string {
	return filepath.Join(p.Root, "by_dialogue", dialogueID)
}

// EpisodesFile returns the stage-1 output path.
func (p Paths) EpisodesFile(dialogueID string) string {
	return filepath.Join(p.DialogueDir(dialogueID), "episodes_"+prompt.EpisodeVersion+".json")
}

// QualificationsFile returns the stage-2 output path.
func (p Paths) QualificationsFile(dialogueID string) string {
	return filepath.Join(p.DialogueDir(dialogueID), "qualifications_"+prompt.QualificationVersion+".json")
}

// EligibilityFile returns the stage-3 output path.
func (p Paths) EligibilityFile(dialogueID string) string {
	return filepath.Join(p.DialogueDir(dialogueID), "eligibility_"+prompt.EligibilityVersion+".json")
}

// ListDialogueIDs returns every dialogue id that has stage artifacts,
// sorted.
func (p Paths) ListDialogueIDs() ([]string, error) {
	base := filepath.Join(p.Root, "by_dialogue")
	if !store.Exists(base) {
		return nil, nil
	}
	entries, err := filepath.Glob(filepath.Join(base, "*"))
	if err != nil {
		return nil, fmt.Errorf("list episode dirs: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, filepath.Base(entry))
	}
	sort.Strings(ids)
	return ids, nil
}

// LoadSet reads a stage-1 episode file.
func (p Paths) LoadSet(dialogueID string) (*Set, error) {
	var set Set
	if err := store.ReadJSON(p.EpisodesFile(dialogueID), &set); err != nil {
		return nil, err
	}
	return &set, nil
}

// LoadQualifications reads a stage-2 qualification file.
func (p Paths) LoadQualifications(dialogueID string) (*QualificationSet, error) {
	var set QualificationSet
	if err := store.ReadJSON(p.QualificationsFile(dialogueID), &set); err != nil {
		return nil, err
	}
	return &set, nil
}

// LoadEligibility reads a stage-3 eligibility file.
func (p Paths) LoadEligibility(dialogueID string) (*EligibilitySet, error) {
	var set EligibilitySet
	if err := store.ReadJSON(p.EligibilityFile(dialogueID), &set); err != nil {
		return nil, err
	}
	return &set, nil
}
