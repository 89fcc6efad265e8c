package episode

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/qzhou-ai/memflow/internal/memory/store"
	"github.com/qzhou-ai/memflow/internal/prompt"
)

// Filter rule identifiers. Reasons come from the first rule that fires;
// rule_hits records every rule that fired.
const (
	ReasonInformationDensity = "information_density_0"
	ReasonPureSocial         = "pure_social_interaction"

	HitInformationDensity = "information_density_0"
	HitEmotionalCasual    = "emotional_casual_short"
)

// Evaluate applies the deterministic eligibility rules to one episode. It
// is a pure function of its inputs.
func Evaluate(ep Episode, qual Qualification) EligibilityResult {
	result := EligibilityResult{
		EpisodeID: ep.EpisodeID,
		Eligible:  true,
		RuleHits:  []string{},
	}

	if qual.Score.InformationDensity < 1 {
		result.Eligible = false
		if result.Reason == "" {
			result.Reason = ReasonInformationDensity
		}
		result.RuleHits = append(result.RuleHits, HitInformationDensity)
	}

	if ep.IntentType == "emotional_interaction" &&
		ep.InteractionMode == "casual_banter" &&
		ep.TurnCount() <= 3 {
		result.Eligible = false
		if result.Reason == "" {
			result.Reason = ReasonPureSocial
		}
		result.RuleHits = append(result.RuleHits, HitEmotionalCasual)
	}

	return result
}

// Filter runs the eligibility rules over qualified dialogues.
type Filter struct {
	paths Paths

	OnProgress func(done, total int)
}

// NewFilter creates the eligibility stage.
func NewFilter(paths Paths) *Filter {
	return &Filter{paths: paths}
}

// ScanAll writes an eligibility file for every dialogue that has episodes
// and qualifications but no eligibility file yet.
func (f *Filter) ScanAll() (*ScanResult, error) {
	ids, err := f.paths.ListDialogueIDs()
	if err != nil {
		return nil, err
	}

	result := &ScanResult{}
	total := len(ids)
	for i, id := range ids {
		built, err := f.FilterDialogue(id)
		switch {
		case err != nil:
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", id, err))
			slog.Warn("eligibility filter failed", "dialogue", id, "error", err)
		case built:
			result.Processed++
		default:
			result.Skipped++
		}
		if f.OnProgress != nil {
			f.OnProgress(i+1, total)
		}
	}
	return result, nil
}

// FilterDialogue evaluates one dialogue. Returns false when inputs are
// missing or the output already exists.
func (f *Filter) FilterDialogue(dialogueID string) (bool, error) {
	if !store.Exists(f.paths.EpisodesFile(dialogueID)) ||
		!store.Exists(f.paths.QualificationsFile(dialogueID)) {
		return false, nil
	}
	outPath := f.paths.EligibilityFile(dialogueID)
	if store.Exists(outPath) {
		return false, nil
	}

	set, err := f.paths.LoadSet(dialogueID)
	if err != nil {
		return false, err
	}
	quals, err := f.paths.LoadQualifications(dialogueID)
	if err != nil {
		return false, err
	}

	qualByEpisode := make(map[string]Qualification, len(quals.Qualifications))
	for _, q := range quals.Qualifications {
		qualByEpisode[q.EpisodeID] = q
	}

	out := EligibilitySet{
		DialogueID:         dialogueID,
		EligibilityVersion: prompt.EligibilityVersion,
		GeneratedAt:        store.GeneratedAt(),
	}
	for _, ep := range set.Episodes {
		qual, ok := qualByEpisode[ep.EpisodeID]
		if !ok {
			// Unqualified episodes fail the density rule by definition.
			slog.Debug("episode has no qualification, treating as zero scores", "dialogue", dialogueID, "episode", ep.EpisodeID)
		}
		out.Results = append(out.Results, Evaluate(ep, qual))
	}

	if err := store.WriteJSON(outPath, out); err != nil {
		return false, err
	}
	slog.Info("eligibility built", "dialogue", dialogueID, "episodes", len(out.Results))
	return true, nil
}

// ClearAll removes every eligibility file so the filter stage can rerun
// after a rule change. Callers gate this behind an explicit confirmation.
func (f *Filter) ClearAll() (int, error) {
	ids, err := f.paths.ListDialogueIDs()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range ids {
		path := f.paths.EligibilityFile(id)
		if !store.Exists(path) {
			continue
		}
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("remove %s: %w", path, err)
		}
		removed++
	}
	return removed, nil
}
