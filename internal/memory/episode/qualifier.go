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

// ParseOutcome tags how much of a qualification response was usable.
type ParseOutcome int

const (
	// ParsedOK means the response carried every expected field.
	ParsedOK ParseOutcome = iota
	// ParsedIncomplete means some fields were missing and got defaults.
	ParsedIncomplete
	// ParseFailed means no usable JSON came back; the qualification is
	// entirely defaulted.
	ParseFailed
)

const defaultRationale = "No rationale provided"

// Qualifier scores episodes against the scene-potential rubric.
type Qualifier struct {
	model   Generator
	prompts *prompt.Library
	archive *dialogue.Archive
	paths   Paths

	OnProgress func(done, total int)
}

// NewQualifier creates the qualification stage.
func NewQualifier(model Generator, prompts *prompt.Library, archive *dialogue.Archive, paths Paths) *Qualifier {
	return &Qualifier{model: model, prompts: prompts, archive: archive, paths: paths}
}

// ScanAll qualifies every dialogue that has episodes but no qualification
// file yet.
func (q *Qualifier) ScanAll(ctx context.Context) (*ScanResult, error) {
	ids, err := q.paths.ListDialogueIDs()
	if err != nil {
		return nil, err
	}

	result := &ScanResult{}
	total := len(ids)
	for i, id := range ids {
		built, err := q.QualifyDialogue(ctx, id)
		switch {
		case err != nil && errors.Is(err, llm.ErrFatalAPI):
			return result, err
		case err != nil:
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", id, err))
			slog.Warn("qualification failed", "dialogue", id, "error", err)
		case built:
			result.Processed++
		default:
			result.Skipped++
		}
		if q.OnProgress != nil {
			q.OnProgress(i+1, total)
		}
	}
	return result, nil
}

// QualifyDialogue scores every episode of one dialogue. Returns false when
// the output already exists or the dialogue has no episode file.
func (q *Qualifier) QualifyDialogue(ctx context.Context, dialogueID string) (bool, error) {
	if !store.Exists(q.paths.EpisodesFile(dialogueID)) {
		return false, nil
	}
	outPath := q.paths.QualificationsFile(dialogueID)
	if store.Exists(outPath) {
		slog.Debug("qualifications already built", "dialogue", dialogueID)
		return false, nil
	}

	set, err := q.paths.LoadSet(dialogueID)
	if err != nil {
		return false, err
	}
	d, err := q.archive.FindByID(dialogueID)
	if err != nil {
		return false, err
	}

	out := QualificationSet{
		GeneratedAt:          store.GeneratedAt(),
		QualificationVersion: prompt.QualificationVersion,
	}

	for _, ep := range set.Episodes {
		qual, outcome, err := q.qualifyEpisode(ctx, d, ep)
		if err != nil {
			// Provider errors fail the whole dialogue before anything is
			// written, so the next scan retries every episode. Only parse
			// problems degrade to defaults.
			return false, fmt.Errorf("episode %s: %w", ep.EpisodeID, err)
		}
		if outcome != ParsedOK {
			slog.Debug("qualification defaulted", "dialogue", dialogueID, "episode", ep.EpisodeID, "outcome", outcome)
		}
		out.Qualifications = append(out.Qualifications, qual)
	}

	if err := store.WriteJSON(outPath, out); err != nil {
		return false, err
	}
	slog.Info("qualifications built", "dialogue", dialogueID, "episodes", len(out.Qualifications))
	return true, nil
}

// qualifyEpisode runs one rubric call. Parse problems never fail the
// episode; they degrade to defaults with the outcome tagged.
func (q *Qualifier) qualifyEpisode(ctx context.Context, d *dialogue.Dialogue, ep Episode) (Qualification, ParseOutcome, error) {
	payload := struct {
		Episode Episode         `json:"episode"`
		Turns   []dialogue.Turn `json:"turns"`
	}{Episode: ep, Turns: d.TurnsInSpan(ep.TurnSpan)}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return Qualification{}, ParseFailed, fmt.Errorf("marshal episode payload: %w", err)
	}

	promptText := q.prompts.Qualification.Render(map[string]string{
		prompt.PlaceholderEpisodeJSON: string(payloadJSON),
	})
	response, err := q.model.Generate(ctx, promptText)
	if err != nil {
		return Qualification{}, ParseFailed, fmt.Errorf("qualify episode: %w", err)
	}

	qual, outcome := parseQualification(response)
	qual.EpisodeID = ep.EpisodeID
	qual.DialogueID = d.DialogueID
	qual.QualificationVersion = prompt.QualificationVersion
	qual.GeneratedAt = store.GeneratedAt()
	return qual, outcome, nil
}

// DecideFromTotal maps a rubric total to a decision.
func DecideFromTotal(total int) string {
	switch {
	case total >= 5:
		return DecisionSceneCandidate
	case total >= 3:
		return DecisionPending
	default:
		return DecisionDiscard
	}
}

func defaultedQualification() Qualification {
	return Qualification{
		Decision: DecideFromTotal(0),
		Rationale: Rationale{
			TopicClarity:       defaultRationale,
			ContextClosure:     defaultRationale,
			IntentStability:    defaultRationale,
			InformationDensity: defaultRationale,
		},
		Confidence: 0.5,
	}
}

// parseQualification decodes a rubric response, filling defaults for any
// missing field. The model tolerates partial output; the outcome tag makes
// that explicit to callers.
func parseQualification(response string) (Qualification, ParseOutcome) {
	block, err := llm.ExtractJSONObject(response)
	if err != nil {
		return defaultedQualification(), ParseFailed
	}

	var raw struct {
		Score      *Score     `json:"scene_potential_score"`
		Decision   *string    `json:"decision"`
		Rationale  *Rationale `json:"rationale"`
		Confidence *float64   `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(block), &raw); err != nil {
		return defaultedQualification(), ParseFailed
	}

	qual := defaultedQualification()
	complete := true

	if raw.Score != nil {
		score := *raw.Score
		if score.Total == 0 {
			score.Total = score.TopicClarity + score.ContextClosure + score.IntentStability + score.InformationDensity
		}
		qual.Score = score
	} else {
		complete = false
	}

	if raw.Decision != nil && *raw.Decision != "" {
		qual.Decision = *raw.Decision
	} else {
		qual.Decision = DecideFromTotal(qual.Score.Total)
		complete = false
	}

	if raw.Rationale != nil {
		qual.Rationale = *raw.Rationale
	} else {
		complete = false
	}

	if raw.Confidence != nil {
		qual.Confidence = *raw.Confidence
	} else {
		complete = false
	}

	if complete {
		return qual, ParsedOK
	}
	return qual, ParsedIncomplete
}
