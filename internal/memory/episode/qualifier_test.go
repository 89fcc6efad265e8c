package episode

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qzhou-ai/memflow/internal/memory/store"
	"github.com/qzhou-ai/memflow/internal/prompt"
)

const qualificationResponse = `{
  "scene_potential_score": {"topic_clarity": 2, "context_closure": 1, "intent_stability": 2, "information_density": 2, "total": 7},
  "decision": "scene_candidate",
  "rationale": {"topic_clarity": "clear", "context_closure": "mostly", "intent_stability": "stable", "information_density": "dense"},
  "confidence": 0.9
}`

func writeEpisodeSet(t *testing.T, paths Paths, dialogueID string, episodes []Episode) {
	t.Helper()
	set := Set{
		DialogueID:     dialogueID,
		EpisodeVersion: prompt.EpisodeVersion,
		GeneratedAt:    store.GeneratedAt(),
		Episodes:       episodes,
	}
	require.NoError(t, store.WriteJSON(paths.EpisodesFile(dialogueID), set))
}

func TestQualifierScanAll(t *testing.T) {
	archive, paths, prompts := testEnv(t)
	d := saveTestDialogue(t, archive)
	writeEpisodeSet(t, paths, d.DialogueID, []Episode{
		{EpisodeID: "ep_001", TurnSpan: [2]int{0, 2}, IntentType: "planning", InteractionMode: "discussion"},
	})

	model := &fakeModel{responses: []string{qualificationResponse}}
	q := NewQualifier(model, prompts, archive, paths)

	result, err := q.ScanAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)

	quals, err := paths.LoadQualifications(d.DialogueID)
	require.NoError(t, err)
	require.Len(t, quals.Qualifications, 1)

	qual := quals.Qualifications[0]
	assert.Equal(t, "ep_001", qual.EpisodeID)
	assert.Equal(t, d.DialogueID, qual.DialogueID)
	assert.Equal(t, 7, qual.Score.Total)
	assert.Equal(t, DecisionSceneCandidate, qual.Decision)
	assert.Equal(t, 0.9, qual.Confidence)

	// Idempotent.
	result, err = q.ScanAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
}

// flakyModel fails on one specific call and answers normally otherwise.
type flakyModel struct {
	failCall int
	response string
	calls    int
}

func (f *flakyModel) Generate(_ context.Context, _ string) (string, error) {
	f.calls++
	if f.calls == f.failCall {
		return "", fmt.Errorf("connection reset by peer")
	}
	return f.response, nil
}

func TestQualifierRetriesDialogueAfterProviderError(t *testing.T) {
	archive, paths, prompts := testEnv(t)
	d := saveTestDialogue(t, archive)
	writeEpisodeSet(t, paths, d.DialogueID, []Episode{
		{EpisodeID: "ep_001", TurnSpan: [2]int{0, 1}},
		{EpisodeID: "ep_002", TurnSpan: [2]int{2, 2}},
	})

	model := &flakyModel{failCall: 2, response: qualificationResponse}
	q := NewQualifier(model, prompts, archive, paths)

	result, err := q.ScanAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	// Nothing written, so the dialogue is not considered done.
	assert.False(t, store.Exists(paths.QualificationsFile(d.DialogueID)))

	// The next scan qualifies both episodes.
	result, err = q.ScanAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)

	quals, err := paths.LoadQualifications(d.DialogueID)
	require.NoError(t, err)
	require.Len(t, quals.Qualifications, 2)
	assert.Equal(t, "ep_002", quals.Qualifications[1].EpisodeID)
}

func TestQualifierSkipsWithoutEpisodes(t *testing.T) {
	archive, paths, prompts := testEnv(t)
	saveTestDialogue(t, archive)

	model := &fakeModel{}
	q := NewQualifier(model, prompts, archive, paths)
	result, err := q.ScanAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Processed)
	assert.Zero(t, model.calls)
}

func TestParseQualification(t *testing.T) {
	t.Run("complete", func(t *testing.T) {
		qual, outcome := parseQualification(qualificationResponse)
		assert.Equal(t, ParsedOK, outcome)
		assert.Equal(t, 7, qual.Score.Total)
		assert.Equal(t, "clear", qual.Rationale.TopicClarity)
	})

	t.Run("missing total recomputed", func(t *testing.T) {
		resp := `{"scene_potential_score": {"topic_clarity": 2, "context_closure": 2, "intent_stability": 1, "information_density": 1}, "decision": "scene_candidate", "rationale": {"topic_clarity": "x", "context_closure": "x", "intent_stability": "x", "information_density": "x"}, "confidence": 0.8}`
		qual, outcome := parseQualification(resp)
		assert.Equal(t, ParsedOK, outcome)
		assert.Equal(t, 6, qual.Score.Total)
	})

	t.Run("missing decision derived from total", func(t *testing.T) {
		resp := `{"scene_potential_score": {"topic_clarity": 1, "context_closure": 1, "intent_stability": 1, "information_density": 1, "total": 4}}`
		qual, outcome := parseQualification(resp)
		assert.Equal(t, ParsedIncomplete, outcome)
		assert.Equal(t, DecisionPending, qual.Decision)
		assert.Equal(t, defaultRationale, qual.Rationale.TopicClarity)
		assert.Equal(t, 0.5, qual.Confidence)
	})

	t.Run("garbage response defaults", func(t *testing.T) {
		qual, outcome := parseQualification("not json at all")
		assert.Equal(t, ParseFailed, outcome)
		assert.Equal(t, 0, qual.Score.Total)
		assert.Equal(t, DecisionDiscard, qual.Decision)
		assert.Equal(t, 0.5, qual.Confidence)
	})
}

func TestDecideFromTotal(t *testing.T) {
	assert.Equal(t, DecisionSceneCandidate, DecideFromTotal(8))
	assert.Equal(t, DecisionSceneCandidate, DecideFromTotal(5))
	assert.Equal(t, DecisionPending, DecideFromTotal(4))
	assert.Equal(t, DecisionPending, DecideFromTotal(3))
	assert.Equal(t, DecisionDiscard, DecideFromTotal(2))
	assert.Equal(t, DecisionDiscard, DecideFromTotal(0))
}
