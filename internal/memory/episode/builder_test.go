package episode

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qzhou-ai/memflow/internal/memory/dialogue"
	"github.com/qzhou-ai/memflow/internal/memory/store"
	"github.com/qzhou-ai/memflow/internal/prompt"
)

// fakeModel returns canned responses in order.
type fakeModel struct {
	responses []string
	err       error
	calls     int
}

func (f *fakeModel) Generate(_ context.Context, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", fmt.Errorf("no canned response")
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp, nil
}

func testEnv(t *testing.T) (*dialogue.Archive, Paths, *prompt.Library) {
	t.Helper()
	root := t.TempDir()
	archive := dialogue.NewArchive(filepath.Join(root, "dialogues"))
	paths := Paths{Root: filepath.Join(root, "episodes")}
	prompts, err := prompt.Load("")
	require.NoError(t, err)
	return archive, paths, prompts
}

func saveTestDialogue(t *testing.T, archive *dialogue.Archive) *dialogue.Dialogue {
	t.Helper()
	d := &dialogue.Dialogue{
		DialogueID:   "dlg_2026-03-14_09-30-00",
		UserID:       "alice",
		Participants: []string{"alice", "assistant"},
		Meta:         dialogue.Meta{StartTime: "2026-03-14 09:30:00", Language: "en", Platform: "cli", Version: "v1"},
		Turns: []dialogue.Turn{
			{TurnID: 0, Speaker: "alice", Text: "I finally booked the Kyoto trip"},
			{TurnID: 1, Speaker: "assistant", Text: "Nice, when do you leave?"},
			{TurnID: 2, Speaker: "alice", Text: "First week of April, cherry blossom season"},
		},
	}
	_, err := archive.Save(d)
	require.NoError(t, err)
	return d
}

const segmentationResponse = `Here you go:
{"episodes":[{"episode_id":"ep_001","turn_span":[0,2],"intent_type":"planning","interaction_mode":"discussion","topic":"kyoto trip","summary":"Booked a trip to Kyoto in April."}]}`

func TestBuilderScanAll(t *testing.T) {
	archive, paths, prompts := testEnv(t)
	d := saveTestDialogue(t, archive)

	model := &fakeModel{responses: []string{segmentationResponse}}
	b := NewBuilder(model, prompts, archive, paths)

	result, err := b.ScanAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 0, result.Failed)

	set, err := paths.LoadSet(d.DialogueID)
	require.NoError(t, err)
	assert.Equal(t, d.DialogueID, set.DialogueID)
	assert.Equal(t, "v1", set.EpisodeVersion)
	require.Len(t, set.Episodes, 1)
	assert.Equal(t, [2]int{0, 2}, set.Episodes[0].TurnSpan)

	// Second scan skips: output exists, no LLM call made.
	calls := model.calls
	result, err = b.ScanAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, calls, model.calls)
}

func TestBuilderBadSpans(t *testing.T) {
	archive, paths, prompts := testEnv(t)
	saveTestDialogue(t, archive)

	// Span runs past the last turn of a 3-turn dialogue.
	model := &fakeModel{responses: []string{`{"episodes":[{"episode_id":"ep_001","turn_span":[0,5]}]}`}}
	b := NewBuilder(model, prompts, archive, paths)

	result, err := b.ScanAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 0, result.Processed)
}

func TestBuilderUnparseableResponse(t *testing.T) {
	archive, paths, prompts := testEnv(t)
	d := saveTestDialogue(t, archive)

	model := &fakeModel{responses: []string{"I could not segment this."}}
	b := NewBuilder(model, prompts, archive, paths)

	result, err := b.ScanAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.False(t, store.Exists(paths.EpisodesFile(d.DialogueID)))
}

func TestValidateSpans(t *testing.T) {
	ep := func(id string, lo, hi int) Episode {
		return Episode{EpisodeID: id, TurnSpan: [2]int{lo, hi}}
	}

	tests := []struct {
		name      string
		episodes  []Episode
		turnCount int
		wantErr   bool
	}{
		{"full cover single", []Episode{ep("ep_001", 0, 4)}, 5, false},
		{"full cover split", []Episode{ep("ep_001", 0, 1), ep("ep_002", 2, 4)}, 5, false},
		{"gap between episodes", []Episode{ep("ep_001", 0, 1), ep("ep_002", 3, 4)}, 5, false},
		{"trailing turns unassigned", []Episode{ep("ep_001", 0, 3)}, 5, false},
		{"leading turns unassigned", []Episode{ep("ep_001", 1, 4)}, 5, false},
		{"sparse sub-partition", []Episode{ep("ep_001", 0, 2), ep("ep_002", 5, 7)}, 8, false},
		{"overlap", []Episode{ep("ep_001", 0, 2), ep("ep_002", 2, 4)}, 5, true},
		{"out of order", []Episode{ep("ep_001", 3, 4), ep("ep_002", 0, 1)}, 5, true},
		{"past last turn", []Episode{ep("ep_001", 0, 5)}, 5, true},
		{"inverted", []Episode{ep("ep_001", 2, 0)}, 5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSpans(tt.episodes, tt.turnCount)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseSegmentationAssignsIDs(t *testing.T) {
	eps, err := parseSegmentation(`{"episodes":[{"turn_span":[0,1]},{"turn_span":[2,3]}]}`)
	require.NoError(t, err)
	assert.Equal(t, "ep_001", eps[0].EpisodeID)
	assert.Equal(t, "ep_002", eps[1].EpisodeID)
}
