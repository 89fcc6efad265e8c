package chat

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/qzhou-ai/memflow/internal/config"
	"github.com/qzhou-ai/memflow/internal/memory/dialogue"
	"github.com/qzhou-ai/memflow/internal/memory/scene"
	"github.com/qzhou-ai/memflow/internal/memory/vector"
	"github.com/qzhou-ai/memflow/internal/prompt"
)

type fakeCompleter struct {
	lastSystem string
	replies    int
}

func (f *fakeCompleter) GenerateMessages(_ context.Context, messages []llms.MessageContent) (string, error) {
	if len(messages) > 0 && messages[0].Role == llms.ChatMessageTypeSystem {
		if text, ok := messages[0].Parts[0].(llms.TextContent); ok {
			f.lastSystem = text.Text
		}
	}
	f.replies++
	return fmt.Sprintf("reply %d", f.replies), nil
}

type fakeRetriever struct {
	hits      []vector.SearchHit
	searchErr error
}

func (f *fakeRetriever) Search(_ context.Context, _ string, _ int) ([]vector.SearchHit, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.hits, nil
}

func (f *fakeRetriever) SearchKeyword(_ string, _ int) ([]vector.SearchHit, error) {
	return f.hits, nil
}

func testConfig() config.Config {
	return config.Config{UserName: "alice", AssistantName: "memflow", Language: "en"}
}

func newTestSession(t *testing.T, opts Options, retriever Retriever, input string) (*Session, *fakeCompleter, *dialogue.Archive, *bytes.Buffer) {
	t.Helper()
	root := t.TempDir()
	archive := dialogue.NewArchive(filepath.Join(root, "dialogues"))
	scenes := scene.NewStore(filepath.Join(root, "scenes"))
	prompts, err := prompt.Load("")
	require.NoError(t, err)

	model := &fakeCompleter{}
	out := &bytes.Buffer{}
	s := NewSession(model, retriever, scenes, archive, prompts, testConfig(), opts, strings.NewReader(input), out)
	s.now = func() time.Time { return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC) }
	return s, model, archive, out
}

func TestSessionBasicExchange(t *testing.T) {
	s, model, _, out := newTestSession(t, Options{}, nil, "hello there\nexit\n")

	path, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Equal(t, 1, model.replies)
	assert.Contains(t, out.String(), "memflow> reply 1")
	assert.Contains(t, model.lastSystem, "memflow")
	assert.Contains(t, model.lastSystem, "alice")
}

func TestSessionStoresTranscript(t *testing.T) {
	s, _, archive, _ := newTestSession(t, Options{Store: true}, nil, "I booked the Kyoto trip\nexit\n")

	path, err := s.Run(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, path)

	d, err := archive.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "dlg_2026-03-14_09-30-00", d.DialogueID)
	assert.Equal(t, "alice", d.UserID)
	require.Len(t, d.Turns, 2)
	assert.Equal(t, 0, d.Turns[0].TurnID)
	assert.Equal(t, "alice", d.Turns[0].Speaker)
	assert.Equal(t, "memflow", d.Turns[1].Speaker)
	assert.NoError(t, d.Validate())
}

func TestSessionNoStoreWithoutTurns(t *testing.T) {
	s, _, _, _ := newTestSession(t, Options{Store: true}, nil, "exit\n")
	path, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestSessionObservationInSystemPrompt(t *testing.T) {
	s, model, _, _ := newTestSession(t, Options{Observation: "alice is packing for a trip"}, nil, "hi\nexit\n")

	_, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, model.lastSystem, "alice is packing for a trip")
}

func TestSessionMemoryRetrieval(t *testing.T) {
	retriever := &fakeRetriever{hits: []vector.SearchHit{
		{Record: vector.MetaRecord{SceneID: "scene_000001", Intent: "travel_planning", ScenePath: "/nonexistent"}},
	}}
	s, model, _, _ := newTestSession(t, Options{Memory: true}, retriever, "trip?\nexit\n")

	_, err := s.Run(context.Background())
	require.NoError(t, err)
	// Scene file unreadable, so the intent stands in for the diary.
	assert.Contains(t, model.lastSystem, "travel_planning")
	assert.Contains(t, model.lastSystem, "memories")
}

func TestSessionMemoryFallsBackToKeyword(t *testing.T) {
	retriever := &fakeRetriever{
		searchErr: fmt.Errorf("no index"),
		hits: []vector.SearchHit{
			{Record: vector.MetaRecord{SceneID: "scene_000001", Intent: "pottery", ScenePath: "/nonexistent"}},
		},
	}
	s, model, _, _ := newTestSession(t, Options{Memory: true}, retriever, "pottery?\nexit\n")

	_, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, model.lastSystem, "pottery")
}
