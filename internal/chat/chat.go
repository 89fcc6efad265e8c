// Package chat runs the memory-augmented conversation loop. On exit the
// transcript is stored as a dialogue, which feeds the distillation
// pipeline on its next scan.
package chat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/qzhou-ai/memflow/internal/config"
	"github.com/qzhou-ai/memflow/internal/memory/dialogue"
	"github.com/qzhou-ai/memflow/internal/memory/scene"
	"github.com/qzhou-ai/memflow/internal/memory/store"
	"github.com/qzhou-ai/memflow/internal/memory/vector"
	"github.com/qzhou-ai/memflow/internal/prompt"
)

// defaultTopK is how many scenes a turn retrieves as memory context.
const defaultTopK = 3

// Completer is the chat-completion surface the session needs.
type Completer interface {
	GenerateMessages(ctx context.Context, messages []llms.MessageContent) (string, error)
}

// Retriever finds relevant scenes for an utterance.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]vector.SearchHit, error)
	SearchKeyword(query string, topK int) ([]vector.SearchHit, error)
}

// Options configures one chat session.
type Options struct {
	// Memory retrieves scenes for every user turn.
	Memory bool
	// Store persists the transcript as a dialogue on exit.
	Store bool
	// Observation is injected into the system prompt verbatim.
	Observation string
	// TopK overrides the retrieval depth.
	TopK int
}

// Session is one interactive conversation.
type Session struct {
	model     Completer
	retriever Retriever
	scenes    *scene.Store
	archive   *dialogue.Archive
	prompts   *prompt.Library
	cfg       config.Config
	opts      Options

	in  io.Reader
	out io.Writer
	now func() time.Time
}

// NewSession wires a chat session.
func NewSession(model Completer, retriever Retriever, scenes *scene.Store, archive *dialogue.Archive, prompts *prompt.Library, cfg config.Config, opts Options, in io.Reader, out io.Writer) *Session {
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	return &Session{
		model:     model,
		retriever: retriever,
		scenes:    scenes,
		archive:   archive,
		prompts:   prompts,
		cfg:       cfg,
		opts:      opts,
		in:        in,
		out:       out,
		now:       time.Now,
	}
}

// Run reads user turns until EOF or an exit word, answering each one. When
// storing is enabled the transcript is saved as a dialogue and its path
// returned.
func (s *Session) Run(ctx context.Context) (string, error) {
	start := s.now()
	var turns []dialogue.Turn

	fmt.Fprintf(s.out, "%s ready. Type 'exit' to quit.\n", s.cfg.AssistantName)

	scanner := bufio.NewScanner(s.in)
	for {
		fmt.Fprintf(s.out, "%s> ", s.cfg.UserName)
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		turns = append(turns, dialogue.Turn{
			TurnID:    len(turns),
			Speaker:   s.cfg.UserName,
			Text:      input,
			Timestamp: s.now().Format(store.TimeLayout),
		})

		reply, err := s.respond(ctx, turns, input)
		if err != nil {
			return "", fmt.Errorf("chat turn: %w", err)
		}

		turns = append(turns, dialogue.Turn{
			TurnID:    len(turns),
			Speaker:   s.cfg.AssistantName,
			Text:      reply,
			Timestamp: s.now().Format(store.TimeLayout),
		})
		fmt.Fprintf(s.out, "%s> %s\n", s.cfg.AssistantName, reply)
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}

	if !s.opts.Store || len(turns) == 0 {
		return "", nil
	}
	return s.storeTranscript(start, turns)
}

// respond builds the prompt for one user turn and generates the reply.
func (s *Session) respond(ctx context.Context, turns []dialogue.Turn, input string) (string, error) {
	system := s.systemPrompt(ctx, input)

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
	}
	for _, turn := range turns {
		role := llms.ChatMessageTypeHuman
		if turn.Speaker == s.cfg.AssistantName {
			role = llms.ChatMessageTypeAI
		}
		messages = append(messages, llms.TextParts(role, turn.Text))
	}

	return s.model.GenerateMessages(ctx, messages)
}

// systemPrompt assembles persona, observation, and retrieved memories.
func (s *Session) systemPrompt(ctx context.Context, input string) string {
	replacer := strings.NewReplacer(
		"{assistant_name}", s.cfg.AssistantName,
		"{user_name}", s.cfg.UserName,
		"{language}", s.cfg.Language,
	)
	parts := []string{strings.TrimSpace(replacer.Replace(s.prompts.ChatPersona))}

	if s.opts.Observation != "" {
		block := strings.ReplaceAll(s.prompts.ChatObservation, "{user_name}", s.cfg.UserName)
		block = strings.ReplaceAll(block, "{observation}", s.opts.Observation)
		parts = append(parts, strings.TrimSpace(block))
	}

	if s.opts.Memory && s.retriever != nil {
		if memories := s.retrieveMemories(ctx, input); memories != "" {
			block := strings.ReplaceAll(s.prompts.ChatMemory, "{memories}", memories)
			parts = append(parts, strings.TrimSpace(block))
		}
	}

	return strings.Join(parts, "\n\n")
}

// retrieveMemories finds scenes for the utterance, falling back to keyword
// matching when the embedding search fails. Retrieval problems never break
// the conversation.
func (s *Session) retrieveMemories(ctx context.Context, input string) string {
	hits, err := s.retriever.Search(ctx, input, s.opts.TopK)
	if err != nil {
		slog.Debug("memory search failed, trying keyword fallback", "error", err)
		hits, err = s.retriever.SearchKeyword(input, s.opts.TopK)
		if err != nil {
			slog.Debug("keyword fallback failed", "error", err)
			return ""
		}
	}

	var lines []string
	for _, hit := range hits {
		diary := hit.Record.Intent
		if sc, err := s.scenes.Load(hit.Record.ScenePath); err == nil {
			diary = sc.Diary
		}
		lines = append(lines, "- "+diary)
	}
	return strings.Join(lines, "\n")
}

// storeTranscript saves the finished conversation as a dialogue.
func (s *Session) storeTranscript(start time.Time, turns []dialogue.Turn) (string, error) {
	d := &dialogue.Dialogue{
		DialogueID:   dialogue.NewID(start),
		UserID:       s.cfg.UserName,
		Participants: []string{s.cfg.UserName, s.cfg.AssistantName},
		Meta: dialogue.Meta{
			StartTime: start.Format(store.TimeLayout),
			EndTime:   s.now().Format(store.TimeLayout),
			Language:  s.cfg.Language,
			Platform:  "cli",
			Version:   "v1",
		},
		Turns: turns,
	}
	path, err := s.archive.Save(d)
	if err != nil {
		return "", fmt.Errorf("store transcript: %w", err)
	}
	slog.Info("transcript stored", "dialogue", d.DialogueID, "turns", len(turns), "path", path)
	return path, nil
}
