package vector

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/qzhou-ai/memflow/internal/llm"
	"github.com/qzhou-ai/memflow/internal/memory/scene"
	"github.com/qzhou-ai/memflow/internal/memory/store"
)

// Index artifact file names.
const (
	IndexFileName      = "index.faiss"
	EmbeddingsFileName = "embeddings.npy"
	MetaFileName       = "meta.jsonl"
)

// ErrIndexExists is returned when a build would clobber an index without
// the overwrite flag.
var ErrIndexExists = errors.New("vector index already exists")

// MetaRecord is one indexed scene's metadata. Its line number in
// meta.jsonl equals the vector's ordinal in the index and the matrix row.
type MetaRecord struct {
	VectorID       string   `json:"vector_id"`
	SceneID        string   `json:"scene_id"`
	SceneVersion   string   `json:"scene_version"`
	ScenePath      string   `json:"scene_path"`
	UserID         string   `json:"user_id"`
	SourceDialogue string   `json:"source_dialogue"`
	EpisodeIDs     []string `json:"episode_ids"`
	TurnSpan       [2]int   `json:"turn_span"`
	SceneType      string   `json:"scene_type"`
	ContentType    string   `json:"content_type"`
	Intent         string   `json:"intent"`
	Tags           []string `json:"tags"`
	Confidence     float64  `json:"confidence"`
}

// Embedder is the embedding surface the indexer needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Indexer builds and queries the scene vector store.
type Indexer struct {
	embedder Embedder
	scenes   *scene.Store
	dir      string

	OnProgress func(done, total int)
}

// NewIndexer creates the vector stage writing into dir.
func NewIndexer(embedder Embedder, scenes *scene.Store, dir string) *Indexer {
	return &Indexer{embedder: embedder, scenes: scenes, dir: dir}
}

// IndexPath returns the native index location.
func (ix *Indexer) IndexPath() string { return filepath.Join(ix.dir, IndexFileName) }

// EmbeddingsPath returns the NumPy matrix location.
func (ix *Indexer) EmbeddingsPath() string { return filepath.Join(ix.dir, EmbeddingsFileName) }

// MetaPath returns the metadata sidecar location.
func (ix *Indexer) MetaPath() string { return filepath.Join(ix.dir, MetaFileName) }

// BuildResult summarizes an index build.
type BuildResult struct {
	Indexed int
	Dropped int
	Errors  []string
}

// Build embeds every scene and writes the three index artifacts. An
// existing index is refused unless overwrite is set. A scene whose
// embedding fails is dropped entirely so index, matrix, and metadata stay
// ordinally aligned.
func (ix *Indexer) Build(ctx context.Context, overwrite bool) (*BuildResult, error) {
	if store.Exists(ix.IndexPath()) && !overwrite {
		return nil, fmt.Errorf("%w at %s", ErrIndexExists, ix.dir)
	}

	scenePaths, err := ix.scenes.List()
	if err != nil {
		return nil, err
	}

	index := NewFlatIndex(ix.embedder.Dimension())
	var records []MetaRecord
	result := &BuildResult{}

	total := len(scenePaths)
	for i, path := range scenePaths {
		s, err := ix.scenes.Load(path)
		if err != nil {
			result.Dropped++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", path, err))
			slog.Warn("unreadable scene dropped from index", "path", path, "error", err)
			continue
		}

		embedding, err := ix.embedder.Embed(ctx, EmbedText(s))
		if err != nil {
			if errors.Is(err, llm.ErrFatalAPI) {
				return result, err
			}
			result.Dropped++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", s.SceneID, err))
			slog.Warn("scene dropped from index, embedding failed", "scene", s.SceneID, "error", err)
			continue
		}

		if err := index.Add(embedding); err != nil {
			return result, err
		}
		records = append(records, newMetaRecord(s, path))
		result.Indexed++

		if ix.OnProgress != nil {
			ix.OnProgress(i+1, total)
		}
	}

	if err := os.MkdirAll(ix.dir, 0755); err != nil {
		return result, fmt.Errorf("create index dir: %w", err)
	}
	if err := index.Save(ix.IndexPath()); err != nil {
		return result, err
	}
	if err := WriteNPY(ix.EmbeddingsPath(), index.Vectors(), index.Dim()); err != nil {
		return result, err
	}
	if err := writeMeta(ix.MetaPath(), records); err != nil {
		return result, err
	}

	slog.Info("vector index built", "indexed", result.Indexed, "dropped", result.Dropped, "dim", index.Dim())
	return result, nil
}

// SearchHit pairs a metadata record with its distance.
type SearchHit struct {
	Record   MetaRecord
	Distance float32
}

// Search embeds the query and returns the top-k nearest scenes.
func (ix *Indexer) Search(ctx context.Context, query string, topK int) ([]SearchHit, error) {
	index, err := LoadIndex(ix.IndexPath())
	if err != nil {
		return nil, err
	}
	records, err := ReadMeta(ix.MetaPath())
	if err != nil {
		return nil, err
	}
	if index.Len() != len(records) {
		return nil, fmt.Errorf("index has %d vectors, metadata has %d records", index.Len(), len(records))
	}

	queryVec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	hits, err := index.Search(queryVec, topK)
	if err != nil {
		return nil, err
	}

	out := make([]SearchHit, 0, len(hits))
	for _, hit := range hits {
		out = append(out, SearchHit{Record: records[hit.Ordinal], Distance: hit.Distance})
	}
	return out, nil
}

// SearchKeyword is the non-embedding fallback: case-insensitive substring
// match over tags, intent, and scene ids in the metadata sidecar.
func (ix *Indexer) SearchKeyword(query string, topK int) ([]SearchHit, error) {
	records, err := ReadMeta(ix.MetaPath())
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)
	var out []SearchHit
	for _, rec := range records {
		if keywordMatch(rec, needle) {
			out = append(out, SearchHit{Record: rec})
			if len(out) == topK {
				break
			}
		}
	}
	return out, nil
}

func keywordMatch(rec MetaRecord, needle string) bool {
	if strings.Contains(strings.ToLower(rec.Intent), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(rec.SceneID), needle) {
		return true
	}
	for _, tag := range rec.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

// EmbedText renders the canonical embedding text for a scene.
func EmbedText(s *scene.Scene) string {
	sections := []string{
		"[Scene Diary]\n" + s.Diary,
		"[Scene Type]\n" + s.SceneType + " / " + s.ContentType,
	}
	if s.Intent != "" {
		sections = append(sections, "[Intent]\n"+strings.ReplaceAll(s.Intent, "_", " "))
	}
	if len(s.Tags) > 0 {
		sections = append(sections, "[Tags]\n"+strings.Join(s.Tags, ", "))
	}
	return strings.Join(sections, "\n")
}

func newMetaRecord(s *scene.Scene, path string) MetaRecord {
	rec := MetaRecord{
		VectorID:     s.SceneID + "_" + s.SceneVersion,
		SceneID:      s.SceneID,
		SceneVersion: s.SceneVersion,
		ScenePath:    path,
		UserID:       s.UserID(),
		SceneType:    s.SceneType,
		ContentType:  s.ContentType,
		Intent:       s.Intent,
		Tags:         s.Tags,
		Confidence:   s.Confidence,
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	for i, src := range s.Source.Episodes {
		rec.EpisodeIDs = append(rec.EpisodeIDs, src.EpisodeID)
		if i == 0 {
			rec.SourceDialogue = src.DialogueID
			rec.TurnSpan = src.TurnSpan
		}
	}
	return rec
}

func writeMeta(path string, records []MetaRecord) error {
	var b strings.Builder
	for _, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal meta record: %w", err)
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	return store.WriteBytes(path, []byte(b.String()))
}

// ReadMeta reads the metadata sidecar in ordinal order.
func ReadMeta(path string) ([]MetaRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open meta: %w", err)
	}
	defer f.Close()

	var records []MetaRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec MetaRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("parse meta line: %w", err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read meta: %w", err)
	}
	return records, nil
}
