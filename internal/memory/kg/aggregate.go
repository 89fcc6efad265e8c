package kg

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/qzhou-ai/memflow/internal/memory/store"
)

// SnapshotFileName is the aggregated graph document.
const SnapshotFileName = "kg_data.json"

// Metadata describes an aggregation run.
type Metadata struct {
	GeneratedAt    string `json:"generated_at"`
	SourceDir      string `json:"source_dir"`
	TotalScenes    int    `json:"total_scenes"`
	TotalEntities  int    `json:"total_entities"`
	TotalRelations int    `json:"total_relations"`
}

// MergedEntity is an entity deduplicated across scenes.
type MergedEntity struct {
	ID         string   `json:"id"`
	Type       string   `json:"type"`
	Confidence float64  `json:"confidence"`
	Scenes     []string `json:"scenes"`
}

// ProvenancedRelation is a relation stamped with its source scene.
// Relations are never deduplicated: the same edge asserted by two scenes
// is two pieces of evidence.
type ProvenancedRelation struct {
	Subject    string  `json:"subject"`
	Relation   string  `json:"relation"`
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence"`
	SceneID    string  `json:"scene_id"`
}

// SceneRef records which scenes fed the snapshot.
type SceneRef struct {
	SceneID       string `json:"scene_id"`
	UserID        string `json:"user_id"`
	GeneratedAt   string `json:"generated_at"`
	PromptVersion string `json:"prompt_version"`
}

// Snapshot is the aggregated knowledge graph.
type Snapshot struct {
	Metadata  Metadata              `json:"metadata"`
	Entities  []MergedEntity        `json:"entities"`
	Relations []ProvenancedRelation `json:"relations"`
	Scenes    []SceneRef            `json:"scenes"`
}

// Aggregator merges candidate files into the snapshot. Every run is a full
// re-merge; the snapshot is always overwritten.
type Aggregator struct {
	extractor *Extractor
	outDir    string
}

// NewAggregator creates the aggregation stage writing into the kg_data
// directory.
func NewAggregator(extractor *Extractor, outDir string) *Aggregator {
	return &Aggregator{extractor: extractor, outDir: outDir}
}

// SnapshotPath returns where the aggregated graph lives.
func (a *Aggregator) SnapshotPath() string {
	return filepath.Join(a.outDir, SnapshotFileName)
}

// Run merges every candidate and writes the snapshot.
func (a *Aggregator) Run() (*Snapshot, error) {
	paths, err := a.extractor.ListCandidates()
	if err != nil {
		return nil, err
	}

	candidates := make([]*Candidate, 0, len(paths))
	for _, path := range paths {
		c, err := LoadCandidate(path)
		if err != nil {
			slog.Warn("unreadable candidate skipped", "path", path, "error", err)
			continue
		}
		candidates = append(candidates, c)
	}

	snapshot := Merge(candidates, a.extractor.StrongDir())
	if err := store.WriteJSON(a.SnapshotPath(), snapshot); err != nil {
		return nil, fmt.Errorf("write snapshot: %w", err)
	}

	slog.Info("kg snapshot aggregated",
		"scenes", snapshot.Metadata.TotalScenes,
		"entities", snapshot.Metadata.TotalEntities,
		"relations", snapshot.Metadata.TotalRelations)
	return snapshot, nil
}

// Merge deterministically combines candidates. Entities dedup by id with
// max confidence, union of scenes in first-seen order, and the first type
// seen wins. Relations keep per-scene provenance without dedup. Scene refs
// dedup by scene id.
func Merge(candidates []*Candidate, sourceDir string) *Snapshot {
	snapshot := &Snapshot{
		Entities:  []MergedEntity{},
		Relations: []ProvenancedRelation{},
		Scenes:    []SceneRef{},
	}

	entityIndex := make(map[string]int)
	seenScenes := make(map[string]bool)

	for _, c := range candidates {
		for _, entity := range c.Facts.Entities {
			idx, ok := entityIndex[entity.ID]
			if !ok {
				entityIndex[entity.ID] = len(snapshot.Entities)
				snapshot.Entities = append(snapshot.Entities, MergedEntity{
					ID:         entity.ID,
					Type:       entity.Type,
					Confidence: entity.Confidence,
					Scenes:     []string{c.SceneID},
				})
				continue
			}
			merged := &snapshot.Entities[idx]
			if entity.Confidence > merged.Confidence {
				merged.Confidence = entity.Confidence
			}
			if !containsString(merged.Scenes, c.SceneID) {
				merged.Scenes = append(merged.Scenes, c.SceneID)
			}
		}

		for _, rel := range c.Facts.Relations {
			snapshot.Relations = append(snapshot.Relations, ProvenancedRelation{
				Subject:    rel.Subject,
				Relation:   rel.Relation,
				Object:     rel.Object,
				Confidence: rel.Confidence,
				SceneID:    c.SceneID,
			})
		}

		if !seenScenes[c.SceneID] {
			seenScenes[c.SceneID] = true
			snapshot.Scenes = append(snapshot.Scenes, SceneRef{
				SceneID:       c.SceneID,
				UserID:        c.UserID,
				GeneratedAt:   c.GeneratedAt,
				PromptVersion: c.PromptVersion,
			})
		}
	}

	snapshot.Metadata = Metadata{
		GeneratedAt:    store.GeneratedAt(),
		SourceDir:      sourceDir,
		TotalScenes:    len(snapshot.Scenes),
		TotalEntities:  len(snapshot.Entities),
		TotalRelations: len(snapshot.Relations),
	}
	return snapshot
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// LoadSnapshot reads an aggregated graph document.
func LoadSnapshot(path string) (*Snapshot, error) {
	var s Snapshot
	if err := store.ReadJSON(path, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
