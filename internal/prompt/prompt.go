// Package prompt holds the LLM prompt templates for the distillation
// pipeline. Defaults are embedded; an on-disk YAML file can override them.
package prompt

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// Versions stamped into generated artifacts.
const (
	EpisodeVersion       = "v1"
	QualificationVersion = "v1"
	EligibilityVersion   = "v1"
	SceneVersion         = "v1"
	TrackerVersion       = "v1"
	KGPromptVersion      = "kg_strong_filter_v1"
)

// Placeholders recognized by the stage templates.
const (
	PlaceholderInputJSON   = "<INPUT_JSON>"
	PlaceholderEpisodeJSON = "<EPISODE_JSON>"
	PlaceholderSceneTalk   = "{{original_episode_talk}}"
	PlaceholderJSONString  = "<json_string>"
)

// Template is a system/user prompt pair.
type Template struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

// Render substitutes placeholder occurrences and combines system and user
// parts the way the pipeline sends them as a single prompt.
func (t Template) Render(replacements map[string]string) string {
	system := t.System
	user := t.User
	for placeholder, value := range replacements {
		system = strings.ReplaceAll(system, placeholder, value)
		user = strings.ReplaceAll(user, placeholder, value)
	}
	if system == "" {
		return user
	}
	return system + "\n\n" + user
}

// Library holds every template the pipeline and chat loop use.
type Library struct {
	Segmentation  Template `yaml:"segmentation"`
	Qualification Template `yaml:"qualification"`
	SceneBuild    Template `yaml:"scene_build"`
	KGExtract     Template `yaml:"kg_extract"`

	// Chat persona blocks, assembled by the chat loop.
	ChatPersona     string `yaml:"chat_persona"`
	ChatObservation string `yaml:"chat_observation"`
	ChatMemory      string `yaml:"chat_memory"`
}

// Load returns the prompt library. An empty path loads the embedded
// defaults; otherwise the YAML file at path replaces them wholesale.
func Load(path string) (*Library, error) {
	data := defaultPrompts
	if path != "" {
		fileData, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read prompt file: %w", err)
		}
		data = fileData
	}

	var lib Library
	if err := yaml.Unmarshal(data, &lib); err != nil {
		return nil, fmt.Errorf("parse prompt file: %w", err)
	}
	return &lib, nil
}
