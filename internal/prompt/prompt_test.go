package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmbeddedDefaults(t *testing.T) {
	lib, err := Load("")
	require.NoError(t, err)

	assert.Contains(t, lib.Segmentation.User, PlaceholderInputJSON)
	assert.Contains(t, lib.Qualification.User, PlaceholderEpisodeJSON)
	assert.Contains(t, lib.SceneBuild.User, PlaceholderSceneTalk)
	assert.Contains(t, lib.KGExtract.User, PlaceholderJSONString)
	assert.NotEmpty(t, lib.ChatPersona)
}

func TestLoadOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompts.yaml")
	content := "segmentation:\n  system: custom system\n  user: custom user <INPUT_JSON>\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	lib, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "custom system", lib.Segmentation.System)
	// Overrides replace wholesale; untouched templates are empty.
	assert.Empty(t, lib.Qualification.User)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestTemplateRender(t *testing.T) {
	tmpl := Template{System: "sys", User: "payload: <INPUT_JSON>"}
	got := tmpl.Render(map[string]string{PlaceholderInputJSON: `{"a":1}`})
	assert.Equal(t, "sys\n\npayload: {\"a\":1}", got)
}

func TestTemplateRenderNoSystem(t *testing.T) {
	tmpl := Template{User: "just user"}
	assert.Equal(t, "just user", tmpl.Render(nil))
}
