package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCommandValidConfig(t *testing.T) {
	path := writeFile(t, t.TempDir(), "feedsync.yaml", "viewer_id: alice\nstories:\n  retention: purge\n")

	out, err := execute(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ 1 file(s) valid")
}

func TestValidateCommandUsesConfigFlag(t *testing.T) {
	path := writeFile(t, t.TempDir(), "feedsync.yaml", "log_level: debug\n")

	out, err := execute(t, "--config", path, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ 1 file(s) valid")
}

func TestValidateCommandNoFiles(t *testing.T) {
	_, err := execute(t, "validate")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidateCommandInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.yaml", "viewer_id: alice\n")
	bad := writeFile(t, dir, "bad.yaml", "stories:\n  retention: archive\n")

	out, err := execute(t, "validate", good, bad)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, bad)
	assert.Contains(t, out, "E_CONFIG: stories.retention:")
	assert.NotContains(t, out, good)
}

func TestValidateCommandInvalidConfigJSON(t *testing.T) {
	bad := writeFile(t, t.TempDir(), "bad.yaml", "timing:\n  story_ttl: forever\n")

	out, err := execute(t, "--format", "json", "validate", bad)
	require.Error(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	require.Len(t, resp.Data.Errors, 1)
	assert.Equal(t, "timing.story_ttl", resp.Data.Errors[0].Field)
	assert.Equal(t, ErrCodeConfig, resp.Data.Errors[0].Code)
}

func TestValidateCommandScenarios(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(harnessScenarios, "stories_expire.yaml")
	bad := writeFile(t, dir, "bad.yaml", "name: bad\ndescription: no viewer\n")

	out, err := execute(t, "validate", "--scenarios", good)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ 1 file(s) valid")

	out, err = execute(t, "validate", "--scenarios", good, bad)
	require.Error(t, err)
	assert.Contains(t, out, "E_SCENARIO")
	assert.Contains(t, out, "viewer is required")
}
