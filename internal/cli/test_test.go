package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const harnessScenarios = "../harness/testdata/scenarios"

const passingScenario = `name: like_counts
description: a like is counted at once
viewer: alice
seed:
  posts:
    - { id: p1, author: bob, text: hi, likes: 1 }
steps:
  - intent: { type: like, post: p1 }
assertions:
  - { type: post, id: p1, expect: { likes: 2, liked: true } }
`

const failingScenario = `name: like_ignored
description: expects the like to be ignored, which it is not
viewer: alice
seed:
  posts:
    - { id: p1, author: bob, text: hi, likes: 1 }
steps:
  - intent: { type: like, post: p1 }
assertions:
  - { type: post, id: p1, expect: { likes: 1 } }
`

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := execute(t, "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	_, err := execute(t, "test", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenarios directory not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandEmptyScenariosDir(t *testing.T) {
	out, err := execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found")
}

func TestTestCommandEmptyScenariosDirJSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "test", t.TempDir())
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestTestCommandHarnessScenarios(t *testing.T) {
	out, err := execute(t, "test", harnessScenarios)
	require.NoError(t, err, out)

	assert.Contains(t, out, "✓ failed_like_rolls_back")
	assert.Contains(t, out, "✓ stories_expire")
	assert.Contains(t, out, "Test Summary: 5 passed, 0 failed, 5 total")
}

func TestTestCommandFilter(t *testing.T) {
	out, err := execute(t, "--format", "json", "test", harnessScenarios, "--filter", "stories_*")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "stories_expire", resp.Data.Scenarios[0].Name)
}

func TestTestCommandInvalidFilter(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", passingScenario)

	_, err := execute(t, "test", dir, "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandFailingScenario(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "scenarios/like_counts.yaml", passingScenario)
	writeFile(t, dir, "scenarios/like_ignored.yaml", failingScenario)

	out, err := execute(t, "test", filepath.Join(dir, "scenarios"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✓ like_counts")
	assert.Contains(t, out, "✗ like_ignored")
	assert.Contains(t, out, "likes: want 1, got 2")
	assert.Contains(t, out, "1 passed, 1 failed, 2 total")
}

func TestTestCommandFailingScenarioJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "like_ignored.yaml", failingScenario)

	out, err := execute(t, "--format", "json", "test", dir)
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeScenario, resp.Error.Code)
}

func TestTestCommandLoadError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.yaml", "name: broken\nbogus: true\n")

	out, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
}

func TestTestCommandUpdateThenCompare(t *testing.T) {
	dir := t.TempDir()
	scenarios := filepath.Join(dir, "scenarios")
	writeFile(t, scenarios, "like_counts.yaml", passingScenario)

	out, err := execute(t, "test", scenarios, "--update")
	require.NoError(t, err, out)

	golden := filepath.Join(dir, "golden", "like_counts.golden")
	data, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Equal(t, "scenario like_counts\n"+
		"1 step=1 intent like alice/p1\n"+
		"2 step=1 dispatch m1 flag-toggle\n"+
		"3 step=1 receipt m1\n"+
		"post p1 likes=2 recasts=0 comments=0 liked=true recast=false\n", string(data))

	_, err = execute(t, "test", scenarios)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(golden, []byte("scenario like_counts\n"), 0o644))
	out, err = execute(t, "test", scenarios)
	require.Error(t, err)
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommandGoldenFlag(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "like_counts.yaml", passingScenario)
	goldenDir := filepath.Join(dir, "elsewhere")

	_, err := execute(t, "test", dir, "--update", "--golden", goldenDir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(goldenDir, "like_counts.golden"))
}
