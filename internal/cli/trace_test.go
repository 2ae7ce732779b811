package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/feedsync/internal/harness"
)

func TestTraceCommandText(t *testing.T) {
	out, err := execute(t, "trace", filepath.Join(harnessScenarios, "failed_like_rolls_back.yaml"))
	require.NoError(t, err)

	assert.Contains(t, out, "Trace for scenario: failed_like_rolls_back")
	assert.Contains(t, out, "Status: Pass")
	assert.Contains(t, out, "[2] DISPATCH  m1 flag-toggle")
	assert.Contains(t, out, "[5] FAILURE   m1 flag-toggle p1: backend unavailable")
	assert.Contains(t, out, "  p1 likes=3 recasts=0 comments=0\n")
	assert.Contains(t, out, "failure:   1")
}

func TestTraceCommandJSONFiltered(t *testing.T) {
	out, err := execute(t, "--format", "json", "trace",
		filepath.Join(harnessScenarios, "failed_like_rolls_back.yaml"),
		"--type", "dispatch", "--type", "failure")
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Pass)
	require.Len(t, resp.Data.Timeline, 2)
	assert.Equal(t, harness.EventDispatch, resp.Data.Timeline[0].Type)
	assert.Equal(t, harness.EventFailure, resp.Data.Timeline[1].Type)
	assert.Equal(t, map[string]int{"dispatch": 1, "failure": 1}, resp.Data.Stats)
}

func TestTraceCommandMissingFile(t *testing.T) {
	_, err := execute(t, "trace", "/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestFilterTimeline(t *testing.T) {
	trace := []harness.TraceEvent{
		{Seq: 1, Step: 1, Type: harness.EventIntent},
		{Seq: 2, Step: 1, Type: harness.EventDispatch},
		{Seq: 3, Step: 2, Type: harness.EventResolve},
		{Seq: 4, Step: 2, Type: harness.EventFailure},
	}

	assert.Len(t, filterTimeline(trace, nil, 0), 4)
	assert.Equal(t, []harness.TraceEvent{trace[2], trace[3]}, filterTimeline(trace, nil, 2))
	assert.Equal(t, []harness.TraceEvent{trace[3]}, filterTimeline(trace, []string{"failure", "intent"}, 2))
	assert.Empty(t, filterTimeline(trace, []string{"redirect"}, 0))
}

func TestViewerMarks(t *testing.T) {
	assert.Equal(t, "", viewerMarks(harness.PostState{}))
	assert.Equal(t, " [liked,recast]", viewerMarks(harness.PostState{Liked: true, Recast: true}))
}
