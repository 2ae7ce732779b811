package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_GoldenScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			require.Equal(t, name, scenario.Name, "file name must match scenario name")

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func mustParse(t *testing.T, yaml string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(yaml))
	require.NoError(t, err)
	return s
}

func TestRun_ReportsFailedAssertions(t *testing.T) {
	s := mustParse(t, `
name: wrong_expectation
description: the like is counted, not ignored
viewer: alice
seed:
  posts:
    - { id: p1, author: bob, text: hi, likes: 2 }
steps:
  - intent: { type: like, post: p1 }
    assert:
      - { type: post, id: p1, expect: { likes: 2 } }
assertions:
  - { type: pending, count: 0 }
`)
	result, err := Run(s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "step 1")
	assert.Contains(t, result.Errors[0], "likes: want 2, got 3")
	assert.Contains(t, result.Errors[1], "1 pending mutations")
}

func TestRun_UnexpectedRejection(t *testing.T) {
	s := mustParse(t, `
name: unexpected
description: a valid post is not rejected
viewer: alice
steps:
  - intent: { type: post, text: fine, reject: TEXT_TOO_LONG }
  - intent: { type: post, text_length: 600 }
assertions:
  - { type: pending, count: 1 }
`)
	result, err := Run(s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "accepted, want rejection TEXT_TOO_LONG")
	assert.Contains(t, result.Errors[1], `rejected with TEXT_TOO_LONG, want ""`)
}

func TestRun_QueuedToggleSupersededAndCoalesced(t *testing.T) {
	s := mustParse(t, `
name: toggles
description: a like, unlike and like again while the first is in flight
viewer: alice
seed:
  posts:
    - { id: p1, author: bob, text: hi, likes: 5 }
steps:
  - intent: { type: like, post: p1 }
  - intent: { type: unlike, post: p1 }
    assert:
      - { type: post, id: p1, expect: { likes: 5, liked: false } }
      - { type: pending, count: 2 }
  - intent: { type: like, post: p1 }
    assert:
      - { type: post, id: p1, expect: { likes: 6, liked: true } }
      - { type: pending, count: 1 }
  - resolve: { mutation: m1, outcome: ok }
assertions:
  - { type: post, id: p1, expect: { likes: 6, liked: true } }
  - { type: pending, count: 0 }
  - { type: trace_count, event: dispatch, count: 1 }
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, []PostState{{ID: "p1", Likes: 6, Liked: true}}, result.Posts)
}

func TestRun_ResolveUndispatchedMutation(t *testing.T) {
	s := mustParse(t, `
name: undispatched
description: resolving an unknown mutation is traced, not fatal
viewer: alice
steps:
  - resolve: { mutation: m9, outcome: ok }
assertions:
  - { type: trace_contains, event: error, contains: "m9: not dispatched" }
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_StaleEventDropped(t *testing.T) {
	s := mustParse(t, `
name: stale
description: an event older than the stored revision changes nothing
viewer: alice
seed:
  posts:
    - { id: p1, author: bob, text: hi, likes: 1 }
steps:
  - event: { kind: update, type: post, id: p1, rev: 5, fields: { likes: 9 } }
  - event: { kind: update, type: post, id: p1, rev: 4, fields: { likes: 2 } }
  - event: { kind: update, type: gadget, id: g1 }
assertions:
  - { type: post, id: p1, expect: { likes: 9 } }
  - type: trace_order
    events: ["event p1 applied", "event p1 dropped", "event UNKNOWN_ENTITY_TYPE"]
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_DeleteTombstonesPost(t *testing.T) {
	s := mustParse(t, `
name: delete
description: a deleted post never comes back
viewer: alice
seed:
  posts:
    - { id: p1, author: bob, text: hi }
    - { id: p2, author: bob, text: there, age: 1h }
steps:
  - event: { kind: delete, type: post, id: p1 }
  - event: { kind: insert, type: post, id: p1, fields: { author_id: bob, text: back } }
  - reconcile: true
assertions:
  - { type: post, id: p1, expect: { exists: false } }
  - { type: feed, mode: latest, ids: [p2] }
  - { type: trace_contains, event: reconcile, contains: ok }
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}
