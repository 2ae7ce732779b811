package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleTrace = []TraceEvent{
	{Seq: 1, Step: 1, Type: EventIntent, Detail: "like alice/p1"},
	{Seq: 2, Step: 1, Type: EventDispatch, Detail: "m1 flag-toggle"},
	{Seq: 3, Step: 1, Type: EventReceipt, Detail: "m1"},
	{Seq: 4, Step: 2, Type: EventResolve, Detail: "m1 fail: backend unavailable"},
	{Seq: 5, Step: 2, Type: EventFailure, Detail: "m1 flag-toggle p1: backend unavailable"},
}

func TestAssertTraceContains(t *testing.T) {
	assert.NoError(t, assertTraceContains(sampleTrace, Assertion{Event: EventFailure, Contains: "p1"}))

	err := assertTraceContains(sampleTrace, Assertion{Event: EventRedirect})
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertTraceContains, ae.Type)
	assert.Equal(t, "not found in trace", ae.Actual)
}

func TestAssertTraceCount(t *testing.T) {
	assert.NoError(t, assertTraceCount(sampleTrace, Assertion{Event: EventDispatch, Count: 1}))
	assert.NoError(t, assertTraceCount(sampleTrace, Assertion{Event: EventRedirect, Count: 0}))
	assert.Error(t, assertTraceCount(sampleTrace, Assertion{Event: EventDispatch, Contains: "m2", Count: 1}))
}

func TestAssertTraceOrder(t *testing.T) {
	tests := []struct {
		name   string
		events []string
		ok     bool
	}{
		{"in order with gaps", []string{"intent", "resolve m1 fail", "failure"}, true},
		{"type only", []string{"dispatch", "receipt"}, true},
		{"out of order", []string{"failure", "dispatch"}, false},
		{"missing", []string{"intent", "redirect"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertTraceOrder(sampleTrace, Assertion{Events: tt.events})
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestAssertionError_IncludesTrace(t *testing.T) {
	err := &AssertionError{Type: AssertTraceCount, Expected: "2", Actual: "1", Trace: sampleTrace[:2]}
	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: trace_count")
	assert.Contains(t, msg, "Expected: 2")
	assert.Contains(t, msg, "[2] dispatch m1 flag-toggle")
}

func TestAssertOrder(t *testing.T) {
	assert.NoError(t, assertOrder(AssertFeed, nil, nil))
	assert.NoError(t, assertOrder(AssertFeed, []string{}, nil))
	assert.NoError(t, assertOrder(AssertFeed, []string{"p2", "p1"}, []string{"p2", "p1"}))
	assert.Error(t, assertOrder(AssertFeed, []string{"p1", "p2"}, []string{"p2", "p1"}))
	assert.Error(t, assertOrder(AssertStories, nil, []string{"s1"}))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, int64(3), normalize(3))
	assert.Equal(t, int64(3), normalize(int64(3)))
	assert.Equal(t, "x", normalize("x"))
	assert.Equal(t, true, normalize(true))
}

func TestRenderTrace(t *testing.T) {
	r := NewResult()
	r.Trace = sampleTrace[:2]
	r.Posts = []PostState{{ID: "p1", Likes: 3}}

	want := "scenario sample\n" +
		"1 step=1 intent like alice/p1\n" +
		"2 step=1 dispatch m1 flag-toggle\n" +
		"post p1 likes=3 recasts=0 comments=0 liked=false recast=false\n"
	assert.Equal(t, want, string(RenderTrace("sample", r)))
}
