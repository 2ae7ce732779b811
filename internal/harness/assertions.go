package harness

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/feedsync/internal/entitystore"
	"github.com/roach88/feedsync/internal/model"
	"github.com/roach88/feedsync/internal/ranking"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nTrace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s\n", ev.Seq, ev.Type, ev.Detail)
		}
	}
	return buf.String()
}

func (h *Harness) evaluate(a Assertion) error {
	switch a.Type {
	case AssertPost:
		return assertPost(h.engine.Snapshot(), a, h.scenario.Viewer)
	case AssertFeed:
		mode, _ := ranking.ParseMode(a.Mode)
		var ids []string
		for _, p := range h.engine.Feed(ranking.Params{Mode: mode, Search: a.Search}) {
			ids = append(ids, p.ID)
		}
		return assertOrder(AssertFeed, a.IDs, ids)
	case AssertStories:
		var ids []string
		for _, st := range h.engine.Stories() {
			ids = append(ids, st.ID)
		}
		return assertOrder(AssertStories, a.IDs, ids)
	case AssertPending:
		ctx, cancel := callContext()
		defer cancel()
		pending, err := h.engine.Pending(ctx)
		if err != nil {
			return err
		}
		if len(pending) != a.Count {
			return &AssertionError{
				Type:     AssertPending,
				Expected: fmt.Sprintf("%d pending mutations", a.Count),
				Actual:   fmt.Sprintf("%d pending mutations", len(pending)),
			}
		}
		return nil
	case AssertTraceContains:
		return assertTraceContains(h.result.trace(), a)
	case AssertTraceCount:
		return assertTraceCount(h.result.trace(), a)
	case AssertTraceOrder:
		return assertTraceOrder(h.result.trace(), a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// postState reads a post and the viewer's flags on it.
func postState(s *entitystore.Snapshot, p model.Post, viewer string) PostState {
	return PostState{
		ID:       p.ID,
		Likes:    p.Likes,
		Recasts:  p.Recasts,
		Comments: p.Comments,
		Liked:    s.HasFlag(model.FlagKey{UserID: viewer, PostID: p.ID, Kind: model.FlagLike}),
		Recast:   s.HasFlag(model.FlagKey{UserID: viewer, PostID: p.ID, Kind: model.FlagRecast}),
	}
}

// assertPost checks the expected subset of a post's properties.
func assertPost(s *entitystore.Snapshot, a Assertion, viewer string) error {
	actual := map[string]any{"exists": false}
	if p, ok := s.Post(a.ID); ok {
		st := postState(s, p, viewer)
		actual = map[string]any{
			"exists":   true,
			"likes":    st.Likes,
			"recasts":  st.Recasts,
			"comments": st.Comments,
			"text":     p.Text,
			"author":   p.AuthorID,
			"liked":    st.Liked,
			"recast":   st.Recast,
		}
	}

	keys := make([]string, 0, len(a.Expect))
	for k := range a.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var mismatches []string
	for _, k := range keys {
		want := normalize(a.Expect[k])
		got, ok := actual[k]
		if !ok {
			mismatches = append(mismatches, fmt.Sprintf("%s: post missing", k))
			continue
		}
		if !reflect.DeepEqual(want, normalize(got)) {
			mismatches = append(mismatches, fmt.Sprintf("%s: want %v, got %v", k, want, got))
		}
	}
	if len(mismatches) > 0 {
		return &AssertionError{
			Type:     AssertPost,
			Expected: fmt.Sprintf("post %s with %v", a.ID, a.Expect),
			Actual:   strings.Join(mismatches, "; "),
		}
	}
	return nil
}

// normalize widens integers so YAML ints compare equal to counters.
func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case uint64:
		return int64(n)
	}
	return v
}

func assertOrder(typ string, want, got []string) error {
	if len(want) == 0 && len(got) == 0 {
		return nil
	}
	if !reflect.DeepEqual(want, got) {
		return &AssertionError{
			Type:     typ,
			Expected: fmt.Sprintf("%v", want),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

func matches(ev TraceEvent, typ, contains string) bool {
	return ev.Type == typ && strings.Contains(ev.Detail, contains)
}

func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if matches(ev, a.Event, a.Contains) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("%s event containing %q", a.Event, a.Contains),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if matches(ev, a.Event, a.Contains) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d %s events containing %q", a.Count, a.Event, a.Contains),
			Actual:   fmt.Sprintf("%d", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertTraceOrder checks that the events appear in order. Other events may
// appear between them.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, ev := range trace {
		if next == len(a.Events) {
			break
		}
		typ, contains, _ := strings.Cut(a.Events[next], " ")
		if matches(ev, typ, contains) {
			next++
		}
	}
	if next < len(a.Events) {
		return &AssertionError{
			Type:     AssertTraceOrder,
			Expected: strings.Join(a.Events, " -> "),
			Actual:   fmt.Sprintf("no %q after the first %d", a.Events[next], next),
			Trace:    trace,
		}
	}
	return nil
}
