// Package harness runs feed synchronization scenarios against a real engine.
//
// A scenario seeds an in-memory backend, then drives the engine step by step:
// intents are submitted, dispatched operations are resolved by hand, stream
// events are merged, and the virtual clock is advanced. Every observable
// outcome is recorded in a trace that can be compared against a golden file.
//
// # Scenario Format
//
//	name: failed_like_rolls_back
//	description: "A like the backend refuses is rolled back"
//	viewer: alice
//	now: 2026-03-01T12:00:00Z
//	seed:
//	  users:
//	    - { id: alice, display_name: Alice, handle: alice }
//	  posts:
//	    - { id: p1, author: bob, text: hello, likes: 3, age: 1h }
//	steps:
//	  - intent: { type: like, post: p1 }
//	    assert:
//	      - { type: post, id: p1, expect: { likes: 4, liked: true } }
//	  - resolve: { mutation: m1, outcome: fail }
//	assertions:
//	  - { type: post, id: p1, expect: { likes: 3, liked: false } }
//	  - { type: trace_count, event: failure, count: 1 }
//
// # Steps
//
// Each step performs exactly one action, optionally followed by assertions
// evaluated right after it:
//
//   - intent: submit a user action (like, unlike, recast, unrecast, follow,
//     unfollow, post, story, comment, profile). reject names the validation
//     code the intent is expected to fail with.
//   - resolve: complete a dispatched mutation. outcome ok performs the
//     operation against the backend and reports its authoritative patches;
//     outcome fail reports error (unavailable, unauthorized or rejected).
//   - event: a change made on the server by someone else. It is applied to
//     the backend and merged as a stream event.
//   - advance: move the virtual clock forward.
//   - reconcile: refetch the backend state.
//
// # Assertion Types
//
//   - post: subset match on a post's counters, text, author, existence and
//     the viewer's like and recast flags
//   - feed: the ranked order for a mode and optional search
//   - stories: the ids of the visible stories, in display order
//   - pending: the number of pending mutations
//   - trace_contains, trace_count, trace_order: checks on the recorded trace
//
// # Deterministic Testing
//
// Every run uses a virtual clock starting at the scenario's now, sequential
// mutation ids (m1, m2, ...) and temporary ids (tmp_1, tmp_2, ...), and an
// engine with the event stream and periodic reconciliation disabled, so the
// trace is identical across runs.
package harness
