// Package remote defines the capability interface the engine consumes from a
// backend, plus the adapters that implement it.
//
// The engine depends only on Backend. Adapters:
//   - HTTPPerformer: JSON mutation calls over net/http with a bearer token
//   - WSSubscriber: JSON change events over a websocket, reconnecting on drop
//   - Memory: an in-process backend for tests, demos and scenarios
//   - Composite: assembles a Backend from independent parts
//
// Delivery guarantees of the event stream are weak on purpose: events are
// at-least-once and ordered per entity only, and events missed while
// disconnected are never replayed. Callers heal staleness with FetchAll.
package remote
