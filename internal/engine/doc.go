// Package engine runs the feed state core on a single-writer event loop.
//
// ARCHITECTURE:
//
// Every change to the entity store happens on one goroutine, the loop in
// Engine.Run. Other goroutines only enqueue tasks:
//   - Submit enqueues a user intent and waits for its receipt
//   - a dispatched remote operation runs on its own goroutine and enqueues
//     its completion
//   - the event stream goroutine enqueues each change notification
//   - timers (story refresh, persistence debounce, periodic reconcile)
//     enqueue their callbacks
//
// Tasks run in FIFO order, so the interleaving of asynchronous completions is
// decided by arrival at the queue and the coordinator's per-key ordering,
// never by which goroutine happened to hold a lock.
//
// Readers (Snapshot, Feed, Stories, Subscribe) may run on any goroutine. They
// read the atomically published snapshot and never observe a half-applied
// batch.
//
// A failing task is logged and the loop continues: a malformed event or a
// lost completion must not take the engine down.
package engine
