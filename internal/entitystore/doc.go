// Package entitystore holds the canonical, immutable view of every known
// entity.
//
// A Snapshot is a value: Apply returns a new Snapshot and never modifies the
// receiver, so a reader holding an older snapshot (for example the ranking
// pipeline mid-render) is never disturbed. Only the maps a batch touches are
// copied.
//
// Apply rules:
//   - Insert onto an existing id merges like an update.
//   - Update onto an unknown id materializes the entity.
//   - Remove of an absent id is a no-op.
//   - A tombstoned id ignores every later insert and update.
//   - A patch whose Rev is not newer than the stored rev is dropped.
//   - A batch that changes nothing returns the receiver itself.
//
// Store publishes the current snapshot through an atomic pointer, stamps
// each published snapshot with the next logical version and notifies
// subscribers. Encode and Decode persist snapshots as canonical JSON.
package entitystore
