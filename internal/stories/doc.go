// Package stories derives the currently visible stories and refreshes them
// on a fixed cadence.
//
// A story is visible while its expiry is strictly after now. Expired stories
// are hidden by recomputation; whether they are also removed from the
// confirmed base is the retention policy:
//   - RetentionSoft (default): expired stories stay in the store and in the
//     persisted snapshot, queryable for audit, just never shown
//   - RetentionPurge: each refresh removes expired stories from the base
//     with a tombstone, matching a hard-deleting backend
package stories
