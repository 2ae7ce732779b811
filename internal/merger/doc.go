// Package merger folds the backend's change stream into the confirmed base.
//
// Delivery is at-least-once and ordered per entity only, so every event is
// turned into an absolute, idempotent patch:
//   - duplicates re-apply the same values and change nothing
//   - an update before its insert materializes the entity, and the late
//     insert merges into it
//   - deletes of absent ids are no-ops, and leave a tombstone so a
//     redelivered insert cannot resurrect the entity
//   - an event whose rev is not newer than the stored one is dropped
//
// Malformed events are logged and skipped. They never stop the stream.
package merger
