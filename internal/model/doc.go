// Package model defines the feed's entities and the patches that change them.
//
// Entities are plain values: User, Post, Story, Comment, and the two
// relationship keys FlagKey (like/recast) and FollowKey. A Patch is the only
// way state changes: one operation (insert, update, remove) on one entity,
// carrying only the fields it sets. Patches hold absolute values, never
// deltas, which is what makes re-applying one harmless.
//
// The package also owns the validation limits for user-authored content,
// the canonical JSON encoding used for durable snapshots and golden traces,
// and the id generators for mutations and optimistic entities.
package model
