// Package ranking orders and filters posts for presentation.
//
// Rank is a pure function of a snapshot and view parameters. It never
// mutates the snapshot, and "now" is sampled once per call so that the
// comparator stays transitive. Identical inputs produce identical output.
//
// Pipeline steps, in order:
//  1. Scope filter: ModeFollowing keeps posts by the viewer and by users the
//     viewer follows; other modes keep every post.
//  2. Order: ModeLatest sorts by creation time, newest first. ModeForYou sorts
//     by Score, highest first, then newest first. Remaining ties go to the
//     lower id.
//  3. Text filter: a case-folded substring match against the post text or
//     its author's display name. Applied after ordering, so survivors keep
//     their relative order.
package ranking
