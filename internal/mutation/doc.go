// Package mutation implements the optimistic mutation coordinator.
//
// The coordinator keeps two things: the confirmed base snapshot (everything
// the backend has acknowledged) and the ordered list of pending records. The
// published view is always
//
//	base + derive(pending[0]) + derive(pending[1]) + ...
//
// where each record's patch is re-derived from its intent against the view
// beneath it. A record stores the intent ("like post P"), not a delta
// ("likes+1"), so when a remote event moves the base underneath a pending
// record the optimistic state is rebuilt on top of the new base instead of
// replaying a stale delta. Rolling back a failed mutation drops its record
// and re-derives the rest; when nothing else touched the entity this is
// exactly the record's Inverse patch applied to the view.
//
// Records sharing a key (the same flag, follow edge, profile or created
// entity) are serialized: only the head record of a key is dispatched, and
// the next one goes out after the head resolves. An intent that would not
// change the view is coalesced instead of recorded.
//
// Thread-safety: a Coordinator is not safe for concurrent use. The engine
// calls it only from its event loop.
package mutation
