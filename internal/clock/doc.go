// Package clock provides the time sources and scheduled tasks used by the
// feed engine.
//
// Two kinds of time exist in the engine:
//
//   - Logical time: Sequence hands out strictly increasing version numbers for
//     published snapshots. Ordering decisions never depend on wall time.
//   - Scheduled time: Clock exposes Now and AfterFunc. Wall is backed by the
//     time package; Virtual only moves when Advance is called, so tests can
//     drive story pruning, debounce windows and reconciliation ticks without
//     sleeping.
//
// Every timer returns a Timer handle so that periodic and debounced work can
// be cancelled explicitly.
package clock
