// Package persist writes the confirmed entity store to durable storage.
//
// Bridge debounces saves: every change restarts a quiet-period timer and the
// snapshot is written only when the timer fires, so a burst of changes costs
// one write. Load reads the snapshot back at startup and falls back to an
// empty store on any failure (missing, corrupt, older or newer schema).
//
// SQLSink is the durable blob store. It speaks SQLite through mattn/go-sqlite3
// for local use and PostgreSQL through pgx's database/sql driver.
package persist
