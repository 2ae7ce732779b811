// Package config loads the feedsync configuration.
//
// A YAML file is validated against an embedded CUE schema (closed, so a
// misspelled key is an error rather than a silently ignored setting) and
// then overlaid on Default. Semantic checks that CUE cannot express, such as
// durations being positive, run last.
//
// Example:
//
//	viewer_id: alice
//	backend:
//	  api_url: https://api.example.com
//	  stream_url: wss://api.example.com/events
//	snapshot:
//	  driver: sqlite
//	  dsn: feedsync.db
//	timing:
//	  persist_debounce: 200ms
//	stories:
//	  retention: soft
package config
