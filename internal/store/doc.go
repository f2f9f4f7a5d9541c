// Package store is the SQLite journal of reconciliation passes and posts.
//
// The journal is write-only from the engine's point of view: passes never
// read it, so a missing or corrupt journal can never change what a pass
// writes to a document. The status command reads it.
//
// Tables:
//   - passes: one row per finished pass (counts, outcome, trigger)
//   - document_updates: the owned-key changes a pass made, per document
//   - posts: messages sent into threads
//
// Ordering: passes sort by seq, the engine's logical pass number, then id.
// Timestamps are stored as RFC 3339 text for display only.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
