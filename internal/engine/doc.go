// Package engine implements scene–thread reconciliation.
//
// A reconciliation pass compares every scene document with the live state
// of its remote thread and rewrites the two fields the engine owns,
// "Replied?" and "Participants". Nothing else in a document is touched.
//
// ARCHITECTURE:
//
// Single-Consumer Trigger Loop:
// Passes are requested by triggers (timer tick, manual command, document
// change) delivered through one intake queue. Engine.Run consumes the
// queue in a single goroutine, so two passes never overlap inside one
// process. Passes started from separate processes may overlap; that is
// tolerated because every write is an unconditional overwrite of the owned
// keys computed from freshly fetched state.
//
// Pass Stages (Reconciler.Pass):
//  1. Resolve identity (cached). No identity: the pass ends quietly.
//  2. Fetch the linked-thread batch. Empty: the pass ends with zero updates.
//  3. Index the batch by NFC-normalized document path.
//  4. For each document: re-validate liveness, query the thread state
//     (via the batch record or the document's own Link), compute and apply
//     mutations. Failures are logged and the pass moves on.
//  5. Report the number of documents updated.
//
// INVARIANTS:
//   - Idempotence: a second pass against unchanged remote state writes nothing.
//   - Documents with "Is Active?: false" are never written.
//   - An untracked thread causes no write at all.
//   - Each changed document counts once, however many of its keys changed.
package engine
