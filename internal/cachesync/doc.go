// Package cachesync keeps a cheap, always-readable snapshot of agent
// transcripts consistent with the dispatch engine's authoritative copy.
//
// UI edits are applied optimistically to the snapshot and queued; the engine
// drains the queue through ReconciliationListener before any cache-sensitive
// request, and SnapshotListener overwrites the snapshot whenever the engine
// reports a new authoritative transcript.
package cachesync
