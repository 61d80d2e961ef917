// Package store provides a SQLite-backed library of recorded sessions.
//
// The library holds:
//   - Sessions: head, default end of line and focus timeline per session
//   - Events: one row per editor event, indexed for timeline queries
//   - Blobs: content-addressed file and media payloads, shared by sessions
//   - Session blobs: which blobs each session references
//
// # Critical Patterns
//
// Deterministic Query Results
//   - Event queries MUST include: ORDER BY clock ASC, id ASC
//   - The same order the event log uses, so a loaded session replays exactly
//
// Whole-Session Writes
//   - SaveSession replaces a session's rows in one transaction
//   - Readers never see a session with half its events
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Blob hashes are computed by ir.BlobHash.
package store
