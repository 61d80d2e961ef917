// Package engine drives playback of a recorded session.
//
// A Player owns a workspace and an Adapter that mirrors the workspace into a
// host. Seek requests are queued and executed by a single worker goroutine
// (Player.Run), one at a time.
//
// ARCHITECTURE:
//
// Latest-Wins Seek Queue:
// At most one seek request waits for the worker. A request that arrives
// while another is waiting replaces it, and the replaced request resolves
// with OutcomeSuperseded. Scrubbing a timeline therefore never builds a
// backlog.
//
// Seek Strategies:
//  1. Step-wise: each event is applied to the workspace, then mirrored by
//     Adapter.ApplySeekStep
//  2. Wholesale: all events are applied to the workspace, then the touched
//     URIs are mirrored by a single Adapter.Sync
//
// Wholesale is used when a seek has more steps than the step threshold and
// the caller did not ask for the stepper.
//
// CRITICAL PATTERNS:
//
// Request Sequencing:
// Seek requests are stamped with a monotonic seq from Clock.Next(). The seq
// identifies requests in logs and results; it never orders workspace state.
//
// Adapter Failure Recovery:
// A failed adapter call does not stop the workspace from reaching the seek
// target. The URIs the host missed are kept and synced again by RetrySync
// or by the next wholesale seek.
package engine
