// Package ir provides the canonical value types of a recorded coding session.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal. This keeps the event model the
// foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Positions count characters in UTF-16 code units, as host editors do
//   - Every event with side effects carries its own reverse data
//   - All JSON tags use snake_case; event type names keep their camelCase tags
//   - Clocks are float seconds since session start, shared by all tracks
package ir
