package ir

// Version constants for the session format and engine.
const (
	// FormatVersion is the session body/head schema version.
	FormatVersion = 1

	// EngineVersion is the codetape engine version.
	EngineVersion = "0.1.0"
)
