package ir

import (
	"fmt"
	"time"
)

// ClockRange is a span on the session timeline, in seconds.
type ClockRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Contains reports whether clock lies in [Start, End).
func (r ClockRange) Contains(clock float64) bool {
	return clock >= r.Start && clock < r.End
}

// Duration returns End - Start.
func (r ClockRange) Duration() float64 {
	return r.End - r.Start
}

// TrackType identifies a media track kind.
type TrackType string

const (
	TrackAudio TrackType = "audio"
	TrackVideo TrackType = "video"
)

// MediaTrack describes an audio or video track placed on the timeline.
// The payload is a blob in the session's blob store.
type MediaTrack struct {
	ID         string     `json:"id"`
	Type       TrackType  `json:"type"`
	Title      string     `json:"title,omitempty"`
	ClockRange ClockRange `json:"clock_range"`
	File       FileRef    `json:"file"`
}

// SessionHead is the persisted session summary.
type SessionHead struct {
	ID            string       `json:"id"`
	Title         string       `json:"title"`
	Description   string       `json:"description,omitempty"`
	Author        string       `json:"author,omitempty"`
	Duration      float64      `json:"duration"`
	FormatVersion int          `json:"format_version"`
	BodyDigest    string       `json:"body_digest,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	ModifiedAt    time.Time    `json:"modified_at"`
	AudioTracks   []MediaTrack `json:"audio_tracks"`
	VideoTracks   []MediaTrack `json:"video_tracks"`
}

// Tracks returns audio tracks followed by video tracks.
func (h *SessionHead) Tracks() []MediaTrack {
	out := make([]MediaTrack, 0, len(h.AudioTracks)+len(h.VideoTracks))
	out = append(out, h.AudioTracks...)
	out = append(out, h.VideoTracks...)
	return out
}

// Validate checks head invariants.
func (h *SessionHead) Validate() error {
	if h.ID == "" {
		return fmt.Errorf("session head: missing id")
	}
	if h.Duration < 0 {
		return fmt.Errorf("session head: negative duration %v", h.Duration)
	}
	if h.FormatVersion != FormatVersion {
		return fmt.Errorf("session head: unsupported format version %d", h.FormatVersion)
	}
	for _, t := range h.Tracks() {
		if t.ClockRange.End < t.ClockRange.Start {
			return fmt.Errorf("session head: track %s has an inverted clock range", t.ID)
		}
		if err := t.File.Validate(); err != nil {
			return fmt.Errorf("session head: track %s: %w", t.ID, err)
		}
	}
	return nil
}

// DocumentFocus records which document was in focus from Clock on.
type DocumentFocus struct {
	Clock float64 `json:"clock"`
	URI   string  `json:"uri"`
}

// LineFocus records which line was in focus from Clock on.
type LineFocus struct {
	Clock float64 `json:"clock"`
	URI   string  `json:"uri"`
	Line  int     `json:"line"`
	Text  string  `json:"text"`
}

// FocusTimeline is auxiliary UI metadata; it plays no part in replay.
type FocusTimeline struct {
	Documents []DocumentFocus `json:"documents"`
	Lines     []LineFocus     `json:"lines"`
}

// SessionBody is the full persisted session content.
type SessionBody struct {
	FormatVersion int           `json:"format_version"`
	DefaultEOL    EndOfLine     `json:"default_eol"`
	Events        []Event       `json:"events"`
	Focus         FocusTimeline `json:"focus"`
}
