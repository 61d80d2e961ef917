package cli

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/codetape/internal/ir"
	"github.com/roach88/codetape/internal/sessionio"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Events bool   // include the event timeline
	URI    string // filter the timeline to one URI
}

// TimelineEntry is one event in the inspect timeline.
type TimelineEntry struct {
	ID    int64   `json:"id"`
	Clock float64 `json:"clock"`
	Type  string  `json:"type"`
	URI   string  `json:"uri"`
}

// TrackInfo summarizes a media track.
type TrackInfo struct {
	ID    string  `json:"id"`
	Type  string  `json:"type"`
	Title string  `json:"title,omitempty"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// InspectResult is the summary of a session.
type InspectResult struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Description  string          `json:"description,omitempty"`
	Author       string          `json:"author,omitempty"`
	Duration     float64         `json:"duration"`
	DefaultEOL   string          `json:"default_eol"`
	CreatedAt    time.Time       `json:"created_at"`
	ModifiedAt   time.Time       `json:"modified_at"`
	Events       int             `json:"events"`
	Counts       map[string]int  `json:"counts"`
	URIs         []string        `json:"uris"`
	Tracks       []TrackInfo     `json:"tracks"`
	Blobs        int             `json:"blobs"`
	MissingBlobs []string        `json:"missing_blobs,omitempty"`
	Timeline     []TimelineEntry `json:"timeline,omitempty"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect <session>",
		Short: "Summarize a recorded session",
		Long: `Summarize a session directory: its head, the number of events of each
type, the URIs it touches, its media tracks and its blobs.

The output includes:
- Head: id, title, duration and timestamps
- Counts: events per type
- Blobs: referenced blobs, and any missing from the session's blob store
- Timeline: every event (with --events)

Examples:
  codetape inspect ./talk.session
  codetape inspect ./talk.session --events --uri workspace:main.go
  codetape inspect ./talk.session --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Events, "events", false, "list every event")
	cmd.Flags().StringVar(&opts.URI, "uri", "", "only list events for this URI")

	return cmd
}

func runInspect(opts *InspectOptions, dir string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	ls, err := loadSession(dir)
	if err != nil {
		return reportLoadError(f, err)
	}
	result := buildInspectResult(ls, opts)

	if f.IsJSON() {
		return f.Success(result)
	}
	outputInspectText(cmd, result)
	return nil
}

func buildInspectResult(ls *loadedSession, opts *InspectOptions) InspectResult {
	head := ls.Session.Head
	result := InspectResult{
		ID:          head.ID,
		Title:       head.Title,
		Description: head.Description,
		Author:      head.Author,
		Duration:    head.Duration,
		DefaultEOL:  ls.Session.Body.DefaultEOL.String(),
		CreatedAt:   head.CreatedAt,
		ModifiedAt:  head.ModifiedAt,
		Events:      ls.Log.Len(),
		Counts:      make(map[string]int),
		URIs:        ls.Log.URIs(),
		Tracks:      []TrackInfo{},
	}
	for typ, n := range ls.Log.CountsByType() {
		result.Counts[typ.String()] = n
	}
	for _, t := range head.Tracks() {
		result.Tracks = append(result.Tracks, TrackInfo{
			ID:    t.ID,
			Type:  string(t.Type),
			Title: t.Title,
			Start: t.ClockRange.Start,
			End:   t.ClockRange.End,
		})
	}

	hashes := sessionio.ReferencedBlobs(ls.Session)
	result.Blobs = len(hashes)
	for _, h := range hashes {
		if !ls.Blobs.Has(h) {
			result.MissingBlobs = append(result.MissingBlobs, h)
		}
	}

	if opts.Events || opts.URI != "" {
		uri := ""
		if opts.URI != "" {
			uri = ir.NormalizeURI(opts.URI)
		}
		for _, ev := range ls.Log.Events() {
			if uri != "" && ev.URI != uri {
				continue
			}
			result.Timeline = append(result.Timeline, TimelineEntry{
				ID:    ev.ID,
				Clock: ev.Clock,
				Type:  ev.Type.String(),
				URI:   ev.URI,
			})
		}
	}
	return result
}

func outputInspectText(cmd *cobra.Command, result InspectResult) {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Session: %s\n", result.ID)
	if result.Title != "" {
		fmt.Fprintf(w, "  Title: %s\n", result.Title)
	}
	if result.Author != "" {
		fmt.Fprintf(w, "  Author: %s\n", result.Author)
	}
	fmt.Fprintf(w, "  Duration: %.3fs\n", result.Duration)
	fmt.Fprintf(w, "  Line endings: %s\n", result.DefaultEOL)
	fmt.Fprintf(w, "  Modified: %s\n", result.ModifiedAt.Format(time.RFC3339))
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Events: %d\n", result.Events)
	for _, name := range slices.Sorted(maps.Keys(result.Counts)) {
		fmt.Fprintf(w, "  %-18s %d\n", name, result.Counts[name])
	}

	fmt.Fprintf(w, "URIs: %d\n", len(result.URIs))
	for _, uri := range result.URIs {
		fmt.Fprintf(w, "  %s\n", uri)
	}

	if len(result.Tracks) > 0 {
		fmt.Fprintf(w, "Tracks: %d\n", len(result.Tracks))
		for _, t := range result.Tracks {
			fmt.Fprintf(w, "  %s %s [%g, %g)\n", t.Type, t.ID, t.Start, t.End)
		}
	}

	if len(result.MissingBlobs) > 0 {
		fmt.Fprintf(w, "✗ Blobs: %d referenced, %d missing\n", result.Blobs, len(result.MissingBlobs))
		for _, h := range result.MissingBlobs {
			fmt.Fprintf(w, "  %s\n", h)
		}
	} else {
		fmt.Fprintf(w, "✓ Blobs: %d referenced\n", result.Blobs)
	}

	if len(result.Timeline) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Timeline:")
		for _, e := range result.Timeline {
			fmt.Fprintf(w, "  #%-4d %9.3f  %-18s %s\n", e.ID, e.Clock, e.Type, e.URI)
		}
	}
}
