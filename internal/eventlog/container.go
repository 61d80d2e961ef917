// Package eventlog holds the ordered event log of a session.
//
// Events are kept in global (clock, id) order with a per-URI index for
// filtered range queries. Range lookups are binary searches.
package eventlog

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/roach88/codetape/internal/ir"
)

var (
	// ErrNotRecording is returned by Append outside a recording.
	ErrNotRecording = errors.New("event log is not recording")

	// ErrClockRegression is returned when an appended event is older than the
	// last event for the same URI.
	ErrClockRegression = errors.New("event clock goes backwards")

	// ErrDuplicateID is returned when inserted events share an id.
	ErrDuplicateID = errors.New("duplicate event id")
)

// Container is the session's event log. It is safe for concurrent use; the
// event values it returns share payload pointers with the log and must be
// treated as read-only.
type Container struct {
	mu        sync.RWMutex
	events    []ir.Event
	byURI     map[string][]ir.Event
	ids       map[int64]struct{}
	nextID    int64
	recording bool
}

// New returns an empty container.
func New() *Container {
	return &Container{
		events: []ir.Event{},
		byURI:  make(map[string][]ir.Event),
		ids:    make(map[int64]struct{}),
		nextID: 1,
	}
}

// FromEvents builds a container from events in any order.
func FromEvents(events []ir.Event) (*Container, error) {
	c := New()
	if err := c.Insert(events...); err != nil {
		return nil, err
	}
	return c, nil
}

func compareEvents(a, b ir.Event) int {
	if n := cmp.Compare(a.Clock, b.Clock); n != 0 {
		return n
	}
	return cmp.Compare(a.ID, b.ID)
}

// Insert bulk loads events. Events are validated and sorted; ids must be
// unique across the log.
func (c *Container) Insert(events ...ir.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[int64]struct{}, len(events))
	for i := range events {
		if err := events[i].Validate(); err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		id := events[i].ID
		if _, dup := c.ids[id]; dup {
			return fmt.Errorf("insert: %w: %d", ErrDuplicateID, id)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("insert: %w: %d", ErrDuplicateID, id)
		}
		seen[id] = struct{}{}
	}

	for _, ev := range events {
		c.ids[ev.ID] = struct{}{}
		if ev.ID >= c.nextID {
			c.nextID = ev.ID + 1
		}
		c.events = append(c.events, ev)
		c.byURI[ev.URI] = append(c.byURI[ev.URI], ev)
	}
	slices.SortStableFunc(c.events, compareEvents)
	for uri := range c.byURI {
		slices.SortStableFunc(c.byURI[uri], compareEvents)
	}
	return nil
}

// StartRecording enables Append.
func (c *Container) StartRecording() {
	c.mu.Lock()
	c.recording = true
	c.mu.Unlock()
}

// StopRecording disables Append.
func (c *Container) StopRecording() {
	c.mu.Lock()
	c.recording = false
	c.mu.Unlock()
}

// IsRecording reports whether Append is enabled.
func (c *Container) IsRecording() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.recording
}

// Append adds a newly recorded event, assigning it the next id. The stored
// event is returned.
func (c *Container) Append(ev ir.Event) (ir.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.recording {
		return ir.Event{}, ErrNotRecording
	}
	if list := c.byURI[ev.URI]; len(list) > 0 && ev.Clock < list[len(list)-1].Clock {
		return ir.Event{}, fmt.Errorf("%w: %s at %g after %g", ErrClockRegression, ev.URI, ev.Clock, list[len(list)-1].Clock)
	}
	ev.ID = c.nextID
	if err := ev.Validate(); err != nil {
		return ir.Event{}, fmt.Errorf("append: %w", err)
	}
	c.nextID++
	c.ids[ev.ID] = struct{}{}

	// New ids are the largest, so the insertion point only depends on clock.
	i := sort.Search(len(c.events), func(i int) bool { return c.events[i].Clock > ev.Clock })
	c.events = slices.Insert(c.events, i, ev)
	c.byURI[ev.URI] = append(c.byURI[ev.URI], ev)
	return ev, nil
}

// Len returns the number of events.
func (c *Container) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.events)
}

// At returns the i-th event in global order.
func (c *Container) At(i int) ir.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.events[i]
}

// Events returns a copy of the log in global order.
func (c *Container) Events() []ir.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.events)
}

// Slice returns a copy of events [from, to) in global order.
func (c *Container) Slice(from, to int) []ir.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.events[from:to])
}

// UpperBound returns the number of events with clock <= clock.
func (c *Container) UpperBound(clock float64) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sort.Search(len(c.events), func(i int) bool { return c.events[i].Clock > clock })
}

// EventsInRange returns the events between start and end in (clock, id)
// order. An empty uri selects all URIs.
func (c *Container) EventsInRange(uri string, start, end float64, inclusiveStart, inclusiveEnd bool) []ir.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()

	list := c.events
	if uri != "" {
		list = c.byURI[uri]
	}
	lo := sort.Search(len(list), func(i int) bool {
		if inclusiveStart {
			return list[i].Clock >= start
		}
		return list[i].Clock > start
	})
	hi := sort.Search(len(list), func(i int) bool {
		if inclusiveEnd {
			return list[i].Clock > end
		}
		return list[i].Clock >= end
	})
	if hi <= lo {
		return []ir.Event{}
	}
	return slices.Clone(list[lo:hi])
}

// URIs returns every URI that has events, sorted.
func (c *Container) URIs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.byURI))
	for uri := range c.byURI {
		out = append(out, uri)
	}
	slices.Sort(out)
	return out
}

// Duration returns the clock of the last event, or zero for an empty log.
func (c *Container) Duration() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.events) == 0 {
		return 0
	}
	return c.events[len(c.events)-1].Clock
}

// CountsByType returns the number of events per type.
func (c *Container) CountsByType() map[ir.EventType]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[ir.EventType]int)
	for _, ev := range c.events {
		out[ev.Type]++
	}
	return out
}

// MarshalJSON encodes the log as an array of events in global order.
func (c *Container) MarshalJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c.events)
}

// UnmarshalJSON replaces the log with the decoded array.
func (c *Container) UnmarshalJSON(data []byte) error {
	var events []ir.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return err
	}
	fresh := New()
	if err := fresh.Insert(events...); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = fresh.events
	c.byURI = fresh.byURI
	c.ids = fresh.ids
	c.nextID = fresh.nextID
	return nil
}
