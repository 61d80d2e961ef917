package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/codetape/internal/ir"
)

// Scenario defines a seek scenario.
// A scenario records a list of editor events, replays the resulting session
// through a player with a sequence of seeks, and checks the state after each
// seek and the assertions at the end.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// DefaultEOL is the end of line for documents created without one.
	// Defaults to "lf".
	DefaultEOL string `yaml:"default_eol,omitempty"`

	// StepThreshold is the player's wholesale threshold. Nil means the
	// player default.
	StepThreshold *int `yaml:"step_threshold,omitempty"`

	// Blobs names file contents that fsCreate events refer to with file.
	Blobs map[string]string `yaml:"blobs,omitempty"`

	// Events are recorded in order, the way a live recording would.
	Events []EventStep `yaml:"events"`

	// Seeks are applied in order to a fresh player.
	Seeks []SeekStep `yaml:"seeks"`

	// Assertions validate the trace and the final state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// EventStep is one recorded event. Paths without a scheme are workspace
// paths; "untitled:name" names an untitled buffer.
type EventStep struct {
	Clock float64 `yaml:"clock"`
	Type  string  `yaml:"type"`
	URI   string  `yaml:"uri"`

	// File is "dir", "empty", or a key of Scenario.Blobs (fsCreate).
	File string `yaml:"file,omitempty"`

	// Text is the document text (openTextDocument) or the inserted text
	// (textChange with range).
	Text *string `yaml:"text,omitempty"`

	// EOL is "lf" or "crlf" (openTextDocument).
	EOL string `yaml:"eol,omitempty"`

	// Range is [startLine, startChar, endLine, endChar] (textChange).
	Range []int `yaml:"range,omitempty"`

	// Changes lists several content changes of one textChange.
	Changes []ChangeStep `yaml:"changes,omitempty"`

	// Selections are [anchorLine, anchorChar, activeLine, activeChar]
	// quadruples (showTextEditor, select).
	Selections [][]int `yaml:"selections,omitempty"`

	// Visible is the visible range (showTextEditor, select, scroll).
	Visible []int `yaml:"visible,omitempty"`
}

// ChangeStep is one content change of a multi-change textChange.
type ChangeStep struct {
	Range []int  `yaml:"range"`
	Text  string `yaml:"text"`
}

// SeekStep moves the player to Clock.
type SeekStep struct {
	Clock float64 `yaml:"clock"`

	// Stepwise forces a step-wise seek.
	Stepwise bool `yaml:"stepwise,omitempty"`

	// FailAdapter makes every adapter call of this seek fail.
	FailAdapter bool `yaml:"fail_adapter,omitempty"`

	// Expect checks the state after the seek. If nil, nothing is checked.
	Expect *SeekExpect `yaml:"expect,omitempty"`
}

// SeekExpect specifies the expected state after a seek. Only the given
// fields are checked.
type SeekExpect struct {
	// Texts maps paths to their expected document text.
	Texts map[string]string `yaml:"texts,omitempty"`

	// Files maps paths to their expected worktree file type.
	Files map[string]string `yaml:"files,omitempty"`

	// Missing lists paths with neither a worktree entry nor a document.
	Missing []string `yaml:"missing,omitempty"`

	// Active is the expected active editor path ("" for none).
	Active *string `yaml:"active,omitempty"`

	// Applied is the expected number of applied events.
	Applied *int `yaml:"applied,omitempty"`

	// Clock is the expected workspace clock.
	Clock *float64 `yaml:"clock,omitempty"`

	// Strategy is "wholesale" or "stepwise".
	Strategy string `yaml:"strategy,omitempty"`

	// Error is the expected runtime error code, e.g. ADAPTER_SYNC.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "stepwise_equivalent": a step-only player reaches the same state at every seek
	// - "round_trip": seeking to the end and back to zero restores the empty state
	// - "final_text": the document at URI has Text after the last seek
	// - "event_count": the session has Count events (of Event type, if given)
	// - "adapter_order": adapter calls appear in the given order
	// - "store_round_trip": the session survives the SQLite library unchanged
	Type string `yaml:"type"`

	// URI is the path checked by final_text.
	URI string `yaml:"uri,omitempty"`

	// Text is the expected text (final_text).
	Text string `yaml:"text,omitempty"`

	// Event restricts event_count to one event type.
	Event string `yaml:"event,omitempty"`

	// Count is the expected number of events (event_count).
	Count int `yaml:"count,omitempty"`

	// Calls is the expected adapter call order (adapter_order).
	Calls []string `yaml:"calls,omitempty"`
}

// Assertion type constants.
const (
	AssertStepwiseEquivalent = "stepwise_equivalent"
	AssertRoundTrip          = "round_trip"
	AssertFinalText          = "final_text"
	AssertEventCount         = "event_count"
	AssertAdapterOrder       = "adapter_order"
	AssertStoreRoundTrip     = "store_round_trip"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// FindScenarios returns the .yaml and .yml files below dir, sorted. A
// non-empty filter is a glob matched against the file name without its
// extension.
func FindScenarios(dir, filter string) ([]string, error) {
	if filter != "" {
		if _, err := filepath.Match(filter, ""); err != nil {
			return nil, fmt.Errorf("invalid filter pattern: %w", err)
		}
	}
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			if ok, _ := filepath.Match(filter, name); !ok {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(files)
	return files, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Events) == 0 {
		return fmt.Errorf("events list is required and must be non-empty")
	}
	if len(s.Seeks) == 0 {
		return fmt.Errorf("seeks list is required and must be non-empty")
	}
	if s.DefaultEOL != "" {
		if _, err := ir.ParseEndOfLine(s.DefaultEOL); err != nil {
			return fmt.Errorf("default_eol: %w", err)
		}
	}
	if s.StepThreshold != nil && *s.StepThreshold < 0 {
		return fmt.Errorf("step_threshold must be non-negative")
	}

	for i, step := range s.Events {
		if err := validateEvent(i, &step, s.Blobs); err != nil {
			return err
		}
	}

	for i, seek := range s.Seeks {
		if seek.Clock < 0 {
			return fmt.Errorf("seeks[%d]: clock must be non-negative", i)
		}
		if e := seek.Expect; e != nil {
			if e.Strategy != "" && e.Strategy != "wholesale" && e.Strategy != "stepwise" {
				return fmt.Errorf("seeks[%d].expect: unknown strategy %q", i, e.Strategy)
			}
			for p, typ := range e.Files {
				switch ir.FileType(typ) {
				case ir.FileDir, ir.FileBlob, ir.FileEmpty:
				default:
					return fmt.Errorf("seeks[%d].expect.files[%s]: unknown file type %q", i, p, typ)
				}
			}
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateEvent checks the fields an event type needs.
func validateEvent(index int, e *EventStep, blobs map[string]string) error {
	typ, err := ir.ParseEventType(e.Type)
	if err != nil {
		return fmt.Errorf("events[%d]: %w", index, err)
	}
	if e.URI == "" {
		return fmt.Errorf("events[%d]: uri is required", index)
	}
	if e.Clock < 0 {
		return fmt.Errorf("events[%d]: clock must be non-negative", index)
	}
	if e.Range != nil && len(e.Range) != 4 {
		return fmt.Errorf("events[%d]: range needs 4 numbers, got %d", index, len(e.Range))
	}
	if e.Visible != nil && len(e.Visible) != 4 {
		return fmt.Errorf("events[%d]: visible needs 4 numbers, got %d", index, len(e.Visible))
	}
	for j, sel := range e.Selections {
		if len(sel) != 4 {
			return fmt.Errorf("events[%d].selections[%d]: needs 4 numbers, got %d", index, j, len(sel))
		}
	}

	switch typ {
	case ir.EventFsCreate:
		switch e.File {
		case "":
			return fmt.Errorf("events[%d]: file is required for fsCreate", index)
		case string(ir.FileDir), string(ir.FileEmpty):
		default:
			if _, ok := blobs[e.File]; !ok {
				return fmt.Errorf("events[%d]: unknown blob %q", index, e.File)
			}
		}
	case ir.EventTextChange:
		if len(e.Changes) == 0 && (e.Range == nil || e.Text == nil) {
			return fmt.Errorf("events[%d]: textChange needs range and text, or changes", index)
		}
		for j, c := range e.Changes {
			if len(c.Range) != 4 {
				return fmt.Errorf("events[%d].changes[%d]: range needs 4 numbers", index, j)
			}
		}
	case ir.EventScroll:
		if e.Visible == nil {
			return fmt.Errorf("events[%d]: visible is required for scroll", index)
		}
	case ir.EventOpenTextDocument:
		if e.EOL != "" {
			if _, err := ir.ParseEndOfLine(e.EOL); err != nil {
				return fmt.Errorf("events[%d]: %w", index, err)
			}
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertStepwiseEquivalent, AssertRoundTrip, AssertStoreRoundTrip:
	case AssertFinalText:
		if a.URI == "" {
			return fmt.Errorf("assertions[%d]: uri is required for final_text", index)
		}
	case AssertEventCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
		if a.Event != "" {
			if _, err := ir.ParseEventType(a.Event); err != nil {
				return fmt.Errorf("assertions[%d]: %w", index, err)
			}
		}
	case AssertAdapterOrder:
		if len(a.Calls) == 0 {
			return fmt.Errorf("assertions[%d]: calls list is required for adapter_order", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// resolveURI turns a scenario path into a URI.
func resolveURI(p string) string {
	if strings.HasPrefix(p, ir.SchemeUntitled+":") || strings.HasPrefix(p, ir.SchemeWorkspace+":") {
		return ir.NormalizeURI(p)
	}
	return ir.WorkspaceURI(p)
}
