// Package sessionio reads and writes session directories.
//
// A session directory holds:
//
//	head.json   summary: id, title, duration, tracks, body digest
//	body.json   events, default end of line, focus timeline
//	blobs/      content-addressed file and media payloads
//
// Every file is written to a temporary file in its directory and renamed
// into place, so a crash never leaves a half-written session file.
package sessionio

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/codetape/internal/engine"
	"github.com/roach88/codetape/internal/eventlog"
	"github.com/roach88/codetape/internal/ir"
)

// File names inside a session directory.
const (
	HeadFile = "head.json"
	BodyFile = "body.json"
	BlobsDir = "blobs"
)

// Session is a loaded session directory.
type Session struct {
	Head ir.SessionHead
	Body ir.SessionBody
}

// New creates an empty session.
func New(id, title string, defaultEOL ir.EndOfLine, now time.Time) *Session {
	if !defaultEOL.IsValid() {
		defaultEOL = ir.LF
	}
	return &Session{
		Head: ir.SessionHead{
			ID:            id,
			Title:         title,
			FormatVersion: ir.FormatVersion,
			CreatedAt:     now.UTC(),
			ModifiedAt:    now.UTC(),
		},
		Body: ir.SessionBody{
			FormatVersion: ir.FormatVersion,
			DefaultEOL:    defaultEOL,
			Events:        []ir.Event{},
		},
	}
}

// Log builds an event container from the body.
func (s *Session) Log() (*eventlog.Container, error) {
	log, err := eventlog.FromEvents(s.Body.Events)
	if err != nil {
		return nil, engine.NewMalformedError("invalid session events", err)
	}
	return log, nil
}

// SetLog replaces the body events with the container's events and raises
// the head duration to cover them.
func (s *Session) SetLog(log *eventlog.Container) {
	s.Body.Events = log.Events()
	s.Head.Duration = max(s.Head.Duration, log.Duration())
}

// EncodeBody renders the body as compact JSON with a trailing newline.
func EncodeBody(body *ir.SessionBody) ([]byte, error) {
	if body.Events == nil {
		body.Events = []ir.Event{}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeBody parses and shape-checks body JSON. Failures are MALFORMED
// runtime errors.
func DecodeBody(data []byte) (*ir.SessionBody, error) {
	if err := validateShape("#Body", BodyFile, data); err != nil {
		return nil, engine.NewMalformedError("session body does not match the schema", err)
	}
	var body ir.SessionBody
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, engine.NewMalformedError("session body is not valid JSON", err)
	}
	for i := range body.Events {
		if err := body.Events[i].Validate(); err != nil {
			return nil, engine.NewMalformedError("invalid session event", err)
		}
	}
	return &body, nil
}

// EncodeHead renders the head as indented JSON with a trailing newline.
func EncodeHead(head *ir.SessionHead) ([]byte, error) {
	data, err := json.MarshalIndent(head, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode head: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeHead parses and checks head JSON.
func DecodeHead(data []byte) (*ir.SessionHead, error) {
	if err := validateShape("#Head", HeadFile, data); err != nil {
		return nil, engine.NewMalformedError("session head does not match the schema", err)
	}
	var head ir.SessionHead
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, engine.NewMalformedError("session head is not valid JSON", err)
	}
	if err := head.Validate(); err != nil {
		return nil, engine.NewMalformedError("invalid session head", err)
	}
	return &head, nil
}

// LoadHead reads only the head of the session in dir.
func LoadHead(dir string) (*ir.SessionHead, error) {
	data, err := os.ReadFile(filepath.Join(dir, HeadFile))
	if err != nil {
		return nil, fmt.Errorf("read head: %w", err)
	}
	return DecodeHead(data)
}

// Load reads the session in dir. Nothing is returned unless head and body
// are both well formed and the body matches the head's digest.
func Load(dir string) (*Session, error) {
	head, err := LoadHead(dir)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, BodyFile))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if head.BodyDigest != "" {
		if got := ir.BodyDigest(data); got != head.BodyDigest {
			return nil, engine.NewMalformedError(
				fmt.Sprintf("body digest mismatch: head has %.12s, body is %.12s", head.BodyDigest, got), nil)
		}
	}
	body, err := DecodeBody(data)
	if err != nil {
		return nil, err
	}
	if body.FormatVersion != head.FormatVersion {
		return nil, engine.NewMalformedError(
			fmt.Sprintf("format version mismatch: head %d, body %d", head.FormatVersion, body.FormatVersion), nil)
	}

	slog.Debug("session loaded",
		"dir", dir,
		"id", head.ID,
		"events", len(body.Events),
		"duration", head.Duration,
	)
	return &Session{Head: *head, Body: *body}, nil
}

// Save writes the session to dir, creating it if needed. The body is
// written before the head so that a head never names a body digest that is
// not on disk.
func Save(dir string, s *Session, now time.Time) error {
	if err := os.MkdirAll(filepath.Join(dir, BlobsDir), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	body, err := EncodeBody(&s.Body)
	if err != nil {
		return err
	}
	if err := WriteFileAtomic(filepath.Join(dir, BodyFile), body); err != nil {
		return err
	}

	s.Head.FormatVersion = s.Body.FormatVersion
	s.Head.BodyDigest = ir.BodyDigest(body)
	s.Head.ModifiedAt = now.UTC()
	if s.Head.CreatedAt.IsZero() {
		s.Head.CreatedAt = s.Head.ModifiedAt
	}
	for _, ev := range s.Body.Events {
		s.Head.Duration = max(s.Head.Duration, ev.Clock)
	}
	head, err := EncodeHead(&s.Head)
	if err != nil {
		return err
	}
	if err := WriteFileAtomic(filepath.Join(dir, HeadFile), head); err != nil {
		return err
	}

	slog.Debug("session saved", "dir", dir, "id", s.Head.ID, "events", len(s.Body.Events))
	return nil
}

// Exists reports whether dir holds a session head.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, HeadFile))
	return err == nil
}

// WriteFileAtomic writes data to a temporary file next to path and renames
// it over path.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
