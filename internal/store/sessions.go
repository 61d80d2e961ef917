package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/codetape/internal/ir"
	"github.com/roach88/codetape/internal/sessionio"
)

// ErrSessionNotFound is returned when a session id is not in the library.
var ErrSessionNotFound = errors.New("session not found")

// SessionInfo is a library listing entry.
type SessionInfo struct {
	ID         string
	Title      string
	Duration   float64
	Events     int
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// SaveSession inserts or replaces a session with all its events and blob
// references. The write is a single transaction.
//
// Blob content is not copied; use WriteBlob for the referenced blobs.
func (s *Store) SaveSession(ctx context.Context, sess *sessionio.Session) error {
	if err := sess.Head.Validate(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	headJSON, err := json.Marshal(sess.Head)
	if err != nil {
		return fmt.Errorf("save session: marshal head: %w", err)
	}
	focusJSON, err := json.Marshal(sess.Body.Focus)
	if err != nil {
		return fmt.Errorf("save session: marshal focus: %w", err)
	}
	eol, err := sess.Body.DefaultEOL.MarshalText()
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save session: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, title, duration, head, default_eol, focus, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			duration = excluded.duration,
			head = excluded.head,
			default_eol = excluded.default_eol,
			focus = excluded.focus,
			modified_at = excluded.modified_at
	`,
		sess.Head.ID,
		sess.Head.Title,
		sess.Head.Duration,
		string(headJSON),
		string(eol),
		string(focusJSON),
		sess.Head.CreatedAt.UTC().Format(time.RFC3339Nano),
		sess.Head.ModifiedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE session_id = ?`, sess.Head.ID); err != nil {
		return fmt.Errorf("save session: clear events: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (session_id, id, clock, uri, type, event)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("save session: prepare: %w", err)
	}
	defer stmt.Close()

	for _, ev := range sess.Body.Events {
		evJSON, err := marshalEvent(ev)
		if err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, sess.Head.ID, ev.ID, ev.Clock, ev.URI, ev.Type.String(), evJSON); err != nil {
			return fmt.Errorf("save session: event %d: %w", ev.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_blobs WHERE session_id = ?`, sess.Head.ID); err != nil {
		return fmt.Errorf("save session: clear blob refs: %w", err)
	}
	for _, hash := range sessionio.ReferencedBlobs(sess) {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO session_blobs (session_id, hash) VALUES (?, ?)
			ON CONFLICT DO NOTHING
		`, sess.Head.ID, hash); err != nil {
			return fmt.Errorf("save session: blob ref: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save session: commit: %w", err)
	}
	return nil
}

// LoadSession reads a session with all its events in (clock, id) order.
// Returns ErrSessionNotFound if the id is unknown.
func (s *Store) LoadSession(ctx context.Context, id string) (*sessionio.Session, error) {
	var headJSON, eol, focusJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT head, default_eol, focus FROM sessions WHERE id = ?
	`, id).Scan(&headJSON, &eol, &focusJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	sess := &sessionio.Session{}
	if err := json.Unmarshal([]byte(headJSON), &sess.Head); err != nil {
		return nil, fmt.Errorf("load session: head: %w", err)
	}
	if err := sess.Body.DefaultEOL.UnmarshalText([]byte(eol)); err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if err := json.Unmarshal([]byte(focusJSON), &sess.Body.Focus); err != nil {
		return nil, fmt.Errorf("load session: focus: %w", err)
	}
	sess.Body.FormatVersion = sess.Head.FormatVersion

	events, err := s.queryEvents(ctx, `
		SELECT event FROM events
		WHERE session_id = ?
		ORDER BY clock ASC, id ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	sess.Body.Events = events
	return sess, nil
}

// ListSessions returns every session, most recently modified first.
func (s *Store) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.title, s.duration, s.created_at, s.modified_at,
			(SELECT COUNT(*) FROM events e WHERE e.session_id = s.id)
		FROM sessions s
		ORDER BY s.modified_at DESC, s.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	infos := []SessionInfo{}
	for rows.Next() {
		var info SessionInfo
		var created, modified string
		if err := rows.Scan(&info.ID, &info.Title, &info.Duration, &created, &modified, &info.Events); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		info.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		info.ModifiedAt, _ = time.Parse(time.RFC3339Nano, modified)
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return infos, nil
}

// DeleteSession removes a session and its events. Blobs stay until
// PruneBlobs. Returns ErrSessionNotFound if the id is unknown.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// ReadEvents returns the events of a session with start <= clock <= end,
// ordered by clock, then id. An empty uri selects every URI.
//
// Returns an empty slice (not nil) if no events match.
func (s *Store) ReadEvents(ctx context.Context, sessionID, uri string, start, end float64) ([]ir.Event, error) {
	if uri == "" {
		return s.queryEvents(ctx, `
			SELECT event FROM events
			WHERE session_id = ? AND clock >= ? AND clock <= ?
			ORDER BY clock ASC, id ASC
		`, sessionID, start, end)
	}
	return s.queryEvents(ctx, `
		SELECT event FROM events
		WHERE session_id = ? AND uri = ? AND clock >= ? AND clock <= ?
		ORDER BY clock ASC, id ASC
	`, sessionID, uri, start, end)
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]ir.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []ir.Event{}
	for rows.Next() {
		var evJSON string
		if err := rows.Scan(&evJSON); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev, err := unmarshalEvent(evJSON)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// marshalEvent converts an event to JSON TEXT for storage.
func marshalEvent(ev ir.Event) (string, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("marshal event %d: %w", ev.ID, err)
	}
	return string(data), nil
}

// unmarshalEvent parses and validates stored event JSON.
func unmarshalEvent(data string) (ir.Event, error) {
	var ev ir.Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return ir.Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return ir.Event{}, fmt.Errorf("stored event: %w", err)
	}
	return ev, nil
}
