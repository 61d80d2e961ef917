package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/codetape/internal/ir"
)

// ErrBlobNotFound is returned when a blob hash is not in the library.
var ErrBlobNotFound = errors.New("blob not found")

// WriteBlob stores data and returns its hash.
// Uses ON CONFLICT DO NOTHING for idempotency - blobs are content-addressed,
// so a duplicate hash is the same content.
func (s *Store) WriteBlob(ctx context.Context, data []byte) (string, error) {
	hash := ir.BlobHash(data)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (hash, size, data) VALUES (?, ?, ?)
		ON CONFLICT(hash) DO NOTHING
	`, hash, len(data), data)
	if err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return hash, nil
}

// ReadBlob reads a blob and verifies its content against the hash.
func (s *Store) ReadBlob(ctx context.Context, hash string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE hash = ?`, hash).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %.12s", ErrBlobNotFound, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	if got := ir.BlobHash(data); got != hash {
		return nil, fmt.Errorf("blob %.12s is corrupt: content hashes to %.12s", hash, got)
	}
	return data, nil
}

// PruneBlobs deletes blobs no session references and returns how many were
// removed.
func (s *Store) PruneBlobs(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM blobs
		WHERE hash NOT IN (SELECT hash FROM session_blobs)
	`)
	if err != nil {
		return 0, fmt.Errorf("prune blobs: %w", err)
	}
	return res.RowsAffected()
}

// Blobs binds the store's blob methods to ctx, for consumers that read and
// write blobs by hash alone (workspaces, session copies).
func (s *Store) Blobs(ctx context.Context) *BlobStore {
	return &BlobStore{store: s, ctx: ctx}
}

// BlobStore is the library's blob table behind a context-free interface.
type BlobStore struct {
	store *Store
	ctx   context.Context
}

// ReadBlob implements workspace.BlobReader.
func (b *BlobStore) ReadBlob(hash string) ([]byte, error) {
	return b.store.ReadBlob(b.ctx, hash)
}

// WriteBlob stores data and returns its hash.
func (b *BlobStore) WriteBlob(data []byte) (string, error) {
	return b.store.WriteBlob(b.ctx, data)
}
