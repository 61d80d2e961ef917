package sessionio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/roach88/codetape/internal/ir"
)

// DirBlobStore is a content-addressed blob store in a directory. Each blob
// is a file named by its hash.
type DirBlobStore struct {
	dir string
}

// NewDirBlobStore returns a store rooted at dir. The directory is created on
// the first write.
func NewDirBlobStore(dir string) *DirBlobStore {
	return &DirBlobStore{dir: dir}
}

// Blobs returns the blob store of the session in dir.
func Blobs(dir string) *DirBlobStore {
	return NewDirBlobStore(filepath.Join(dir, BlobsDir))
}

// Dir returns the store directory.
func (s *DirBlobStore) Dir() string {
	return s.dir
}

// ReadBlob reads the blob with the given hash and verifies its content.
func (s *DirBlobStore) ReadBlob(hash string) ([]byte, error) {
	if err := ir.ValidateHash(hash); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, hash))
	if err != nil {
		return nil, fmt.Errorf("read blob %.12s: %w", hash, err)
	}
	if got := ir.BlobHash(data); got != hash {
		return nil, fmt.Errorf("blob %.12s is corrupt: content hashes to %.12s", hash, got)
	}
	return data, nil
}

// WriteBlob stores data and returns its hash. Writing a blob that already
// exists is a no-op.
func (s *DirBlobStore) WriteBlob(data []byte) (string, error) {
	hash := ir.BlobHash(data)
	if s.Has(hash) {
		return hash, nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}
	if err := WriteFileAtomic(filepath.Join(s.dir, hash), data); err != nil {
		return "", err
	}
	return hash, nil
}

// Has reports whether the blob exists.
func (s *DirBlobStore) Has(hash string) bool {
	_, err := os.Stat(filepath.Join(s.dir, hash))
	return err == nil
}

// Hashes lists the stored blob hashes.
func (s *DirBlobStore) Hashes() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if isNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && ir.ValidateHash(e.Name()) == nil {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// BlobReader reads blobs by hash.
type BlobReader interface {
	ReadBlob(hash string) ([]byte, error)
}

// BlobWriter stores blobs and returns their hash.
type BlobWriter interface {
	WriteBlob(data []byte) (string, error)
}

// CopyBlobs copies every blob the session references from src to dst.
// It stops early when ctx is cancelled.
func CopyBlobs(ctx context.Context, s *Session, src BlobReader, dst BlobWriter) (int, error) {
	n := 0
	for _, hash := range ReferencedBlobs(s) {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		data, err := src.ReadBlob(hash)
		if err != nil {
			return n, err
		}
		if _, err := dst.WriteBlob(data); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// ReferencedBlobs returns the distinct blob hashes referenced by the
// session's events and tracks, in first-reference order.
func ReferencedBlobs(s *Session) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(f ir.FileRef) {
		if f.Type != ir.FileBlob {
			return
		}
		if _, ok := seen[f.Hash]; ok {
			return
		}
		seen[f.Hash] = struct{}{}
		out = append(out, f.Hash)
	}
	for _, ev := range s.Body.Events {
		switch {
		case ev.FsCreate != nil:
			add(ev.FsCreate.File)
		case ev.FsDelete != nil:
			add(ev.FsDelete.RevFile)
		}
	}
	for _, t := range s.Head.Tracks() {
		add(t.File)
	}
	return out
}
