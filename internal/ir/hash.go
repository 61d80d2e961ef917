package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefix for session ids derived from content.
// Version suffix enables future algorithm migration.
const DomainSessionDigest = "codetape/body/v1"

// BlobHash computes the content address of a blob: hex SHA-256 of its bytes.
// Blob hashes are plain content hashes so that blob stores can verify them
// without knowing anything about sessions.
func BlobHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// BodyDigest computes a digest of serialized session body bytes.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func BodyDigest(body []byte) string {
	h := sha256.New()
	h.Write([]byte(DomainSessionDigest))
	h.Write([]byte{0x00})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// ValidateHash checks that hash looks like a BlobHash result.
func ValidateHash(hash string) error {
	if len(hash) != sha256.Size*2 {
		return fmt.Errorf("invalid hash %q: want %d hex characters", hash, sha256.Size*2)
	}
	if _, err := hex.DecodeString(hash); err != nil {
		return fmt.Errorf("invalid hash %q: %w", hash, err)
	}
	return nil
}
