// Package blockstore implements the content store a storage node runs:
// raw block bytes behind an opaque block identifier, with a SHA-256
// checksum computed on write for end-to-end verification.
package blockstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
)

// BlockStat describes one stored block.
type BlockStat struct {
	BlockID  string
	Size     int64
	Checksum string
}

// Store is the contract a storage node exposes over its blocks. It knows
// nothing about files, directories, or other nodes.
type Store interface {
	// Put writes the block content and returns its size and SHA-256
	// checksum. The write is atomic: a concurrent reader never observes
	// a partial block.
	Put(ctx context.Context, blockID string, r io.Reader) (BlockStat, error)

	// Get streams a block back, returning its size. Fails with an
	// os.ErrNotExist-wrapping error when the block is absent.
	Get(ctx context.Context, blockID string) (io.ReadCloser, int64, error)

	// Delete removes a block. Deleting an absent block succeeds
	// (idempotent), so retried cleanup is harmless.
	Delete(ctx context.Context, blockID string) error

	// List enumerates stored blocks. Audit tooling only, not on the
	// write/read hot path.
	List(ctx context.Context) ([]BlockStat, error)

	// Type returns the backend type identifier ("disk", "s3").
	Type() string

	// Close releases any resources held by the store.
	Close() error
}

var keySanitizer = strings.NewReplacer("/", "_", "\\", "_", "..", "_")

// SanitizeID maps a block identifier to a flat storage key, escaping path
// separators so a hostile identifier cannot traverse out of the store.
func SanitizeID(blockID string) string {
	return keySanitizer.Replace(blockID)
}

// Checksum returns the hex SHA-256 digest of a byte slice.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ChecksumReader returns the hex SHA-256 digest of everything in r.
func ChecksumReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
