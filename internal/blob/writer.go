// Package blob commits byte streams to content-addressed storage while
// computing their SHA-256 digest incrementally. Payloads of any size are
// handled in fixed-size chunks; nothing is ever buffered whole.
package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// copyChunkSize is the buffer size for streaming copies.
const copyChunkSize = 64 * 1024

// SaveResult describes a successful commit. Digest is the hex SHA-256 of
// the exact bytes written and is the authoritative logical version id for
// items that carry no stronger remote identity.
type SaveResult struct {
	Digest string
	Size   int64
	Path   string
}

// Writer commits streams under a files root, one namespace directory per
// backend.
type Writer struct {
	root   string
	logger *slog.Logger
}

// NewWriter creates a Writer rooted at the entity's files directory.
func NewWriter(root string, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Writer{root: root, logger: logger}
}

// Save streams r into the namespace, hashing as it copies, and renames the
// result into its content-addressed location <ns>/<digest[:2]>/<digest>.
// On any I/O failure nothing is committed and the caller must not log a
// version for the item.
func (w *Writer) Save(namespace string, r io.Reader) (SaveResult, error) {
	nsDir := filepath.Join(w.root, namespace)
	if err := os.MkdirAll(nsDir, 0o750); err != nil {
		return SaveResult{}, fmt.Errorf("blob: creating namespace dir: %w", err)
	}

	tmp, err := os.CreateTemp(nsDir, ".partial-*")
	if err != nil {
		return SaveResult{}, fmt.Errorf("blob: creating temp file: %w", err)
	}

	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	hasher := sha256.New()
	buf := make([]byte, copyChunkSize)

	size, err := io.CopyBuffer(io.MultiWriter(hasher, tmp), r, buf)
	if err != nil {
		tmp.Close()
		return SaveResult{}, fmt.Errorf("blob: streaming content: %w", err)
	}

	// Content must be on disk before the rename makes it visible;
	// version records are only written after Save returns.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return SaveResult{}, fmt.Errorf("blob: syncing content: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return SaveResult{}, fmt.Errorf("blob: closing temp file: %w", err)
	}

	digest := hex.EncodeToString(hasher.Sum(nil))

	finalDir := filepath.Join(nsDir, digest[:2])
	if err := os.MkdirAll(finalDir, 0o750); err != nil {
		return SaveResult{}, fmt.Errorf("blob: creating shard dir: %w", err)
	}

	finalPath := filepath.Join(finalDir, digest)
	if err := os.Rename(tmpName, finalPath); err != nil {
		return SaveResult{}, fmt.Errorf("blob: committing content: %w", err)
	}

	w.logger.Debug("content committed",
		slog.String("namespace", namespace),
		slog.String("digest", digest),
		slog.Int64("size", size),
	)

	return SaveResult{Digest: digest, Size: size, Path: finalPath}, nil
}
