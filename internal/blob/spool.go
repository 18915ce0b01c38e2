package blob

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

// Spool accumulates a payload of unknown size while hashing it, keeping
// at most threshold bytes in memory. Payloads at or below the threshold
// stay in a memory buffer; one byte more spills the whole payload to a
// temporary file. Both paths produce identical digests for identical
// bytes, so the caller never cares which one was taken.
type Spool struct {
	threshold int64
	size      int64
	hasher    hash.Hash
	buf       bytes.Buffer
	file      *os.File
	digest    string
}

// NewSpool creates a spool with the given in-memory threshold in bytes.
func NewSpool(threshold int64) *Spool {
	return &Spool{threshold: threshold, hasher: sha256.New()}
}

// Write implements io.Writer.
func (s *Spool) Write(p []byte) (int, error) {
	s.hasher.Write(p)

	if s.file == nil && s.size+int64(len(p)) > s.threshold {
		if err := s.spill(); err != nil {
			return 0, err
		}
	}

	var (
		n   int
		err error
	)

	if s.file != nil {
		n, err = s.file.Write(p)
	} else {
		n, err = s.buf.Write(p)
	}

	s.size += int64(n)

	return n, err
}

// spill moves the buffered bytes to a temporary file and switches all
// subsequent writes to it.
func (s *Spool) spill() error {
	f, err := os.CreateTemp("", "deltabridge-spool-*")
	if err != nil {
		return fmt.Errorf("blob: creating spool file: %w", err)
	}

	if _, err := f.Write(s.buf.Bytes()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return fmt.Errorf("blob: spilling spool buffer: %w", err)
	}

	s.buf.Reset()
	s.file = f

	return nil
}

// Size returns the number of bytes written so far.
func (s *Spool) Size() int64 {
	return s.size
}

// Spooled reports whether the payload spilled to a temporary file.
func (s *Spool) Spooled() bool {
	return s.file != nil
}

// Digest returns the hex SHA-256 of everything written. Call after the
// final Write.
func (s *Spool) Digest() string {
	if s.digest == "" {
		s.digest = hex.EncodeToString(s.hasher.Sum(nil))
	}

	return s.digest
}

// Reader replays the accumulated payload from the start. Valid until
// Close; subsequent Writes are not supported after calling Reader.
func (s *Spool) Reader() (io.Reader, error) {
	if s.file != nil {
		if _, err := s.file.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("blob: rewinding spool file: %w", err)
		}

		return s.file, nil
	}

	return bytes.NewReader(s.buf.Bytes()), nil
}

// Close releases the temporary file, if any.
func (s *Spool) Close() error {
	if s.file == nil {
		return nil
	}

	name := s.file.Name()
	err := s.file.Close()
	os.Remove(name)
	s.file = nil

	return err
}
