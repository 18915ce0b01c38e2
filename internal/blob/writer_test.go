package blob

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func TestWriter_SaveCommitsContentAddressed(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root, testLogger())

	payload := []byte("hello archival world")
	res, err := w.Save("onedrive", bytes.NewReader(payload))
	require.NoError(t, err)

	want := sha256Hex(payload)
	assert.Equal(t, want, res.Digest)
	assert.Equal(t, int64(len(payload)), res.Size)
	assert.Equal(t, filepath.Join(root, "onedrive", want[:2], want), res.Path)

	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestWriter_SaveLargerThanChunk(t *testing.T) {
	w := NewWriter(t.TempDir(), testLogger())

	payload := bytes.Repeat([]byte("x"), copyChunkSize*3+17)
	res, err := w.Save("exchange", bytes.NewReader(payload))
	require.NoError(t, err)

	assert.Equal(t, sha256Hex(payload), res.Digest)
	assert.Equal(t, int64(len(payload)), res.Size)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("boom")
}

func TestWriter_SaveFailureLeavesNothing(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root, testLogger())

	_, err := w.Save("onedrive", failingReader{})
	require.Error(t, err)

	// No committed blobs, no leftover partials.
	var files []string
	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestWriter_SaveIdenticalContentIsIdempotent(t *testing.T) {
	w := NewWriter(t.TempDir(), testLogger())
	payload := []byte("same bytes")

	first, err := w.Save("onedrive", bytes.NewReader(payload))
	require.NoError(t, err)

	second, err := w.Save("onedrive", bytes.NewReader(payload))
	require.NoError(t, err)

	assert.Equal(t, first.Path, second.Path)
	assert.Equal(t, first.Digest, second.Digest)
}

func TestSpool_ThresholdBoundary(t *testing.T) {
	payload := []byte(strings.Repeat("a", 1024))

	// Exactly the threshold: in-memory path.
	atLimit := NewSpool(1024)
	t.Cleanup(func() { atLimit.Close() })

	n, err := atLimit.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, 1024, n)
	assert.False(t, atLimit.Spooled())

	// One byte over: spooled path.
	over := NewSpool(1023)
	t.Cleanup(func() { over.Close() })

	_, err = over.Write(payload)
	require.NoError(t, err)
	assert.True(t, over.Spooled())

	// Both paths agree on the digest and replay the same bytes.
	assert.Equal(t, sha256Hex(payload), atLimit.Digest())
	assert.Equal(t, atLimit.Digest(), over.Digest())

	for _, s := range []*Spool{atLimit, over} {
		r, err := s.Reader()
		require.NoError(t, err)

		var out bytes.Buffer
		_, err = out.ReadFrom(r)
		require.NoError(t, err)
		assert.Equal(t, payload, out.Bytes())
	}
}

func TestSpool_SpillAcrossMultipleWrites(t *testing.T) {
	s := NewSpool(10)
	t.Cleanup(func() { s.Close() })

	var payload []byte
	for i := 0; i < 5; i++ {
		chunk := bytes.Repeat([]byte{byte('a' + i)}, 4)
		payload = append(payload, chunk...)

		_, err := s.Write(chunk)
		require.NoError(t, err)
	}

	assert.True(t, s.Spooled())
	assert.Equal(t, int64(len(payload)), s.Size())
	assert.Equal(t, sha256Hex(payload), s.Digest())

	r, err := s.Reader()
	require.NoError(t, err)

	var out bytes.Buffer
	_, err = out.ReadFrom(r)
	require.NoError(t, err)
	assert.Equal(t, payload, out.Bytes())
}

func TestSpool_CloseRemovesTempFile(t *testing.T) {
	s := NewSpool(1)

	_, err := s.Write([]byte("spill me"))
	require.NoError(t, err)
	require.True(t, s.Spooled())

	name := s.file.Name()
	require.NoError(t, s.Close())

	_, err = os.Stat(name)
	assert.True(t, os.IsNotExist(err))
}
