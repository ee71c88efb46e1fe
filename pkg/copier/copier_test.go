package copier

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorq/mirrorq/pkg/hasher"
)

func newTestCopier(t *testing.T) *Copier {
	t.Helper()
	h, err := hasher.New(hasher.SHA256)
	require.NoError(t, err)
	return New(h, Config{BufferSize: 4096})
}

func writeTestFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestCopyNewDestination(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src", "a.txt")
	dst := filepath.Join(dir, "dst", "nested", "a.txt")
	data := []byte("hello, world.")
	writeTestFile(t, src, data)

	c := newTestCopier(t)
	var lastCopied int64 = -1
	res := c.Copy(context.Background(), Job{
		SourcePath:      src,
		DestinationPath: dst,
		FileSize:        int64(len(data)),
	}, func(copied, size int64) {
		assert.GreaterOrEqual(t, copied, lastCopied)
		lastCopied = copied
		assert.Equal(t, int64(len(data)), size)
	})

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, res.SourceHash, res.DestinationHash)
	assert.NotEmpty(t, res.SourceHash)
	assert.Equal(t, int64(len(data)), res.BytesCopied)
	assert.Equal(t, int64(len(data)), lastCopied)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestCopyIdenticalDestination(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src", "a.txt")
	dst := filepath.Join(dir, "dst", "a.txt")
	data := []byte("same bytes on both sides")
	writeTestFile(t, src, data)
	writeTestFile(t, dst, data)

	before, err := os.Stat(dst)
	require.NoError(t, err)

	c := newTestCopier(t)
	res := c.Copy(context.Background(), Job{SourcePath: src, DestinationPath: dst, FileSize: int64(len(data))}, nil)

	assert.Equal(t, OutcomeIdentical, res.Outcome)
	assert.Equal(t, res.SourceHash, res.DestinationHash)
	assert.Zero(t, res.BytesCopied)

	// Destination untouched.
	after, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
}

func TestCopyDivergentDestination(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src", "a.txt")
	dst := filepath.Join(dir, "dst", "a.txt")
	writeTestFile(t, src, []byte("source version"))
	writeTestFile(t, dst, []byte("older divergent version"))

	c := newTestCopier(t)
	res := c.Copy(context.Background(), Job{SourcePath: src, DestinationPath: dst}, nil)

	assert.Equal(t, OutcomeConflict, res.Outcome)
	assert.NotEmpty(t, res.SourceHash)
	assert.NotEmpty(t, res.DestinationHash)
	assert.NotEqual(t, res.SourceHash, res.DestinationHash)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, []byte("older divergent version"), got)
}

func TestCopyMissingSource(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "dst", "a.txt")

	c := newTestCopier(t)
	res := c.Copy(context.Background(), Job{
		SourcePath:      filepath.Join(dir, "missing"),
		DestinationPath: dst,
	}, nil)

	assert.Equal(t, OutcomeError, res.Outcome)
	assert.NotEmpty(t, res.Message)
	_, err := os.Stat(dst)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

// corruptingWriter flips a bit in the first chunk it sees.
type corruptingWriter struct {
	w         io.Writer
	corrupted bool
}

func (cw *corruptingWriter) Write(p []byte) (int, error) {
	if !cw.corrupted && len(p) > 0 {
		mutated := make([]byte, len(p))
		copy(mutated, p)
		mutated[0] ^= 0xff
		cw.corrupted = true
		return cw.w.Write(mutated)
	}
	return cw.w.Write(p)
}

func TestCopyIntegrityFailure(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src", "a.txt")
	dst := filepath.Join(dir, "dst", "a.txt")
	writeTestFile(t, src, []byte("bytes that will be corrupted in flight"))

	c := newTestCopier(t)
	c.wrapDest = func(w io.Writer) io.Writer { return &corruptingWriter{w: w} }

	res := c.Copy(context.Background(), Job{SourcePath: src, DestinationPath: dst}, nil)

	assert.Equal(t, OutcomeIntegrityError, res.Outcome)
	assert.Equal(t, IntegrityErrorMessage, res.Message)
	assert.NotEqual(t, res.SourceHash, res.DestinationHash)

	// Corrupt destination was unlinked.
	_, err := os.Stat(dst)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCopyCancelled(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src", "big.bin")
	dst := filepath.Join(dir, "dst", "big.bin")
	writeTestFile(t, src, make([]byte, 64*1024))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestCopier(t)
	res := c.Copy(ctx, Job{SourcePath: src, DestinationPath: dst}, nil)

	assert.Equal(t, OutcomeError, res.Outcome)
	assert.Contains(t, res.Message, "canceled")
	_, err := os.Stat(dst)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCopyEmptyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src", "empty")
	dst := filepath.Join(dir, "dst", "empty")
	writeTestFile(t, src, nil)

	c := newTestCopier(t)
	res := c.Copy(context.Background(), Job{SourcePath: src, DestinationPath: dst, FileSize: 0}, nil)

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, res.SourceHash, res.DestinationHash)
	assert.Zero(t, res.BytesCopied)

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}
