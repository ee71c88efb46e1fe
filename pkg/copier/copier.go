// Package copier performs the copy-and-verify step for a single claimed
// queue entry.
//
// A worker never touches durable state. It reads the source, writes the
// destination, hashes both sides, and returns exactly one outcome; the
// scheduler routes that outcome to the store.
package copier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mirrorq/mirrorq/pkg/bufpool"
	"github.com/mirrorq/mirrorq/pkg/hasher"
)

// Outcome classifies the result of one copy attempt.
type Outcome string

const (
	// OutcomeCompleted means the file was copied and the written bytes
	// verified against the source hash.
	OutcomeCompleted Outcome = "completed"

	// OutcomeIdentical means the destination already existed with matching
	// content; nothing was written.
	OutcomeIdentical Outcome = "identical"

	// OutcomeConflict means the destination already existed with different
	// content; the destination is left untouched.
	OutcomeConflict Outcome = "conflict"

	// OutcomeIntegrityError means the written destination hashed differently
	// from the source; the destination was unlinked.
	OutcomeIntegrityError Outcome = "integrity_error"

	// OutcomeError covers read/write/cancellation failures; any partial
	// destination was unlinked.
	OutcomeError Outcome = "error"
)

// IntegrityErrorMessage is the fixed marker recorded for integrity failures.
const IntegrityErrorMessage = "integrity check failed: destination hash does not match source hash"

// Job describes one file to replicate.
type Job struct {
	SourcePath      string
	DestinationPath string
	FileSize        int64
}

// Result is the terminal report of one copy attempt. SourceHash and
// DestinationHash are set when the outcome produced them; Message carries the
// failure text for error outcomes.
type Result struct {
	Outcome         Outcome
	SourceHash      string
	DestinationHash string
	Message         string
	BytesCopied     int64
	Duration        time.Duration
}

// ProgressFunc observes copy progress. bytesCopied is monotonically
// non-decreasing per file.
type ProgressFunc func(bytesCopied, fileSize int64)

// DefaultProgressInterval throttles progress callbacks to twice per second.
const DefaultProgressInterval = 500 * time.Millisecond

// Config tunes a Copier.
type Config struct {
	// BufferSize is the streaming chunk size. Zero takes the pool default.
	BufferSize int

	// ProgressInterval is the minimum spacing between progress callbacks.
	// Zero takes DefaultProgressInterval.
	ProgressInterval time.Duration
}

// Copier copies files with on-the-fly hashing and post-copy verification.
type Copier struct {
	hasher           *hasher.Hasher
	bufferSize       int
	progressInterval time.Duration

	// wrapDest intercepts the destination writer, for fault injection in
	// tests. Nil in production.
	wrapDest func(io.Writer) io.Writer
}

// New creates a Copier using the given content-hash capability.
func New(h *hasher.Hasher, cfg Config) *Copier {
	c := &Copier{
		hasher:           h,
		bufferSize:       cfg.BufferSize,
		progressInterval: cfg.ProgressInterval,
	}
	if c.bufferSize <= 0 {
		c.bufferSize = bufpool.DefaultCopySize
	}
	if c.progressInterval <= 0 {
		c.progressInterval = DefaultProgressInterval
	}
	return c
}

// Copy replicates one file and returns its outcome. Copy never returns an
// error; every failure mode is expressed as a Result so the caller routes it
// to a durable transition. Cancellation is honored at chunk boundaries and
// reported as an error outcome with the partial destination removed.
func (c *Copier) Copy(ctx context.Context, job Job, progress ProgressFunc) Result {
	start := time.Now()
	res := c.copy(ctx, job, progress)
	res.Duration = time.Since(start)
	return res
}

func (c *Copier) copy(ctx context.Context, job Job, progress ProgressFunc) Result {
	if err := os.MkdirAll(filepath.Dir(job.DestinationPath), 0o755); err != nil {
		return errorResult(fmt.Errorf("create destination directory: %w", err))
	}

	if _, err := os.Lstat(job.DestinationPath); err == nil {
		return c.compareExisting(ctx, job)
	} else if !errors.Is(err, os.ErrNotExist) {
		return errorResult(fmt.Errorf("stat destination: %w", err))
	}

	return c.streamCopy(ctx, job, progress)
}

// compareExisting hashes source and destination in parallel and reports
// identical or conflict. The destination is never modified here.
func (c *Copier) compareExisting(ctx context.Context, job Job) Result {
	srcHash, dstHash, err := c.hasher.HashPair(ctx, job.SourcePath, job.DestinationPath)
	if err != nil {
		return errorResult(fmt.Errorf("hash existing destination: %w", err))
	}

	if srcHash == dstHash {
		return Result{Outcome: OutcomeIdentical, SourceHash: srcHash, DestinationHash: dstHash}
	}
	return Result{Outcome: OutcomeConflict, SourceHash: srcHash, DestinationHash: dstHash}
}

// streamCopy streams source to destination, hashing the source bytes as they
// pass, then re-reads the destination to verify.
func (c *Copier) streamCopy(ctx context.Context, job Job, progress ProgressFunc) Result {
	src, err := os.Open(job.SourcePath)
	if err != nil {
		return errorResult(fmt.Errorf("open source: %w", err))
	}
	defer src.Close()

	dst, err := os.OpenFile(job.DestinationPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return errorResult(fmt.Errorf("create destination: %w", err))
	}

	var out io.Writer = dst
	if c.wrapDest != nil {
		out = c.wrapDest(dst)
	}

	srcHasher, err := c.hasher.Algorithm().New()
	if err != nil {
		dst.Close()
		c.unlink(job.DestinationPath)
		return errorResult(err)
	}

	buf := bufpool.Get(c.bufferSize)
	defer bufpool.Put(buf)

	var copied int64
	lastProgress := time.Time{}

	for {
		if err := ctx.Err(); err != nil {
			dst.Close()
			c.unlink(job.DestinationPath)
			r := errorResult(fmt.Errorf("copy canceled: %w", err))
			r.BytesCopied = copied
			return r
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			srcHasher.Write(buf[:n])
			if _, werr := out.Write(buf[:n]); werr != nil {
				dst.Close()
				c.unlink(job.DestinationPath)
				r := errorResult(fmt.Errorf("write destination: %w", werr))
				r.BytesCopied = copied
				return r
			}
			copied += int64(n)

			if progress != nil && time.Since(lastProgress) >= c.progressInterval {
				progress(copied, job.FileSize)
				lastProgress = time.Now()
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			dst.Close()
			c.unlink(job.DestinationPath)
			r := errorResult(fmt.Errorf("read source: %w", rerr))
			r.BytesCopied = copied
			return r
		}
	}

	if err := dst.Close(); err != nil {
		c.unlink(job.DestinationPath)
		r := errorResult(fmt.Errorf("close destination: %w", err))
		r.BytesCopied = copied
		return r
	}

	if progress != nil {
		progress(copied, job.FileSize)
	}

	srcHash := fmt.Sprintf("%x", srcHasher.Sum(nil))

	// Verification re-reads what actually landed on disk.
	dstHash, err := c.hasher.HashFile(ctx, job.DestinationPath)
	if err != nil {
		c.unlink(job.DestinationPath)
		r := errorResult(fmt.Errorf("verify destination: %w", err))
		r.BytesCopied = copied
		return r
	}

	if srcHash != dstHash {
		c.unlink(job.DestinationPath)
		return Result{
			Outcome:         OutcomeIntegrityError,
			SourceHash:      srcHash,
			DestinationHash: dstHash,
			Message:         IntegrityErrorMessage,
			BytesCopied:     copied,
		}
	}

	return Result{
		Outcome:         OutcomeCompleted,
		SourceHash:      srcHash,
		DestinationHash: dstHash,
		BytesCopied:     copied,
	}
}

// unlink best-effort removes a partial or failed destination.
func (c *Copier) unlink(path string) {
	_ = os.Remove(path)
}

func errorResult(err error) Result {
	return Result{Outcome: OutcomeError, Message: err.Error()}
}
