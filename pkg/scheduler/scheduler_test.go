package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorq/mirrorq/pkg/copier"
	"github.com/mirrorq/mirrorq/pkg/events"
	"github.com/mirrorq/mirrorq/pkg/hasher"
	"github.com/mirrorq/mirrorq/pkg/queue"
)

// captureLogger records copy outcome labels for assertions.
type captureLogger struct {
	mu     sync.Mutex
	labels []string
}

func (c *captureLogger) Log(statusLabel string, _ CopyFields) {
	c.mu.Lock()
	c.labels = append(c.labels, statusLabel)
	c.mu.Unlock()
}

func (c *captureLogger) System(string) {}

func (c *captureLogger) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.labels)
}

type testRig struct {
	store  *queue.Store
	bus    *events.Bus
	log    *captureLogger
	bucket *queue.Bucket
	srcDir string
	dstDir string
}

func newTestRig(t *testing.T, workerCount int) *testRig {
	t.Helper()

	dir := t.TempDir()
	store, err := queue.Open(queue.Config{Path: filepath.Join(dir, "queue.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	srcDir := filepath.Join(dir, "src")
	dstDir := filepath.Join(dir, "dst")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))

	b := &queue.Bucket{
		Name:              "test",
		DestinationFolder: dstDir,
		WorkerCount:       workerCount,
	}
	require.NoError(t, b.SetSources([]string{srcDir}))
	require.NoError(t, store.CreateBucket(context.Background(), b))

	bus := events.NewBus(time.Hour)
	t.Cleanup(bus.Close)

	return &testRig{
		store:  store,
		bus:    bus,
		log:    &captureLogger{},
		bucket: b,
		srcDir: srcDir,
		dstDir: dstDir,
	}
}

func (r *testRig) newScheduler(t *testing.T) *Scheduler {
	t.Helper()
	h, err := hasher.New(hasher.SHA256)
	require.NoError(t, err)
	c := copier.New(h, copier.Config{BufferSize: 4096})
	return New(r.store, c, r.bus, r.log, nil, r.bucket.ID, Config{
		ShortInterval: 10 * time.Millisecond,
		IdleInterval:  20 * time.Millisecond,
	})
}

func (r *testRig) seedFiles(t *testing.T, n int) {
	t.Helper()
	ctx := context.Background()

	var entries []queue.FileEntry
	for i := 0; i < n; i++ {
		rel := fmt.Sprintf("f%03d.txt", i)
		src := filepath.Join(r.srcDir, rel)
		require.NoError(t, os.WriteFile(src, []byte("payload "+rel), 0o644))
		entries = append(entries, queue.FileEntry{
			SourcePath:      src,
			SourceFolder:    r.srcDir,
			RelativePath:    rel,
			DestinationPath: filepath.Join(r.dstDir, rel),
			FileSize:        int64(len("payload " + rel)),
		})
	}
	_, err := r.store.InsertMany(ctx, r.bucket.ID, entries)
	require.NoError(t, err)
}

func waitForStatus(t *testing.T, store *queue.Store, bucketID int64, status queue.Status, want int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		return store.Stats(&bucketID)[status].Count == want
	}, 10*time.Second, 20*time.Millisecond)
}

func TestSchedulerProcessesQueue(t *testing.T) {
	r := newTestRig(t, 3)
	r.seedFiles(t, 10)

	s := r.newScheduler(t)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	defer s.Stop(ctx)

	waitForStatus(t, r.store, r.bucket.ID, queue.StatusCompleted, 10)

	stats := r.store.Stats(&r.bucket.ID)
	assert.Zero(t, stats[queue.StatusPending].Count)
	assert.Zero(t, stats[queue.StatusInProgress].Count)
	assert.Equal(t, 10, r.log.count())

	// Destinations mirror sources.
	for i := 0; i < 10; i++ {
		rel := fmt.Sprintf("f%03d.txt", i)
		got, err := os.ReadFile(filepath.Join(r.dstDir, rel))
		require.NoError(t, err)
		assert.Equal(t, []byte("payload "+rel), got)
	}

	// Hash pair consistency for completed rows.
	files, _, err := r.store.ListFiles(ctx, r.bucket.ID, queue.ListFilesOptions{Status: queue.StatusCompleted})
	require.NoError(t, err)
	for _, f := range files {
		require.NotNil(t, f.SourceHash)
		require.NotNil(t, f.DestinationHash)
		assert.Equal(t, *f.SourceHash, *f.DestinationHash)
	}
}

func TestSchedulerRoutesConflict(t *testing.T) {
	r := newTestRig(t, 2)
	r.seedFiles(t, 1)

	// Pre-create a divergent destination.
	require.NoError(t, os.MkdirAll(r.dstDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(r.dstDir, "f000.txt"), []byte("divergent"), 0o644))

	s := r.newScheduler(t)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	defer s.Stop(ctx)

	waitForStatus(t, r.store, r.bucket.ID, queue.StatusConflict, 1)

	files, _, err := r.store.ListFiles(ctx, r.bucket.ID, queue.ListFilesOptions{Status: queue.StatusConflict})
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.NotNil(t, files[0].SourceHash)
	require.NotNil(t, files[0].DestinationHash)
	assert.NotEqual(t, *files[0].SourceHash, *files[0].DestinationHash)

	// Resolve overwrite requeues and the scheduler re-copies.
	require.NoError(t, r.store.ResolveConflict(ctx, r.bucket.ID, files[0].ID, queue.ResolveOverwrite))
	waitForStatus(t, r.store, r.bucket.ID, queue.StatusCompleted, 1)

	got, err := os.ReadFile(filepath.Join(r.dstDir, "f000.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload f000.txt"), got)
}

func TestSchedulerRoutesError(t *testing.T) {
	r := newTestRig(t, 1)

	// Queue entry whose source does not exist.
	_, err := r.store.InsertMany(context.Background(), r.bucket.ID, []queue.FileEntry{{
		SourcePath:      filepath.Join(r.srcDir, "missing.txt"),
		SourceFolder:    r.srcDir,
		RelativePath:    "missing.txt",
		DestinationPath: filepath.Join(r.dstDir, "missing.txt"),
		FileSize:        99,
	}})
	require.NoError(t, err)

	s := r.newScheduler(t)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	defer s.Stop(ctx)

	waitForStatus(t, r.store, r.bucket.ID, queue.StatusError, 1)

	files, _, err := r.store.ListFiles(ctx, r.bucket.ID, queue.ListFilesOptions{Status: queue.StatusError})
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.NotNil(t, files[0].ErrorMessage)
	assert.NotEmpty(t, *files[0].ErrorMessage)
}

func TestSchedulerLifecycleTransitions(t *testing.T) {
	r := newTestRig(t, 1)
	s := r.newScheduler(t)
	ctx := context.Background()

	// Invalid transitions from stopped.
	require.ErrorIs(t, s.Pause(ctx), ErrNotRunning)
	require.ErrorIs(t, s.Resume(ctx), ErrNotPaused)
	require.NoError(t, s.Stop(ctx)) // no-op

	require.NoError(t, s.Start(ctx))
	assert.Equal(t, queue.BucketRunning, s.Status())
	require.ErrorIs(t, s.Start(ctx), ErrAlreadyRunning)

	// Persisted status follows the scheduler.
	b, err := r.store.GetBucket(ctx, r.bucket.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.BucketRunning, b.Status)

	require.NoError(t, s.Pause(ctx))
	assert.Equal(t, queue.BucketPaused, s.Status())
	require.ErrorIs(t, s.Pause(ctx), ErrNotRunning)

	require.NoError(t, s.Resume(ctx))
	assert.Equal(t, queue.BucketRunning, s.Status())

	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, queue.BucketStopped, s.Status())
	assert.Zero(t, s.ActiveWorkers())

	b, err = r.store.GetBucket(ctx, r.bucket.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.BucketStopped, b.Status)
}

func TestSchedulerPauseStopsClaiming(t *testing.T) {
	r := newTestRig(t, 1)
	s := r.newScheduler(t)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Pause(ctx))

	r.seedFiles(t, 3)

	// While paused nothing is claimed.
	time.Sleep(150 * time.Millisecond)
	stats := r.store.Stats(&r.bucket.ID)
	assert.Equal(t, int64(3), stats[queue.StatusPending].Count)

	require.NoError(t, s.Resume(ctx))
	waitForStatus(t, r.store, r.bucket.ID, queue.StatusCompleted, 3)
	require.NoError(t, s.Stop(ctx))
}

func TestSchedulerStopAwaitsWorkers(t *testing.T) {
	r := newTestRig(t, 4)
	r.seedFiles(t, 8)

	s := r.newScheduler(t)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	// Stop mid-stream; whatever was dispatched must finish, nothing stays
	// in_progress once Stop returns.
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, s.Stop(ctx))

	assert.Zero(t, s.ActiveWorkers())
	stats := r.store.Stats(&r.bucket.ID)
	assert.Zero(t, stats[queue.StatusInProgress].Count)
}

func TestSchedulerStartStopImmediate(t *testing.T) {
	r := newTestRig(t, 1)
	s := r.newScheduler(t)
	ctx := context.Background()

	// Stop may run before the claim loop goroutine is ever scheduled.
	for i := 0; i < 200; i++ {
		require.NoError(t, s.Start(ctx))
		require.NoError(t, s.Stop(ctx))
	}
	assert.Equal(t, queue.BucketStopped, s.Status())
}

// seedPipe queues a single entry whose source is a named pipe, so the copy
// stays in flight until the test feeds and closes the writer side.
func seedPipe(t *testing.T, r *testRig, size int64) (pipe, dst string) {
	t.Helper()
	pipe = filepath.Join(r.srcDir, "stream.dat")
	dst = filepath.Join(r.dstDir, "stream.dat")
	require.NoError(t, syscall.Mkfifo(pipe, 0o644))

	_, err := r.store.InsertMany(context.Background(), r.bucket.ID, []queue.FileEntry{{
		SourcePath:      pipe,
		SourceFolder:    r.srcDir,
		RelativePath:    "stream.dat",
		DestinationPath: dst,
		FileSize:        size,
	}})
	require.NoError(t, err)
	return pipe, dst
}

func TestSchedulerShutdownLetsCopiesFinish(t *testing.T) {
	r := newTestRig(t, 1)
	payload := []byte("first half second half")
	pipe, dst := seedPipe(t, r, int64(len(payload)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := r.newScheduler(t)
	require.NoError(t, s.Start(ctx))

	// Blocks until the worker opens the read side: the copy is in flight.
	w, err := os.OpenFile(pipe, os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = w.Write(payload[:11])
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return s.ActiveWorkers() == 1
	}, 5*time.Second, 5*time.Millisecond)

	// Process shutdown begins mid-copy; the worker must not notice.
	cancel()

	_, err = w.Write(payload[11:])
	require.NoError(t, err)
	require.NoError(t, w.Close())

	waitForStatus(t, r.store, r.bucket.ID, queue.StatusCompleted, 1)
	require.NoError(t, s.Stop(context.Background()))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	files, _, err := r.store.ListFiles(context.Background(), r.bucket.ID,
		queue.ListFilesOptions{Status: queue.StatusCompleted})
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.NotNil(t, files[0].SourceHash)
	require.NotNil(t, files[0].DestinationHash)
	assert.Equal(t, *files[0].SourceHash, *files[0].DestinationHash)
}

func TestSchedulerStopBudgetAbortsWorkers(t *testing.T) {
	r := newTestRig(t, 1)
	payload := []byte("never fully delivered")
	pipe, dst := seedPipe(t, r, int64(len(payload)))

	s := r.newScheduler(t)
	require.NoError(t, s.Start(context.Background()))

	w, err := os.OpenFile(pipe, os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = w.Write(payload[:5])
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return s.ActiveWorkers() == 1
	}, 5*time.Second, 5*time.Millisecond)

	// An exhausted budget gives up on the worker and cancels it.
	expired, expire := context.WithCancel(context.Background())
	expire()
	require.Error(t, s.Stop(expired))

	// Once unblocked the worker observes the cancellation, and the outcome
	// is still recorded durably. The worker may already have closed the read
	// side, so the write is best effort.
	_, _ = w.Write(payload[5:])
	_ = w.Close()

	waitForStatus(t, r.store, r.bucket.ID, queue.StatusError, 1)

	files, _, err := r.store.ListFiles(context.Background(), r.bucket.ID,
		queue.ListFilesOptions{Status: queue.StatusError})
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.NotNil(t, files[0].ErrorMessage)

	// The partial destination was unlinked.
	_, err = os.Stat(dst)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestSchedulerRestartAfterStop(t *testing.T) {
	r := newTestRig(t, 2)
	s := r.newScheduler(t)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Stop(ctx))

	r.seedFiles(t, 2)
	require.NoError(t, s.Start(ctx))
	waitForStatus(t, r.store, r.bucket.ID, queue.StatusCompleted, 2)
	require.NoError(t, s.Stop(ctx))
}

func TestSchedulerWorkerCapBound(t *testing.T) {
	r := newTestRig(t, 2)
	r.seedFiles(t, 12)

	s := r.newScheduler(t)
	ctx := context.Background()

	done := make(chan struct{})
	var maxActive int
	var mu sync.Mutex
	go func() {
		defer close(done)
		for {
			mu.Lock()
			if a := s.ActiveWorkers(); a > maxActive {
				maxActive = a
			}
			stop := maxActive > 2
			mu.Unlock()
			if stop {
				return
			}
			select {
			case <-time.After(time.Millisecond):
			case <-ctx.Done():
				return
			}
			if r.store.Stats(&r.bucket.ID)[queue.StatusCompleted].Count == 12 {
				return
			}
		}
	}()

	require.NoError(t, s.Start(ctx))
	waitForStatus(t, r.store, r.bucket.ID, queue.StatusCompleted, 12)
	require.NoError(t, s.Stop(ctx))
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, maxActive, 2)
}

func TestSchedulerFolderStickiness(t *testing.T) {
	r := newTestRig(t, 1)
	ctx := context.Background()

	// Two source folders; the bucket lists srcA before srcB.
	srcA := filepath.Join(r.srcDir, "..", "srcA")
	srcB := filepath.Join(r.srcDir, "..", "srcB")
	require.NoError(t, os.MkdirAll(srcA, 0o755))
	require.NoError(t, os.MkdirAll(srcB, 0o755))
	require.NoError(t, r.bucket.SetSources([]string{srcA, srcB}))
	require.NoError(t, r.store.UpdateBucket(ctx, r.bucket))

	var entries []queue.FileEntry
	for _, folder := range []string{srcB, srcA} {
		for i := 0; i < 3; i++ {
			rel := fmt.Sprintf("%s-%d.txt", filepath.Base(folder), i)
			src := filepath.Join(folder, rel)
			require.NoError(t, os.WriteFile(src, []byte(rel), 0o644))
			entries = append(entries, queue.FileEntry{
				SourcePath:      src,
				SourceFolder:    folder,
				RelativePath:    rel,
				DestinationPath: filepath.Join(r.dstDir, rel),
				FileSize:        int64(len(rel)),
			})
		}
	}
	_, err := r.store.InsertMany(ctx, r.bucket.ID, entries)
	require.NoError(t, err)

	// Track completion order through status events.
	var mu sync.Mutex
	var order []string
	r.bus.Subscribe(&events.Subscriber{
		OnStatusChange: func(e events.StatusChange) {
			if e.Status == string(queue.StatusCompleted) {
				mu.Lock()
				order = append(order, e.SourcePath)
				mu.Unlock()
			}
		},
	})

	s := r.newScheduler(t)
	require.NoError(t, s.Start(ctx))
	waitForStatus(t, r.store, r.bucket.ID, queue.StatusCompleted, 6)
	require.NoError(t, s.Stop(ctx))

	// All of srcA drains before any srcB file completes.
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 6)
	for i := 0; i < 3; i++ {
		assert.Contains(t, order[i], "srcA")
	}
	for i := 3; i < 6; i++ {
		assert.Contains(t, order[i], "srcB")
	}
}
