package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorq/mirrorq/pkg/events"
	"github.com/mirrorq/mirrorq/pkg/queue"
)

type scanEnv struct {
	store  *queue.Store
	bus    *events.Bus
	bucket *queue.Bucket
	src    string
	dst    string
}

func newScanEnv(t *testing.T) *scanEnv {
	t.Helper()

	dir := t.TempDir()
	store, err := queue.Open(queue.Config{Path: filepath.Join(dir, "queue.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bus := events.NewBus(time.Hour)
	t.Cleanup(bus.Close)

	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.MkdirAll(src, 0o755))

	b := &queue.Bucket{Name: "scan", DestinationFolder: dst, WorkerCount: 1}
	require.NoError(t, b.SetSources([]string{src}))
	require.NoError(t, store.CreateBucket(context.Background(), b))

	return &scanEnv{store: store, bus: bus, bucket: b, src: src, dst: dst}
}

func (e *scanEnv) write(t *testing.T, rel string, data []byte) {
	t.Helper()
	path := filepath.Join(e.src, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestScanEnqueuesFiles(t *testing.T) {
	e := newScanEnv(t)
	e.write(t, "a.txt", []byte("aaa"))
	e.write(t, "sub/b.txt", []byte("bbbb"))

	s := New(e.store, e.bus, nil, Config{Recursive: true})
	res, err := s.Scan(context.Background(), e.bucket)
	require.NoError(t, err)

	assert.Equal(t, int64(2), res.FilesSeen)
	assert.Equal(t, int64(2), res.FilesAdded)
	assert.NotEmpty(t, res.RunID)

	files, _, err := e.store.ListFiles(context.Background(), e.bucket.ID, queue.ListFilesOptions{})
	require.NoError(t, err)
	require.Len(t, files, 2)

	byRel := make(map[string]queue.FileEntry)
	for _, f := range files {
		byRel[f.RelativePath] = f
	}
	b := byRel[filepath.Join("sub", "b.txt")]
	assert.Equal(t, queue.StatusPending, b.Status)
	assert.Equal(t, int64(4), b.FileSize)
	assert.Equal(t, e.src, b.SourceFolder)
	assert.Equal(t, filepath.Join(e.dst, "sub", "b.txt"), b.DestinationPath)
}

func TestScanIdempotent(t *testing.T) {
	e := newScanEnv(t)
	e.write(t, "a.txt", []byte("aaa"))

	s := New(e.store, e.bus, nil, Config{Recursive: true})
	ctx := context.Background()

	res, err := s.Scan(ctx, e.bucket)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.FilesAdded)

	// Second scan sees the file but adds nothing.
	res, err = s.Scan(ctx, e.bucket)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.FilesSeen)
	assert.Equal(t, int64(0), res.FilesAdded)
}

func TestScanNonRecursive(t *testing.T) {
	e := newScanEnv(t)
	e.write(t, "top.txt", []byte("x"))
	e.write(t, "sub/nested.txt", []byte("y"))

	s := New(e.store, e.bus, nil, Config{Recursive: false})
	res, err := s.Scan(context.Background(), e.bucket)
	require.NoError(t, err)

	assert.Equal(t, int64(1), res.FilesAdded)
	files, _, err := e.store.ListFiles(context.Background(), e.bucket.ID, queue.ListFilesOptions{})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "top.txt", files[0].RelativePath)
}

func TestScanIgnorePatterns(t *testing.T) {
	e := newScanEnv(t)
	e.write(t, "keep.txt", []byte("k"))
	e.write(t, "skip.tmp", []byte("s"))
	e.write(t, ".DS_Store", []byte("m"))
	e.write(t, "logs/app.log", []byte("l"))

	s := New(e.store, e.bus, nil, Config{
		Recursive:      true,
		IgnorePatterns: []string{"*.tmp", ".DS_Store", "logs/*"},
	})
	res, err := s.Scan(context.Background(), e.bucket)
	require.NoError(t, err)

	assert.Equal(t, int64(1), res.FilesAdded)
	files, _, err := e.store.ListFiles(context.Background(), e.bucket.ID, queue.ListFilesOptions{})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "keep.txt", files[0].RelativePath)
}

func TestScanMissingRootSkipped(t *testing.T) {
	e := newScanEnv(t)
	e.write(t, "a.txt", []byte("a"))

	ghost := filepath.Join(t.TempDir(), "ghost")
	require.NoError(t, e.bucket.SetSources([]string{ghost, e.src}))
	require.NoError(t, e.store.UpdateBucket(context.Background(), e.bucket))

	s := New(e.store, e.bus, nil, Config{Recursive: true})
	res, err := s.Scan(context.Background(), e.bucket)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.FilesAdded)
}

func TestScanPreDedupe(t *testing.T) {
	e := newScanEnv(t)
	e.write(t, "same.txt", []byte("equal size"))
	e.write(t, "diff.txt", []byte("new content"))

	// Destination already holds a same-size file for same.txt only.
	require.NoError(t, os.MkdirAll(e.dst, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(e.dst, "same.txt"), []byte("EQUAL SIZE"), 0o644))

	s := New(e.store, e.bus, nil, Config{Recursive: true, PreDedupe: true})
	res, err := s.Scan(context.Background(), e.bucket)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.FilesAdded)

	stats := e.store.Stats(&e.bucket.ID)
	assert.Equal(t, int64(1), stats[queue.StatusCompleted].Count)
	assert.Equal(t, int64(1), stats[queue.StatusPending].Count)
}

func TestScanEmitsEvent(t *testing.T) {
	e := newScanEnv(t)
	e.write(t, "a.txt", []byte("a"))

	got := make(chan events.ScanComplete, 1)
	e.bus.Subscribe(&events.Subscriber{
		OnScanComplete: func(ev events.ScanComplete) {
			select {
			case got <- ev:
			default:
			}
		},
	})

	s := New(e.store, e.bus, nil, Config{Recursive: true})
	res, err := s.Scan(context.Background(), e.bucket)
	require.NoError(t, err)

	select {
	case ev := <-got:
		assert.Equal(t, e.bucket.ID, ev.BucketID)
		assert.Equal(t, res.RunID, ev.RunID)
		assert.Equal(t, int64(1), ev.FilesAdded)
	default:
		t.Fatal("scan-complete event not delivered")
	}
}

func TestWatchTriggersRescan(t *testing.T) {
	e := newScanEnv(t)

	s := New(e.store, e.bus, nil, Config{
		Recursive: true,
		Debounce:  50 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watchErr := make(chan error, 1)
	go func() {
		watchErr <- s.Watch(ctx, e.bucket)
	}()

	// Let the watcher register before producing events.
	time.Sleep(100 * time.Millisecond)
	e.write(t, "born-later.txt", []byte("new"))

	require.Eventually(t, func() bool {
		return e.store.Stats(&e.bucket.ID)[queue.StatusPending].Count == 1
	}, 10*time.Second, 25*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-watchErr, context.Canceled)
}
