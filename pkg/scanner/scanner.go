// Package scanner enumerates bucket source roots and seeds the queue.
//
// A scan walks every source root, mirrors each file's relative path under
// the bucket's destination root, and bulk-inserts pending entries; the
// store's triple uniqueness makes repeated scans idempotent. An optional
// watch mode re-scans a bucket when its sources change on disk.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/mirrorq/mirrorq/internal/logger"
	"github.com/mirrorq/mirrorq/pkg/events"
	"github.com/mirrorq/mirrorq/pkg/metrics"
	"github.com/mirrorq/mirrorq/pkg/queue"
)

// Config controls scan behavior.
type Config struct {
	// Recursive walks source roots recursively. When false only direct
	// children are enumerated.
	Recursive bool

	// IgnorePatterns are filepath.Match patterns tested against the base
	// name and the slash-relative path of every file.
	IgnorePatterns []string

	// PreDedupe inserts an entry as completed when the destination already
	// exists with the same size, skipping the worker's hash check. Equal
	// size does not imply equal content, so this trades safety for scan
	// speed and is off by default.
	PreDedupe bool

	// BatchSize bounds one InsertMany call. Zero takes the default of 500.
	BatchSize int

	// Debounce is the quiet window before a watch-triggered re-scan.
	// Zero takes the default of 2s.
	Debounce time.Duration
}

const (
	defaultBatchSize = 500
	defaultDebounce  = 2 * time.Second
)

// Result summarizes one scan run.
type Result struct {
	RunID      string
	FilesSeen  int64
	FilesAdded int64
	Duration   time.Duration
}

// Scanner seeds the queue from bucket source roots.
type Scanner struct {
	store   *queue.Store
	bus     *events.Bus
	metrics *metrics.Metrics
	config  Config
}

// New creates a Scanner.
func New(store *queue.Store, bus *events.Bus, m *metrics.Metrics, cfg Config) *Scanner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	return &Scanner{store: store, bus: bus, metrics: m, config: cfg}
}

// Scan enumerates every source root of the bucket and inserts queue entries.
// Missing source roots are skipped with a warning rather than failing the
// whole run.
func (s *Scanner) Scan(ctx context.Context, bucket *queue.Bucket) (Result, error) {
	start := time.Now()
	result := Result{RunID: uuid.NewString()}

	batch := make([]queue.FileEntry, 0, s.config.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		added, err := s.store.InsertMany(ctx, bucket.ID, batch)
		if err != nil {
			return err
		}
		result.FilesAdded += added
		batch = batch[:0]
		return nil
	}

	for _, root := range bucket.Sources() {
		if _, err := os.Stat(root); errors.Is(err, os.ErrNotExist) {
			logger.Warn("Source root missing, skipping",
				logger.Bucket(bucket.Name), logger.SourceFolder(root))
			continue
		}

		err := s.walkRoot(ctx, root, func(path string, info fs.FileInfo) error {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			if s.ignored(rel) {
				return nil
			}

			result.FilesSeen++
			entry := queue.FileEntry{
				SourcePath:      path,
				SourceFolder:    root,
				RelativePath:    rel,
				DestinationPath: filepath.Join(bucket.DestinationFolder, rel),
				FileSize:        info.Size(),
			}
			if s.config.PreDedupe {
				if dst, err := os.Stat(entry.DestinationPath); err == nil && dst.Size() == info.Size() {
					entry.Status = queue.StatusCompleted
				}
			}

			batch = append(batch, entry)
			if len(batch) >= s.config.BatchSize {
				return flush()
			}
			return nil
		})
		if err != nil {
			return result, fmt.Errorf("scan %s: %w", root, err)
		}
	}

	if err := flush(); err != nil {
		return result, err
	}

	result.Duration = time.Since(start)
	s.metrics.RecordScan(bucket.Name, result.FilesAdded)
	s.bus.PublishScanComplete(events.ScanComplete{
		BucketID:   bucket.ID,
		RunID:      result.RunID,
		FilesAdded: result.FilesAdded,
		FilesSeen:  result.FilesSeen,
		Duration:   result.Duration,
	})
	logger.Info("Scan complete",
		logger.Bucket(bucket.Name),
		"run_id", result.RunID,
		"files_seen", result.FilesSeen,
		"files_added", result.FilesAdded,
		logger.DurationMs(float64(result.Duration.Milliseconds())))

	return result, nil
}

// walkRoot visits every regular file under root, honoring the recursion
// setting and cancellation.
func (s *Scanner) walkRoot(ctx context.Context, root string, visit func(path string, info fs.FileInfo) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}

		if d.IsDir() {
			if path != root && !s.config.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		return visit(path, info)
	})
}

// ignored tests a slash-relative path against the configured patterns.
func (s *Scanner) ignored(rel string) bool {
	slashRel := filepath.ToSlash(rel)
	base := filepath.Base(rel)
	for _, pattern := range s.config.IgnorePatterns {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, slashRel); ok {
			return true
		}
	}
	return false
}

// Watch re-scans the bucket whenever a filesystem event lands under one of
// its source roots, debounced by the configured quiet window. Blocks until
// ctx is done.
func (s *Scanner) Watch(ctx context.Context, bucket *queue.Bucket) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	for _, root := range bucket.Sources() {
		if err := s.watchTree(watcher, root); err != nil {
			return err
		}
	}

	var timer *time.Timer
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// New directories must join the watch before their contents
			// settle.
			if s.config.Recursive && event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = s.watchTree(watcher, event.Name)
				}
			}
			if timer == nil {
				timer = time.NewTimer(s.config.Debounce)
			} else {
				timer.Reset(s.config.Debounce)
			}
			pending = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Watcher error", logger.Bucket(bucket.Name), logger.Err(err))

		case <-pending:
			pending = nil
			if _, err := s.Scan(ctx, bucket); err != nil {
				logger.Error("Watch-triggered scan failed",
					logger.Bucket(bucket.Name), logger.Err(err))
			}
		}
	}
}

// watchTree registers root and, when recursive, every directory below it.
func (s *Scanner) watchTree(watcher *fsnotify.Watcher, root string) error {
	if !s.config.Recursive {
		return watcher.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
