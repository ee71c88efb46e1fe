// Package scheduler runs the per-bucket claim and dispatch loop.
//
// A scheduler owns one bucket. While running it repeatedly picks the first
// source folder with work, claims a batch of pending entries bounded by the
// bucket's worker cap, and dispatches a copy worker per entry. Workers report
// outcomes back; the scheduler routes them to durable transitions, the event
// bus, the metrics recorder, and the copy logger. Pause halts claiming while
// letting dispatched workers finish; stop additionally awaits a zero worker
// count.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mirrorq/mirrorq/pkg/copier"
	"github.com/mirrorq/mirrorq/pkg/events"
	"github.com/mirrorq/mirrorq/pkg/metrics"
	"github.com/mirrorq/mirrorq/pkg/queue"
)

// Lifecycle errors.
var (
	ErrAlreadyRunning = errors.New("scheduler is already running")
	ErrNotRunning     = errors.New("scheduler is not running")
	ErrNotPaused      = errors.New("scheduler is not paused")
)

// Store is the slice of the queue store a scheduler needs.
type Store interface {
	GetBucket(ctx context.Context, id int64) (*queue.Bucket, error)
	FolderStats(ctx context.Context, bucketID int64) ([]queue.FolderActiveCounts, error)
	Claim(ctx context.Context, bucketID int64, folder string, limit int, workerID int64) ([]queue.FileEntry, error)
	Commit(ctx context.Context, id int64, newStatus queue.Status, extras queue.CommitExtras) error
	SetBucketStatus(ctx context.Context, id int64, status queue.BucketStatus) error
}

// Config tunes the claim loop. Zero values take the defaults.
type Config struct {
	// ShortInterval is the loop delay while work was found or workers are
	// active.
	ShortInterval time.Duration

	// IdleInterval is the loop delay while the bucket has nothing to do.
	IdleInterval time.Duration
}

const (
	defaultShortInterval = 200 * time.Millisecond
	defaultIdleInterval  = time.Second
)

// Scheduler drives one bucket.
type Scheduler struct {
	store   Store
	copier  *copier.Copier
	bus     *events.Bus
	logger  CopyLogger
	metrics *metrics.Metrics

	bucketID      int64
	shortInterval time.Duration
	idleInterval  time.Duration

	mu            sync.Mutex
	status        queue.BucketStatus
	activeWorkers int
	workerSeq     int64
	bucket        *queue.Bucket
	bucketDirty   bool

	// workerCtx is detached from the start context so neither pause, stop,
	// nor process shutdown aborts an in-flight copy. Stop cancels it only
	// when its wait budget lapses.
	workerCtx  context.Context
	workerStop context.CancelFunc
	loopStop   context.CancelFunc
	loopDone   chan struct{}
	workers    sync.WaitGroup
}

// New constructs a scheduler for a persisted bucket. The scheduler starts
// stopped regardless of the bucket row's recorded status; the manager's
// restore step decides what to start.
func New(store Store, c *copier.Copier, bus *events.Bus, log CopyLogger, m *metrics.Metrics, bucketID int64, cfg Config) *Scheduler {
	if cfg.ShortInterval <= 0 {
		cfg.ShortInterval = defaultShortInterval
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = defaultIdleInterval
	}
	if log == nil {
		log = NewCopyLogger()
	}
	return &Scheduler{
		store:         store,
		copier:        c,
		bus:           bus,
		logger:        log,
		metrics:       m,
		bucketID:      bucketID,
		shortInterval: cfg.ShortInterval,
		idleInterval:  cfg.IdleInterval,
		status:        queue.BucketStopped,
		bucketDirty:   true,
	}
}

// BucketID returns the bucket this scheduler drives.
func (s *Scheduler) BucketID() int64 {
	return s.bucketID
}

// Status returns the scheduler's operational state.
func (s *Scheduler) Status() queue.BucketStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ActiveWorkers returns the number of workers currently copying.
func (s *Scheduler) ActiveWorkers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeWorkers
}

// InvalidateBucket forces the next loop iteration to reload the bucket row.
// Called by the manager after a bucket mutation.
func (s *Scheduler) InvalidateBucket() {
	s.mu.Lock()
	s.bucketDirty = true
	s.mu.Unlock()
}

// Start transitions stopped -> running and launches the claim loop.
// Cancelling ctx halts claiming; workers already copying finish regardless
// and are bounded only by Stop's context.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status != queue.BucketStopped {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.status = queue.BucketRunning
	s.bucketDirty = true
	s.workerCtx, s.workerStop = context.WithCancel(context.WithoutCancel(ctx))

	loopCtx, cancel := context.WithCancel(ctx)
	s.loopStop = cancel
	done := make(chan struct{})
	s.loopDone = done
	s.mu.Unlock()

	if err := s.store.SetBucketStatus(ctx, s.bucketID, queue.BucketRunning); err != nil {
		s.mu.Lock()
		s.status = queue.BucketStopped
		workerStop := s.workerStop
		s.workerStop = nil
		s.loopStop = nil
		s.loopDone = nil
		s.mu.Unlock()
		cancel()
		workerStop()
		return err
	}

	s.logger.System(fmt.Sprintf("Scheduler started for bucket %d", s.bucketID))
	s.emitServiceChange()

	go s.loop(loopCtx, done)
	return nil
}

// Pause transitions running -> paused. Claiming stops immediately; dispatched
// workers run to completion.
func (s *Scheduler) Pause(ctx context.Context) error {
	s.mu.Lock()
	if s.status != queue.BucketRunning {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.status = queue.BucketPaused
	s.mu.Unlock()

	if err := s.store.SetBucketStatus(ctx, s.bucketID, queue.BucketPaused); err != nil {
		return err
	}
	s.logger.System(fmt.Sprintf("Scheduler paused for bucket %d", s.bucketID))
	s.emitServiceChange()
	return nil
}

// Resume transitions paused -> running.
func (s *Scheduler) Resume(ctx context.Context) error {
	s.mu.Lock()
	if s.status != queue.BucketPaused {
		s.mu.Unlock()
		return ErrNotPaused
	}
	s.status = queue.BucketRunning
	s.mu.Unlock()

	if err := s.store.SetBucketStatus(ctx, s.bucketID, queue.BucketRunning); err != nil {
		return err
	}
	s.logger.System(fmt.Sprintf("Scheduler resumed for bucket %d", s.bucketID))
	s.emitServiceChange()
	return nil
}

// Stop transitions {running, paused} -> stopped, halts the claim loop, and
// waits until the active worker count reaches zero or ctx expires. Stopping a
// stopped scheduler is a no-op.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.status == queue.BucketStopped {
		s.mu.Unlock()
		return nil
	}
	s.status = queue.BucketStopped
	cancel := s.loopStop
	done := s.loopDone
	workerStop := s.workerStop
	s.loopStop = nil
	s.loopDone = nil
	s.workerStop = nil
	s.mu.Unlock()

	cancelWorkers := func() {
		if workerStop != nil {
			workerStop()
		}
	}

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			cancelWorkers()
			return ctx.Err()
		}
	}

	// Await in-flight workers; abort them only once the budget lapses.
	finished := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		cancelWorkers()
	case <-ctx.Done():
		cancelWorkers()
		return ctx.Err()
	}

	if err := s.store.SetBucketStatus(ctx, s.bucketID, queue.BucketStopped); err != nil {
		return err
	}
	s.logger.System(fmt.Sprintf("Scheduler stopped for bucket %d", s.bucketID))
	s.emitServiceChange()
	return nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		busy := s.iterate(ctx)

		interval := s.idleInterval
		if busy || s.ActiveWorkers() > 0 {
			interval = s.shortInterval
		}
		timer.Reset(interval)
	}
}

// iterate performs one claim pass. Returns true when work was claimed.
func (s *Scheduler) iterate(ctx context.Context) bool {
	s.mu.Lock()
	if s.status != queue.BucketRunning {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	bucket, err := s.bucketView(ctx)
	if err != nil {
		s.logger.System(fmt.Sprintf("Scheduler bucket %d: load failed: %v", s.bucketID, err))
		return false
	}

	sources := bucket.Sources()
	if len(sources) == 0 {
		return false
	}

	counts, err := s.store.FolderStats(ctx, s.bucketID)
	if err != nil {
		s.logger.System(fmt.Sprintf("Scheduler bucket %d: folder stats failed: %v", s.bucketID, err))
		return false
	}
	byFolder := make(map[string]queue.FolderActiveCounts, len(counts))
	for _, c := range counts {
		byFolder[c.Folder] = c
	}

	// Folder stickiness: drain sources in list order, not starting the next
	// folder while the current one still has active or pending work.
	var chosen string
	var pending int64
	for _, folder := range sources {
		c := byFolder[folder]
		if c.Pending > 0 || c.InProgress > 0 {
			chosen = folder
			pending = c.Pending
			break
		}
	}
	if chosen == "" || pending == 0 {
		return false
	}

	s.mu.Lock()
	slots := bucket.WorkerCount - s.activeWorkers
	if slots <= 0 {
		s.mu.Unlock()
		return false
	}
	s.workerSeq++
	workerID := s.workerSeq
	s.mu.Unlock()

	claimed, err := s.store.Claim(ctx, s.bucketID, chosen, slots, workerID)
	if err != nil {
		s.logger.System(fmt.Sprintf("Scheduler bucket %d: claim failed: %v", s.bucketID, err))
		return false
	}
	if len(claimed) == 0 {
		return false
	}

	for _, entry := range claimed {
		s.dispatch(bucket, entry)
	}
	return true
}

// bucketView returns the cached bucket row, reloading it when dirty.
func (s *Scheduler) bucketView(ctx context.Context) (*queue.Bucket, error) {
	s.mu.Lock()
	cached := s.bucket
	dirty := s.bucketDirty
	s.mu.Unlock()

	if cached != nil && !dirty {
		return cached, nil
	}

	bucket, err := s.store.GetBucket(ctx, s.bucketID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.bucket = bucket
	s.bucketDirty = false
	s.mu.Unlock()
	return bucket, nil
}

// dispatch launches one worker for a claimed entry.
func (s *Scheduler) dispatch(bucket *queue.Bucket, entry queue.FileEntry) {
	s.mu.Lock()
	s.activeWorkers++
	active := s.activeWorkers
	ctx := s.workerCtx
	s.mu.Unlock()

	s.metrics.SetActiveWorkers(bucket.Name, active)
	s.bus.PublishStatusChange(events.StatusChange{
		BucketID:   s.bucketID,
		FileID:     entry.ID,
		Status:     string(queue.StatusInProgress),
		SourcePath: entry.SourcePath,
	})

	s.workers.Add(1)
	go func() {
		defer s.workers.Done()

		result := s.copier.Copy(ctx, copier.Job{
			SourcePath:      entry.SourcePath,
			DestinationPath: entry.DestinationPath,
			FileSize:        entry.FileSize,
		}, func(copied, size int64) {
			s.bus.PublishProgress(events.CopyProgress{
				BucketID:    s.bucketID,
				FileID:      entry.ID,
				BytesCopied: copied,
				FileSize:    size,
			})
		})

		s.finish(ctx, bucket, entry, result)

		s.mu.Lock()
		s.activeWorkers--
		active := s.activeWorkers
		s.mu.Unlock()
		s.metrics.SetActiveWorkers(bucket.Name, active)
		s.emitServiceChange()
	}()
}

// finish routes a worker outcome to its durable transition, then emits the
// status event and the normalized log record.
func (s *Scheduler) finish(ctx context.Context, bucket *queue.Bucket, entry queue.FileEntry, result copier.Result) {
	newStatus, extras := routeOutcome(result)

	// The outcome is recorded even when the worker context was cancelled
	// between the copy and the commit.
	ctx = context.WithoutCancel(ctx)

	if err := s.store.Commit(ctx, entry.ID, newStatus, extras); err != nil {
		s.logger.System(fmt.Sprintf("Scheduler bucket %d: commit entry %d failed: %v", s.bucketID, entry.ID, err))
		return
	}

	s.metrics.RecordOutcome(bucket.Name, string(result.Outcome), result.BytesCopied, result.Duration)
	s.bus.PublishStatusChange(events.StatusChange{
		BucketID:   s.bucketID,
		FileID:     entry.ID,
		Status:     string(newStatus),
		SourcePath: entry.SourcePath,
	})

	workerID := int64(0)
	if entry.WorkerID != nil {
		workerID = *entry.WorkerID
	}
	s.logger.Log(string(result.Outcome), CopyFields{
		BucketName:   bucket.Name,
		SourcePath:   entry.SourcePath,
		SourceFolder: entry.SourceFolder,
		FileSize:     entry.FileSize,
		SourceHash:   result.SourceHash,
		WorkerID:     workerID,
		Message:      result.Message,
	})
}

// routeOutcome maps a copy outcome to the Commit arguments.
func routeOutcome(result copier.Result) (queue.Status, queue.CommitExtras) {
	var extras queue.CommitExtras
	if result.SourceHash != "" {
		extras.SourceHash = &result.SourceHash
	}
	if result.DestinationHash != "" {
		extras.DestinationHash = &result.DestinationHash
	}

	switch result.Outcome {
	case copier.OutcomeCompleted, copier.OutcomeIdentical:
		return queue.StatusCompleted, extras
	case copier.OutcomeConflict:
		return queue.StatusConflict, extras
	case copier.OutcomeIntegrityError:
		extras.ErrorMessage = &result.Message
		return queue.StatusError, extras
	default:
		extras.ErrorMessage = &result.Message
		return queue.StatusError, extras
	}
}

func (s *Scheduler) emitServiceChange() {
	s.mu.Lock()
	status := s.status
	active := s.activeWorkers
	bucket := s.bucket
	s.mu.Unlock()

	workerCount := 0
	if bucket != nil {
		workerCount = bucket.WorkerCount
	}
	s.bus.PublishServiceChange(events.ServiceChange{
		BucketID:      s.bucketID,
		Status:        string(status),
		WorkerCount:   workerCount,
		ActiveWorkers: active,
	})
}
