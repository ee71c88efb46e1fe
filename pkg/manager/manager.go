// Package manager owns the set of bucket schedulers.
//
// It is the control-plane entry point for bucket CRUD and lifecycle: it
// validates input, persists through the queue store, keeps one scheduler per
// bucket, restores previously running buckets after a restart, and fans
// scheduler events out through the shared bus.
package manager

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/mirrorq/mirrorq/internal/logger"
	"github.com/mirrorq/mirrorq/pkg/copier"
	"github.com/mirrorq/mirrorq/pkg/events"
	"github.com/mirrorq/mirrorq/pkg/metrics"
	"github.com/mirrorq/mirrorq/pkg/queue"
	"github.com/mirrorq/mirrorq/pkg/scheduler"
)

// Config bounds bucket worker caps and tunes the schedulers.
type Config struct {
	// WorkerDefaultCount is used when a bucket is created without a cap.
	WorkerDefaultCount int

	// WorkerMaxCount caps any bucket's worker count.
	WorkerMaxCount int

	// Scheduler carries the loop intervals.
	Scheduler scheduler.Config
}

const (
	defaultWorkerCount = 4
	defaultWorkerMax   = 16
)

// BucketParams is the validated input for bucket create and update.
type BucketParams struct {
	Name              string   `json:"name" validate:"required,min=1,max=255"`
	SourceFolders     []string `json:"source_folders" validate:"required,min=1,dive,required"`
	DestinationFolder string   `json:"destination_folder" validate:"required"`
	WorkerCount       int      `json:"worker_count" validate:"omitempty,min=1"`
}

// Manager owns bucket schedulers and their lifecycle.
type Manager struct {
	store   *queue.Store
	copier  *copier.Copier
	bus     *events.Bus
	log     scheduler.CopyLogger
	metrics *metrics.Metrics
	config  Config

	// baseCtx bounds worker lifetimes to the process, not to the API request
	// that triggered a start.
	baseCtx context.Context

	validate *validator.Validate

	mu         sync.Mutex
	schedulers map[int64]*scheduler.Scheduler
}

// New constructs a manager and a (stopped) scheduler for every persisted
// bucket. baseCtx is the process lifetime.
func New(baseCtx context.Context, store *queue.Store, c *copier.Copier, bus *events.Bus, log scheduler.CopyLogger, m *metrics.Metrics, cfg Config) (*Manager, error) {
	if cfg.WorkerDefaultCount <= 0 {
		cfg.WorkerDefaultCount = defaultWorkerCount
	}
	if cfg.WorkerMaxCount <= 0 {
		cfg.WorkerMaxCount = defaultWorkerMax
	}

	mgr := &Manager{
		store:      store,
		copier:     c,
		bus:        bus,
		log:        log,
		metrics:    m,
		config:     cfg,
		baseCtx:    baseCtx,
		validate:   validator.New(),
		schedulers: make(map[int64]*scheduler.Scheduler),
	}

	buckets, err := store.ListBuckets(baseCtx)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	for _, b := range buckets {
		mgr.schedulers[b.ID] = mgr.newScheduler(b.ID)
	}
	return mgr, nil
}

func (m *Manager) newScheduler(bucketID int64) *scheduler.Scheduler {
	return scheduler.New(m.store, m.copier, m.bus, m.log, m.metrics, bucketID, m.config.Scheduler)
}

// RestoreState starts every scheduler whose bucket was running when the
// process last stopped (recorded as a resume hint on graceful shutdown, or
// left in the bucket row by a crash). Hints are cleared once consumed.
func (m *Manager) RestoreState(ctx context.Context) error {
	buckets, err := m.store.ListBuckets(ctx)
	if err != nil {
		return err
	}

	for _, b := range buckets {
		key := queue.StateKeyResumePrefix + fmt.Sprint(b.ID)
		hint, err := m.store.GetState(ctx, key)
		if err != nil {
			return err
		}

		status := b.Status
		if hint != "" {
			status = queue.BucketStatus(hint)
			if err := m.store.SetState(ctx, key, ""); err != nil {
				return err
			}
		}

		if status == queue.BucketRunning {
			if err := m.Start(b.ID); err != nil {
				logger.Error("Failed to restore bucket", logger.BucketID(b.ID), logger.Err(err))
				continue
			}
			logger.Info("Restored running bucket", logger.BucketID(b.ID), logger.Bucket(b.Name))
		} else if b.Status != queue.BucketStopped {
			// Normalize rows left non-stopped by a crash.
			if err := m.store.SetBucketStatus(ctx, b.ID, queue.BucketStopped); err != nil {
				return err
			}
		}
	}
	return nil
}

// clampWorkers applies the default and maximum worker caps.
func (m *Manager) clampWorkers(n int) int {
	if n <= 0 {
		return m.config.WorkerDefaultCount
	}
	if n > m.config.WorkerMaxCount {
		return m.config.WorkerMaxCount
	}
	return n
}

// CreateBucket validates, persists, and registers a new bucket with a
// stopped scheduler.
func (m *Manager) CreateBucket(ctx context.Context, params BucketParams) (*queue.Bucket, error) {
	if err := m.validate.Struct(params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBucket, err)
	}

	b := &queue.Bucket{
		Name:              params.Name,
		DestinationFolder: params.DestinationFolder,
		WorkerCount:       m.clampWorkers(params.WorkerCount),
		Status:            queue.BucketStopped,
	}
	if err := b.SetSources(params.SourceFolders); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBucket, err)
	}

	if err := m.store.CreateBucket(ctx, b); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.schedulers[b.ID] = m.newScheduler(b.ID)
	m.mu.Unlock()

	m.bus.PublishServiceChange(events.ServiceChange{
		BucketID:    b.ID,
		Status:      string(queue.BucketStopped),
		WorkerCount: b.WorkerCount,
	})
	logger.Info("Bucket created", logger.BucketID(b.ID), logger.Bucket(b.Name))
	return b, nil
}

// UpdateBucket applies bucket changes. Source folders and the destination
// may only change while the scheduler is stopped; the worker cap changes
// live and applies to subsequent claims.
func (m *Manager) UpdateBucket(ctx context.Context, id int64, params BucketParams) (*queue.Bucket, error) {
	if err := m.validate.Struct(params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBucket, err)
	}

	sched, err := m.schedulerFor(id)
	if err != nil {
		return nil, err
	}

	b, err := m.store.GetBucket(ctx, id)
	if err != nil {
		return nil, err
	}

	structural := params.DestinationFolder != b.DestinationFolder ||
		!equalStrings(params.SourceFolders, b.Sources())
	if structural && sched.Status() != queue.BucketStopped {
		return nil, queue.ErrBucketNotStopped
	}

	b.Name = params.Name
	b.DestinationFolder = params.DestinationFolder
	b.WorkerCount = m.clampWorkers(params.WorkerCount)
	if err := b.SetSources(params.SourceFolders); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBucket, err)
	}

	if err := m.store.UpdateBucket(ctx, b); err != nil {
		return nil, err
	}

	sched.InvalidateBucket()
	m.bus.PublishServiceChange(events.ServiceChange{
		BucketID:      b.ID,
		Status:        string(sched.Status()),
		WorkerCount:   b.WorkerCount,
		ActiveWorkers: sched.ActiveWorkers(),
	})
	logger.Info("Bucket updated", logger.BucketID(b.ID), logger.Bucket(b.Name))
	return b, nil
}

// DeleteBucket removes a stopped bucket, its queue rows, and its scheduler.
func (m *Manager) DeleteBucket(ctx context.Context, id int64) error {
	sched, err := m.schedulerFor(id)
	if err != nil {
		return err
	}
	if sched.Status() != queue.BucketStopped {
		return queue.ErrBucketNotStopped
	}

	if err := m.store.DeleteBucket(ctx, id); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.schedulers, id)
	m.mu.Unlock()

	logger.Info("Bucket deleted", logger.BucketID(id))
	return nil
}

// GetBucket returns the persisted bucket row.
func (m *Manager) GetBucket(ctx context.Context, id int64) (*queue.Bucket, error) {
	return m.store.GetBucket(ctx, id)
}

// ListBuckets returns all persisted buckets.
func (m *Manager) ListBuckets(ctx context.Context) ([]queue.Bucket, error) {
	return m.store.ListBuckets(ctx)
}

// ActiveWorkers reports the live worker count for a bucket, 0 when unknown.
func (m *Manager) ActiveWorkers(id int64) int {
	m.mu.Lock()
	sched := m.schedulers[id]
	m.mu.Unlock()
	if sched == nil {
		return 0
	}
	return sched.ActiveWorkers()
}

// SchedulerStatus reports a bucket scheduler's operational state.
func (m *Manager) SchedulerStatus(id int64) (queue.BucketStatus, error) {
	sched, err := m.schedulerFor(id)
	if err != nil {
		return "", err
	}
	return sched.Status(), nil
}

// Start starts a bucket's scheduler. Workers are bound to the manager's base
// context, not the caller's.
func (m *Manager) Start(id int64) error {
	sched, err := m.schedulerFor(id)
	if err != nil {
		return err
	}
	return sched.Start(m.baseCtx)
}

// Pause pauses a bucket's scheduler.
func (m *Manager) Pause(ctx context.Context, id int64) error {
	sched, err := m.schedulerFor(id)
	if err != nil {
		return err
	}
	return sched.Pause(ctx)
}

// Resume resumes a paused scheduler.
func (m *Manager) Resume(ctx context.Context, id int64) error {
	sched, err := m.schedulerFor(id)
	if err != nil {
		return err
	}
	return sched.Resume(ctx)
}

// Stop stops a bucket's scheduler, waiting for its workers.
func (m *Manager) Stop(ctx context.Context, id int64) error {
	sched, err := m.schedulerFor(id)
	if err != nil {
		return err
	}
	return sched.Stop(ctx)
}

// StopAll records a resume hint for every non-stopped bucket, then stops all
// schedulers concurrently. Used by graceful shutdown; RestoreState consumes
// the hints on the next start.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	scheds := make([]*scheduler.Scheduler, 0, len(m.schedulers))
	for _, sched := range m.schedulers {
		scheds = append(scheds, sched)
	}
	m.mu.Unlock()

	for _, sched := range scheds {
		status := sched.Status()
		if status == queue.BucketStopped {
			continue
		}
		key := queue.StateKeyResumePrefix + fmt.Sprint(sched.BucketID())
		if err := m.store.SetState(ctx, key, string(status)); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, sched := range scheds {
		sched := sched
		g.Go(func() error {
			return sched.Stop(ctx)
		})
	}
	return g.Wait()
}

func (m *Manager) schedulerFor(id int64) (*scheduler.Scheduler, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sched, ok := m.schedulers[id]
	if !ok {
		return nil, queue.ErrBucketNotFound
	}
	return sched, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
