// Package events is the in-process publish/subscribe point for replication
// events.
//
// Delivery is best-effort and at-most-once per subscriber callback; the queue
// store remains the ground truth. Copy-progress events are coalesced per file
// and flushed as batches on a fixed cadence so a fast copy loop cannot flood
// subscribers.
package events

import (
	"sort"
	"sync"
	"time"
)

// StatusChange reports a file entry reaching a new lifecycle status.
type StatusChange struct {
	BucketID   int64     `json:"bucketId"`
	FileID     int64     `json:"fileId"`
	Status     string    `json:"status"`
	SourcePath string    `json:"sourcePath"`
	Timestamp  time.Time `json:"timestamp"`
}

// CopyProgress reports bytes copied for an in-flight file. Percent is 100
// when FileSize is zero.
type CopyProgress struct {
	BucketID    int64   `json:"bucketId"`
	FileID      int64   `json:"fileId"`
	BytesCopied int64   `json:"bytesCopied"`
	FileSize    int64   `json:"fileSize"`
	Percent     float64 `json:"percent"`
}

// ServiceChange reports a bucket scheduler's operational state.
type ServiceChange struct {
	BucketID      int64  `json:"bucketId"`
	Status        string `json:"status"`
	WorkerCount   int    `json:"workerCount"`
	ActiveWorkers int    `json:"activeWorkers"`
}

// ScanComplete reports a finished scan run over a bucket's sources.
type ScanComplete struct {
	BucketID   int64         `json:"bucketId"`
	RunID      string        `json:"runId"`
	FilesAdded int64         `json:"filesAdded"`
	FilesSeen  int64         `json:"filesSeen"`
	Duration   time.Duration `json:"duration"`
}

// Subscriber receives events. Nil callbacks are skipped.
type Subscriber struct {
	OnStatusChange  func(StatusChange)
	OnCopyProgress  func([]CopyProgress)
	OnServiceChange func(ServiceChange)
	OnScanComplete  func(ScanComplete)
}

// DefaultProgressFlushInterval is the coalescing window for progress batches.
const DefaultProgressFlushInterval = 500 * time.Millisecond

type progressKey struct {
	bucketID int64
	fileID   int64
}

// Bus fans events out to subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int64]*Subscriber
	nextID int64

	progressMu sync.Mutex
	progress   map[progressKey]CopyProgress

	flushInterval time.Duration
	stop          chan struct{}
	done          chan struct{}
}

// NewBus creates a bus and starts its progress flush loop. flushInterval <= 0
// takes the default.
func NewBus(flushInterval time.Duration) *Bus {
	if flushInterval <= 0 {
		flushInterval = DefaultProgressFlushInterval
	}
	b := &Bus{
		subs:          make(map[int64]*Subscriber),
		progress:      make(map[progressKey]CopyProgress),
		flushInterval: flushInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go b.flushLoop()
	return b
}

// Close stops the flush loop after a final progress flush.
func (b *Bus) Close() {
	close(b.stop)
	<-b.done
}

// Subscribe registers a subscriber and returns its unsubscribe function.
func (b *Bus) Subscribe(sub *Subscriber) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = sub
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *Bus) snapshot() []*Subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := make([]*Subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	return subs
}

// PublishStatusChange delivers a status-change event synchronously.
func (b *Bus) PublishStatusChange(e StatusChange) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	for _, sub := range b.snapshot() {
		if sub.OnStatusChange != nil {
			sub.OnStatusChange(e)
		}
	}
}

// PublishServiceChange delivers a service-change event synchronously.
func (b *Bus) PublishServiceChange(e ServiceChange) {
	for _, sub := range b.snapshot() {
		if sub.OnServiceChange != nil {
			sub.OnServiceChange(e)
		}
	}
}

// PublishScanComplete delivers a scan-complete event synchronously.
func (b *Bus) PublishScanComplete(e ScanComplete) {
	for _, sub := range b.snapshot() {
		if sub.OnScanComplete != nil {
			sub.OnScanComplete(e)
		}
	}
}

// PublishProgress records a progress sample for later batched delivery.
// Samples for the same file coalesce to the furthest byte offset, keeping
// delivered progress monotonic.
func (b *Bus) PublishProgress(e CopyProgress) {
	e.Percent = percent(e.BytesCopied, e.FileSize)

	b.progressMu.Lock()
	key := progressKey{bucketID: e.BucketID, fileID: e.FileID}
	if prev, ok := b.progress[key]; !ok || e.BytesCopied >= prev.BytesCopied {
		b.progress[key] = e
	}
	b.progressMu.Unlock()
}

func (b *Bus) flushLoop() {
	defer close(b.done)

	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.flushProgress()
		case <-b.stop:
			b.flushProgress()
			return
		}
	}
}

func (b *Bus) flushProgress() {
	b.progressMu.Lock()
	if len(b.progress) == 0 {
		b.progressMu.Unlock()
		return
	}
	pending := b.progress
	b.progress = make(map[progressKey]CopyProgress)
	b.progressMu.Unlock()

	batch := make([]CopyProgress, 0, len(pending))
	for _, e := range pending {
		batch = append(batch, e)
	}
	sort.Slice(batch, func(i, j int) bool {
		if batch[i].BucketID != batch[j].BucketID {
			return batch[i].BucketID < batch[j].BucketID
		}
		return batch[i].FileID < batch[j].FileID
	})

	for _, sub := range b.snapshot() {
		if sub.OnCopyProgress != nil {
			sub.OnCopyProgress(batch)
		}
	}
}

func percent(copied, size int64) float64 {
	if size <= 0 {
		return 100
	}
	return float64(copied) / float64(size) * 100
}
