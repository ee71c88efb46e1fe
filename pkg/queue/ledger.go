package queue

import (
	"sync"

	"gorm.io/gorm"
)

// StatusStats is the aggregate for one (scope, status) pair.
type StatusStats struct {
	Count     int64 `json:"count"`
	TotalSize int64 `json:"total_size"`
}

// Stats is a snapshot of aggregates keyed by status. Statuses with zero rows
// are present with zero values so callers can index unconditionally.
type Stats map[Status]StatusStats

// Ledger maintains incremental (count, total-size) aggregates per status for
// the global scope and per bucket. It is owned by the Store and mutated only
// under the Store's write mutex, in lockstep with the transaction that
// mutates the corresponding rows.
type Ledger struct {
	mu        sync.RWMutex
	global    map[Status]StatusStats
	perBucket map[int64]map[Status]StatusStats
}

func newLedger() *Ledger {
	return &Ledger{
		global:    make(map[Status]StatusStats),
		perBucket: make(map[int64]map[Status]StatusStats),
	}
}

// apply adds a (count, size) delta to one (bucket, status) cell and the
// matching global cell.
func (l *Ledger) apply(bucketID int64, status Status, count, size int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	g := l.global[status]
	g.Count += count
	g.TotalSize += size
	l.global[status] = g

	b := l.perBucket[bucketID]
	if b == nil {
		b = make(map[Status]StatusStats)
		l.perBucket[bucketID] = b
	}
	v := b[status]
	v.Count += count
	v.TotalSize += size
	b[status] = v
}

// move records a transition of count rows totalling size bytes from one
// status to another within a bucket.
func (l *Ledger) move(bucketID int64, from, to Status, count, size int64) {
	l.apply(bucketID, from, -count, -size)
	l.apply(bucketID, to, count, size)
}

// dropBucket removes a bucket's aggregates, subtracting them from the global
// scope. Used by bucket deletion.
func (l *Ledger) dropBucket(bucketID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for status, v := range l.perBucket[bucketID] {
		g := l.global[status]
		g.Count -= v.Count
		g.TotalSize -= v.TotalSize
		l.global[status] = g
	}
	delete(l.perBucket, bucketID)
}

// Snapshot returns a copy of the aggregates for one bucket, or the global
// scope when bucketID is nil. O(statuses).
func (l *Ledger) Snapshot(bucketID *int64) Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	src := l.global
	if bucketID != nil {
		src = l.perBucket[*bucketID]
	}

	out := make(Stats, len(AllStatuses))
	for _, status := range AllStatuses {
		out[status] = src[status]
	}
	return out
}

// ledgerRow is the GROUP BY shape used to rebuild the ledger.
type ledgerRow struct {
	BucketID  int64
	Status    Status
	Count     int64
	TotalSize int64
}

// Reload rebuilds the ledger from the ground-truth aggregate over the queue
// table. Under steady state a reload is a no-op; it is the oracle whenever
// divergence is suspected.
func (l *Ledger) Reload(db *gorm.DB) error {
	var rows []ledgerRow
	err := db.Model(&FileEntry{}).
		Select("bucket_id, status, COUNT(*) AS count, COALESCE(SUM(file_size), 0) AS total_size").
		Group("bucket_id, status").
		Scan(&rows).Error
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.global = make(map[Status]StatusStats)
	l.perBucket = make(map[int64]map[Status]StatusStats)

	for _, row := range rows {
		g := l.global[row.Status]
		g.Count += row.Count
		g.TotalSize += row.TotalSize
		l.global[row.Status] = g

		b := l.perBucket[row.BucketID]
		if b == nil {
			b = make(map[Status]StatusStats)
			l.perBucket[row.BucketID] = b
		}
		b[row.Status] = StatusStats{Count: row.Count, TotalSize: row.TotalSize}
	}
	return nil
}
