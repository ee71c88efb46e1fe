package queue

import "context"

// Stats returns the ledger snapshot for one bucket, or the global aggregate
// when bucketID is nil. O(1) in queue size; no table scan.
func (s *Store) Stats(bucketID *int64) Stats {
	return s.ledger.Snapshot(bucketID)
}

// Reconcile rebuilds the ledger from the queue table. Serialized with writes
// so the rebuild observes a consistent snapshot.
func (s *Store) Reconcile(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Reload(s.db.WithContext(ctx))
}
