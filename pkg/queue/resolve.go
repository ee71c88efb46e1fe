package queue

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// ResolveAction is the operator decision for a conflicted entry.
type ResolveAction string

const (
	// ResolveOverwrite requeues the entry so the worker overwrites the
	// divergent destination.
	ResolveOverwrite ResolveAction = "overwrite"

	// ResolveSkip accepts the existing destination and marks the entry
	// completed without copying.
	ResolveSkip ResolveAction = "skip"
)

// IsValid reports whether a is a known resolve action.
func (a ResolveAction) IsValid() bool {
	return a == ResolveOverwrite || a == ResolveSkip
}

// ResolveConflict applies an operator decision to a single conflicted entry.
// overwrite: conflict -> pending, clearing the destination hash so the entry
// is re-copied. skip: conflict -> completed, clearing both hashes since the
// divergent destination is accepted without verification. When bucketID > 0
// the lookup is scoped to that bucket. An entry that is not in conflict is
// left untouched and no error is returned.
func (s *Store) ResolveConflict(ctx context.Context, bucketID, id int64, action ResolveAction) error {
	if !action.IsValid() {
		return ErrInvalidResolveAction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var meta entryMeta
	transitioned := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&FileEntry{}).
			Select("id, bucket_id, status, file_size").
			Where("id = ? AND status = ?", id, StatusConflict)
		if bucketID > 0 {
			q = q.Where("bucket_id = ?", bucketID)
		}
		if err := q.Take(&meta).Error; err != nil {
			if isNotFound(err) {
				return nil // not in conflict: nothing to do
			}
			return err
		}

		res := tx.Model(&FileEntry{}).
			Where("id = ? AND status = ?", id, StatusConflict).
			Updates(resolveUpdates(action, time.Now()))
		if res.Error != nil {
			return res.Error
		}
		transitioned = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return err
	}

	if transitioned {
		s.ledger.move(meta.BucketID, StatusConflict, resolveTarget(action), 1, meta.FileSize)
		s.invalidateFolderStats(meta.BucketID)
	}
	return nil
}

// ResolveConflictsBulk applies one action to every conflicted entry, scoped
// to a bucket when bucketID > 0. Returns the number of entries transitioned.
// The ledger delta is pre-computed inside the same transaction.
func (s *Store) ResolveConflictsBulk(ctx context.Context, bucketID int64, action ResolveAction) (int64, error) {
	if !action.IsValid() {
		return 0, ErrInvalidResolveAction
	}
	return s.bulkTransition(ctx, bucketID, StatusConflict, resolveTarget(action), resolveUpdates(action, time.Now()))
}

// RetryError requeues a single errored entry: error -> pending. When
// bucketID > 0 the lookup is scoped to that bucket. An entry that is not in
// error is left untouched.
func (s *Store) RetryError(ctx context.Context, bucketID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var meta entryMeta
	transitioned := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&FileEntry{}).
			Select("id, bucket_id, status, file_size").
			Where("id = ? AND status = ?", id, StatusError)
		if bucketID > 0 {
			q = q.Where("bucket_id = ?", bucketID)
		}
		if err := q.Take(&meta).Error; err != nil {
			if isNotFound(err) {
				return nil
			}
			return err
		}

		res := tx.Model(&FileEntry{}).
			Where("id = ? AND status = ?", id, StatusError).
			Updates(retryUpdates(time.Now()))
		if res.Error != nil {
			return res.Error
		}
		transitioned = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return err
	}

	if transitioned {
		s.ledger.move(meta.BucketID, StatusError, StatusPending, 1, meta.FileSize)
		s.invalidateFolderStats(meta.BucketID)
	}
	return nil
}

// RetryErrorsBulk requeues every errored entry, scoped to a bucket when
// bucketID > 0. Returns the number of entries transitioned.
func (s *Store) RetryErrorsBulk(ctx context.Context, bucketID int64) (int64, error) {
	return s.bulkTransition(ctx, bucketID, StatusError, StatusPending, retryUpdates(time.Now()))
}

// bulkTransition moves every entry in fromStatus to toStatus with the given
// column updates, adjusting the ledger by a delta read in the same
// transaction.
func (s *Store) bulkTransition(ctx context.Context, bucketID int64, fromStatus, toStatus Status, updates map[string]any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deltas []ledgerRow
	var total int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&FileEntry{}).
			Select("bucket_id, status, COUNT(*) AS count, COALESCE(SUM(file_size), 0) AS total_size").
			Where("status = ?", fromStatus)
		if bucketID > 0 {
			q = q.Where("bucket_id = ?", bucketID)
		}
		if err := q.Group("bucket_id, status").Scan(&deltas).Error; err != nil {
			return err
		}

		u := tx.Model(&FileEntry{}).Where("status = ?", fromStatus)
		if bucketID > 0 {
			u = u.Where("bucket_id = ?", bucketID)
		}
		res := u.Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		total = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, d := range deltas {
		s.ledger.move(d.BucketID, fromStatus, toStatus, d.Count, d.TotalSize)
		s.invalidateFolderStats(d.BucketID)
	}
	return total, nil
}

// resolveTarget maps a resolve action to the status it produces.
func resolveTarget(action ResolveAction) Status {
	if action == ResolveSkip {
		return StatusCompleted
	}
	return StatusPending
}

// resolveUpdates builds the column updates for a conflict resolution.
func resolveUpdates(action ResolveAction, now time.Time) map[string]any {
	if action == ResolveSkip {
		return map[string]any{
			"status":           StatusCompleted,
			"source_hash":      nil,
			"destination_hash": nil,
			"completed_at":     now,
			"updated_at":       now,
		}
	}
	return map[string]any{
		"status":           StatusPending,
		"destination_hash": nil,
		"worker_id":        nil,
		"started_at":       nil,
		"completed_at":     nil,
		"updated_at":       now,
	}
}

// retryUpdates builds the column updates for an error retry.
func retryUpdates(now time.Time) map[string]any {
	return map[string]any{
		"status":           StatusPending,
		"error_message":    nil,
		"source_hash":      nil,
		"destination_hash": nil,
		"worker_id":        nil,
		"started_at":       nil,
		"completed_at":     nil,
		"updated_at":       now,
	}
}
