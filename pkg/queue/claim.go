package queue

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Claim atomically transitions up to limit pending entries of a bucket to
// in_progress, stamped with workerID and a start time. When folder is
// non-empty only entries under that source root are considered. Candidates
// are taken in ascending id order (FIFO by insertion); any candidate whose
// guarded update does not land (stolen or removed concurrently) is skipped
// silently. Returns the entries that actually transitioned.
func (s *Store) Claim(ctx context.Context, bucketID int64, folder string, limit int, workerID int64) ([]FileEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var claimed []FileEntry
	var claimedSize int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("bucket_id = ? AND status = ?", bucketID, StatusPending)
		if folder != "" {
			q = q.Where("source_folder = ?", folder)
		}

		var candidates []FileEntry
		if err := q.Order("id ASC").Limit(limit).Find(&candidates).Error; err != nil {
			return err
		}

		now := time.Now()
		for i := range candidates {
			e := candidates[i]

			// Guarded on the row's current status: only one claimant wins.
			res := tx.Model(&FileEntry{}).
				Where("id = ? AND status = ?", e.ID, StatusPending).
				Updates(map[string]any{
					"status":     StatusInProgress,
					"worker_id":  workerID,
					"started_at": now,
					"updated_at": now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}

			e.Status = StatusInProgress
			e.WorkerID = &workerID
			e.StartedAt = &now
			e.UpdatedAt = now
			claimed = append(claimed, e)
			claimedSize += e.FileSize
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(claimed) > 0 {
		s.ledger.move(bucketID, StatusPending, StatusInProgress, int64(len(claimed)), claimedSize)
		s.invalidateFolderStats(bucketID)
	}
	return claimed, nil
}
