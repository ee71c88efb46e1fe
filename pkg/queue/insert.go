package queue

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InsertMany bulk-inserts queue entries for a bucket, deduplicating on the
// (source_path, destination_path, bucket_id) triple. Rows whose triple
// already exists are skipped; the returned count covers only newly added
// rows. Entries default to pending; a scanner fast path may pre-set a status.
// The ledger is adjusted for added rows in the same critical section.
func (s *Store) InsertMany(ctx context.Context, bucketID int64, entries []FileEntry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var added int64
	addedByStatus := make(map[Status]StatusStats)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var exists int64
		if err := tx.Model(&Bucket{}).Where("id = ?", bucketID).Count(&exists).Error; err != nil {
			return err
		}
		if exists == 0 {
			return ErrBucketNotFound
		}

		now := time.Now()
		for i := range entries {
			e := entries[i]
			e.ID = 0
			e.BucketID = bucketID
			if !e.Status.IsValid() {
				e.Status = StatusPending
			}
			e.CreatedAt = now
			e.UpdatedAt = now

			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&e)
			if res.Error != nil {
				return fmt.Errorf("insert %s: %w", e.SourcePath, res.Error)
			}
			if res.RowsAffected == 1 {
				added++
				agg := addedByStatus[e.Status]
				agg.Count++
				agg.TotalSize += e.FileSize
				addedByStatus[e.Status] = agg
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if added > 0 {
		for status, agg := range addedByStatus {
			s.ledger.apply(bucketID, status, agg.Count, agg.TotalSize)
		}
		s.invalidateFolderStats(bucketID)
	}
	return added, nil
}
