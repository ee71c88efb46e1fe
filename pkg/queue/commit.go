package queue

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// CommitExtras carries the optional fields recorded with a terminal
// transition.
type CommitExtras struct {
	SourceHash      *string
	DestinationHash *string
	ErrorMessage    *string
}

// entryMeta is the single-statement meta fetch used to compute the ledger
// delta for a transition.
type entryMeta struct {
	ID       int64
	BucketID int64
	Status   Status
	FileSize int64
}

// Commit sets a terminal status on a queue entry with optional hash fields,
// error message, and a completion timestamp. Only a claimed (in_progress)
// entry can be committed; anything else returns ErrEntryNotClaimed. The
// entry's current status is read inside the same transaction so the ledger
// delta is exact.
func (s *Store) Commit(ctx context.Context, id int64, newStatus Status, extras CommitExtras) error {
	if !newStatus.Terminal() {
		return ErrNonTerminalCommit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var meta entryMeta

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&FileEntry{}).
			Select("id, bucket_id, status, file_size").
			Where("id = ?", id).
			Take(&meta).Error
		if err != nil {
			if isNotFound(err) {
				return ErrEntryNotFound
			}
			return err
		}
		if meta.Status != StatusInProgress {
			return ErrEntryNotClaimed
		}

		now := time.Now()
		updates := map[string]any{
			"status":       newStatus,
			"updated_at":   now,
			"completed_at": now,
		}
		if extras.SourceHash != nil {
			updates["source_hash"] = *extras.SourceHash
		}
		if extras.DestinationHash != nil {
			updates["destination_hash"] = *extras.DestinationHash
		}
		if extras.ErrorMessage != nil {
			updates["error_message"] = *extras.ErrorMessage
		}

		res := tx.Model(&FileEntry{}).
			Where("id = ? AND status = ?", id, StatusInProgress).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrEntryNotClaimed
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.ledger.move(meta.BucketID, StatusInProgress, newStatus, 1, meta.FileSize)
	s.invalidateFolderStats(meta.BucketID)
	return nil
}
