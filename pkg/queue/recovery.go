package queue

import "time"

// recoverInProgress reverts every in_progress row to pending, clearing the
// worker stamp. Runs once during Open, before the ledger is loaded, so the
// reverted rows are counted as pending from the start.
func (s *Store) recoverInProgress() (int64, error) {
	res := s.db.Model(&FileEntry{}).
		Where("status = ?", StatusInProgress).
		Updates(map[string]any{
			"status":     StatusPending,
			"worker_id":  nil,
			"started_at": nil,
			"updated_at": time.Now(),
		})
	return res.RowsAffected, res.Error
}
