package queue

import (
	"context"
	"time"
)

// folderStatsTTL bounds how stale the cached per-folder aggregates may get
// between mutations. Scheduler loops poll these every few hundred
// milliseconds, so the query is cached rather than repeated.
const folderStatsTTL = 2 * time.Second

// FolderActiveCounts is the per-source-folder view a scheduler uses to decide
// where to dispatch workers.
type FolderActiveCounts struct {
	Folder     string `json:"folder"`
	Pending    int64  `json:"pending"`
	InProgress int64  `json:"in_progress"`
}

type folderStatsEntry struct {
	counts  []FolderActiveCounts
	loaded  time.Time
	expired bool
}

// FolderStats returns pending/in_progress counts grouped by source folder for
// a bucket. Results are cached for a short TTL and invalidated eagerly on any
// mutation touching the bucket.
func (s *Store) FolderStats(ctx context.Context, bucketID int64) ([]FolderActiveCounts, error) {
	s.folderMu.Lock()
	if entry, ok := s.folderStats[bucketID]; ok && !entry.expired && time.Since(entry.loaded) < folderStatsTTL {
		counts := entry.counts
		s.folderMu.Unlock()
		return counts, nil
	}
	s.folderMu.Unlock()

	type row struct {
		SourceFolder string
		Status       Status
		Count        int64
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Model(&FileEntry{}).
		Select("source_folder, status, COUNT(*) AS count").
		Where("bucket_id = ? AND status IN ?", bucketID, []Status{StatusPending, StatusInProgress}).
		Group("source_folder, status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	byFolder := make(map[string]*FolderActiveCounts)
	var order []string
	for _, r := range rows {
		c, ok := byFolder[r.SourceFolder]
		if !ok {
			c = &FolderActiveCounts{Folder: r.SourceFolder}
			byFolder[r.SourceFolder] = c
			order = append(order, r.SourceFolder)
		}
		switch r.Status {
		case StatusPending:
			c.Pending = r.Count
		case StatusInProgress:
			c.InProgress = r.Count
		}
	}

	counts := make([]FolderActiveCounts, 0, len(order))
	for _, folder := range order {
		counts = append(counts, *byFolder[folder])
	}

	s.folderMu.Lock()
	s.folderStats[bucketID] = &folderStatsEntry{counts: counts, loaded: time.Now()}
	s.folderMu.Unlock()

	return counts, nil
}

// invalidateFolderStats drops the cached folder aggregates for a bucket.
// Called after every mutation that can change pending/in_progress counts.
func (s *Store) invalidateFolderStats(bucketID int64) {
	s.folderMu.Lock()
	if entry, ok := s.folderStats[bucketID]; ok {
		entry.expired = true
	}
	s.folderMu.Unlock()
}
