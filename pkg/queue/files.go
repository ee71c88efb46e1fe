package queue

import "context"

// ListFilesOptions narrows and pages a queue listing.
type ListFilesOptions struct {
	// Status filters to one lifecycle state when non-empty.
	Status Status
	// Limit caps the page size; <= 0 means the default of 100.
	Limit int
	// Offset skips rows for paging.
	Offset int
}

const defaultListLimit = 100

// ListFiles returns a bucket's queue entries ordered most recently updated
// first, optionally filtered by status, with the total row count for the
// filter so callers can page.
func (s *Store) ListFiles(ctx context.Context, bucketID int64, opts ListFilesOptions) ([]FileEntry, int64, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	q := s.db.WithContext(ctx).Model(&FileEntry{}).Where("bucket_id = ?", bucketID)
	if opts.Status != "" {
		q = q.Where("status = ?", opts.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []FileEntry
	err := q.Order("updated_at DESC").
		Limit(limit).
		Offset(opts.Offset).
		Find(&entries).Error
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// GetFile returns a single queue entry by id.
func (s *Store) GetFile(ctx context.Context, id int64) (*FileEntry, error) {
	var e FileEntry
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&e).Error
	if err != nil {
		if isNotFound(err) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	return &e, nil
}
