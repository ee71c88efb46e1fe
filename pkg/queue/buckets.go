package queue

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// CreateBucket persists a new bucket. Names are unique; a duplicate yields
// ErrDuplicateBucket.
func (s *Store) CreateBucket(ctx context.Context, b *Bucket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.Status == "" {
		b.Status = BucketStopped
	}
	if err := s.db.WithContext(ctx).Create(b).Error; err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateBucket, b.Name)
		}
		return err
	}
	return nil
}

// GetBucket returns a bucket by id.
func (s *Store) GetBucket(ctx context.Context, id int64) (*Bucket, error) {
	var b Bucket
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&b).Error
	if err != nil {
		if isNotFound(err) {
			return nil, ErrBucketNotFound
		}
		return nil, err
	}
	return &b, nil
}

// GetBucketByName returns a bucket by its unique name.
func (s *Store) GetBucketByName(ctx context.Context, name string) (*Bucket, error) {
	var b Bucket
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&b).Error
	if err != nil {
		if isNotFound(err) {
			return nil, ErrBucketNotFound
		}
		return nil, err
	}
	return &b, nil
}

// ListBuckets returns all buckets ordered by name.
func (s *Store) ListBuckets(ctx context.Context) ([]Bucket, error) {
	var buckets []Bucket
	err := s.db.WithContext(ctx).Order("name ASC").Find(&buckets).Error
	return buckets, err
}

// UpdateBucket persists bucket field changes. The caller (the bucket manager)
// enforces which fields may change in which lifecycle state.
func (s *Store) UpdateBucket(ctx context.Context, b *Bucket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.db.WithContext(ctx).Model(&Bucket{}).
		Where("id = ?", b.ID).
		Updates(map[string]any{
			"name":               b.Name,
			"source_folders":     b.SourceFolders,
			"destination_folder": b.DestinationFolder,
			"worker_count":       b.WorkerCount,
			"status":             b.Status,
		})
	if res.Error != nil {
		if isUniqueConstraintError(res.Error) {
			return fmt.Errorf("%w: %s", ErrDuplicateBucket, b.Name)
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrBucketNotFound
	}
	return nil
}

// SetBucketStatus persists a bucket's operational state so it can be restored
// after a restart.
func (s *Store) SetBucketStatus(ctx context.Context, id int64, status BucketStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.db.WithContext(ctx).Model(&Bucket{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrBucketNotFound
	}
	return nil
}

// DeleteBucket removes a bucket and all of its queue entries in one
// transaction, then drops the bucket from the ledger. The caller must have
// stopped the bucket's scheduler first.
func (s *Store) DeleteBucket(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("bucket_id = ?", id).Delete(&FileEntry{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&Bucket{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrBucketNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.ledger.dropBucket(id)
	s.invalidateFolderStats(id)
	return nil
}
