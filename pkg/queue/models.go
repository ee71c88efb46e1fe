// Package queue implements the durable file-replication queue.
//
// The queue package is the sole authority on durable state. Buckets, queue
// entries, and service state live in an embedded SQLite database opened in
// WAL mode; every mutation goes through the Store in an atomic transaction,
// and the in-memory stats ledger is adjusted in lockstep with each commit.
package queue

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a queue entry.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
	StatusConflict   Status = "conflict"
)

// AllStatuses lists every queue entry status.
var AllStatuses = []Status{
	StatusPending,
	StatusInProgress,
	StatusCompleted,
	StatusError,
	StatusConflict,
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusError, StatusConflict:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal status. Terminal rows only move
// again through operator-invoked resolve/retry primitives.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusConflict:
		return true
	}
	return false
}

// BucketStatus is the operational state of a bucket's scheduler, persisted in
// the bucket row so it survives restarts.
type BucketStatus string

const (
	BucketStopped BucketStatus = "stopped"
	BucketRunning BucketStatus = "running"
	BucketPaused  BucketStatus = "paused"
)

// IsValid reports whether s is a known bucket status.
func (s BucketStatus) IsValid() bool {
	switch s {
	case BucketStopped, BucketRunning, BucketPaused:
		return true
	}
	return false
}

// Bucket groups one or more source roots under a single destination root.
type Bucket struct {
	ID                int64        `gorm:"primaryKey" json:"id"`
	Name              string       `gorm:"uniqueIndex;not null;size:255" json:"name"`
	SourceFolders     string       `gorm:"type:text;not null" json:"-"` // JSON array of absolute paths
	DestinationFolder string       `gorm:"not null" json:"destination_folder"`
	WorkerCount       int          `gorm:"not null;default:4" json:"worker_count"`
	Status            BucketStatus `gorm:"not null;default:stopped;size:20" json:"status"`
	CreatedAt         time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Bucket.
func (Bucket) TableName() string {
	return "buckets"
}

// Sources returns the ordered list of source roots.
func (b *Bucket) Sources() []string {
	if b.SourceFolders == "" {
		return nil
	}
	var sources []string
	if err := json.Unmarshal([]byte(b.SourceFolders), &sources); err != nil {
		return nil
	}
	return sources
}

// SetSources replaces the ordered list of source roots.
func (b *Bucket) SetSources(sources []string) error {
	data, err := json.Marshal(sources)
	if err != nil {
		return err
	}
	b.SourceFolders = string(data)
	return nil
}

// FileEntry is one durable queue row: a single (source file, destination,
// bucket) triple awaiting or completing replication. The triple is unique;
// reinsertion is a no-op.
type FileEntry struct {
	ID              int64      `gorm:"primaryKey" json:"id"`
	BucketID        int64      `gorm:"not null;uniqueIndex:uniq_file_queue_triple,priority:3;index:idx_file_queue_claim,priority:1;index:idx_file_queue_bucket_updated,priority:1" json:"bucket_id"`
	SourcePath      string     `gorm:"not null;uniqueIndex:uniq_file_queue_triple,priority:1" json:"source_path"`
	SourceFolder    string     `gorm:"not null;index;index:idx_file_queue_claim,priority:3" json:"source_folder"`
	RelativePath    string     `gorm:"not null" json:"relative_path"`
	DestinationPath string     `gorm:"not null;uniqueIndex:uniq_file_queue_triple,priority:2" json:"destination_path"`
	FileSize        int64      `gorm:"not null;default:0" json:"file_size"`
	SourceHash      *string    `json:"source_hash,omitempty"`
	DestinationHash *string    `json:"destination_hash,omitempty"`
	Status          Status     `gorm:"not null;default:pending;size:20;index:idx_file_queue_claim,priority:2;index:idx_file_queue_status_updated,priority:1" json:"status"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"index:idx_file_queue_updated,sort:desc;index:idx_file_queue_status_updated,priority:2,sort:desc;index:idx_file_queue_bucket_updated,priority:2,sort:desc" json:"updated_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	WorkerID        *int64     `json:"worker_id,omitempty"`
}

// TableName returns the table name for FileEntry.
func (FileEntry) TableName() string {
	return "file_queue"
}

// ServiceState is a key-value row for schema versioning and operational hints.
type ServiceState struct {
	Key       string    `gorm:"primaryKey;size:255" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for ServiceState.
func (ServiceState) TableName() string {
	return "service_state"
}

// allModels lists every model migrated into the queue database.
func allModels() []any {
	return []any{&Bucket{}, &FileEntry{}, &ServiceState{}}
}
