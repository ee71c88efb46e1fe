package logger

import "log/slog"

// Standard field keys for structured logging. Use these keys consistently
// across all log statements so replication activity can be queried uniformly.
const (
	KeyBucket       = "bucket"        // Bucket name
	KeyBucketID     = "bucket_id"     // Bucket numeric id
	KeyFileID       = "file_id"       // Queue entry id
	KeySourcePath   = "source_path"   // Absolute source path
	KeySourceFolder = "source_folder" // Source root the file belongs to
	KeyDestPath     = "dest_path"     // Computed destination path
	KeySize         = "size"          // File size in bytes
	KeyStatus       = "status"        // Queue entry status
	KeySourceHash   = "source_hash"   // Content hash of the source
	KeyDestHash     = "dest_hash"     // Content hash of the destination
	KeyWorkerID     = "worker_id"     // Scheduler-assigned worker id
	KeyDurationMs   = "duration_ms"   // Operation duration in milliseconds
	KeyError        = "error"         // Error message
)

// Bucket returns a slog.Attr for a bucket name
func Bucket(name string) slog.Attr {
	return slog.String(KeyBucket, name)
}

// BucketID returns a slog.Attr for a bucket id
func BucketID(id int64) slog.Attr {
	return slog.Int64(KeyBucketID, id)
}

// FileID returns a slog.Attr for a queue entry id
func FileID(id int64) slog.Attr {
	return slog.Int64(KeyFileID, id)
}

// SourcePath returns a slog.Attr for an absolute source path
func SourcePath(p string) slog.Attr {
	return slog.String(KeySourcePath, p)
}

// SourceFolder returns a slog.Attr for a source root
func SourceFolder(p string) slog.Attr {
	return slog.String(KeySourceFolder, p)
}

// SourceHash returns a slog.Attr for a source content hash
func SourceHash(h string) slog.Attr {
	return slog.String(KeySourceHash, h)
}

// Size returns a slog.Attr for a file size
func Size(s int64) slog.Attr {
	return slog.Int64(KeySize, s)
}

// Status returns a slog.Attr for a queue entry status
func Status(s string) slog.Attr {
	return slog.String(KeyStatus, s)
}

// WorkerID returns a slog.Attr for a worker id
func WorkerID(id int64) slog.Attr {
	return slog.Int64(KeyWorkerID, id)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
