package scheduler

import (
	"github.com/mirrorq/mirrorq/internal/logger"
)

// CopyFields is the normalized record logged for every copy outcome.
type CopyFields struct {
	BucketName   string
	SourcePath   string
	SourceFolder string
	FileSize     int64
	SourceHash   string
	WorkerID     int64
	Message      string
}

// CopyLogger receives one record per copy outcome plus scheduler lifecycle
// messages.
type CopyLogger interface {
	Log(statusLabel string, fields CopyFields)
	System(message string)
}

// slogCopyLogger is the default CopyLogger over the process logger.
type slogCopyLogger struct{}

// NewCopyLogger returns the default CopyLogger.
func NewCopyLogger() CopyLogger {
	return slogCopyLogger{}
}

func (slogCopyLogger) Log(statusLabel string, f CopyFields) {
	attrs := []any{
		logger.Bucket(f.BucketName),
		logger.Status(statusLabel),
		logger.SourcePath(f.SourcePath),
		logger.SourceFolder(f.SourceFolder),
		logger.Size(f.FileSize),
		logger.WorkerID(f.WorkerID),
	}
	if f.SourceHash != "" {
		attrs = append(attrs, logger.SourceHash(f.SourceHash))
	}
	if f.Message != "" {
		attrs = append(attrs, "message", f.Message)
	}

	switch statusLabel {
	case "error", "integrity_error":
		logger.Error("Copy finished", attrs...)
	case "conflict":
		logger.Warn("Copy finished", attrs...)
	default:
		logger.Info("Copy finished", attrs...)
	}
}

func (slogCopyLogger) System(message string) {
	logger.Info(message)
}
