package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mirrorq/mirrorq/internal/logger"
)

// Config contains queue database configuration.
type Config struct {
	// Path is the path to the SQLite database file.
	Path string `mapstructure:"path" validate:"required" yaml:"path"`
}

// Store is the durable queue store backed by SQLite via GORM.
//
// All mutations run inside transactions serialized by an internal mutex; the
// stats ledger is adjusted under the same mutex so ledger and durable state
// never diverge under single-process operation.
type Store struct {
	db     *gorm.DB
	config Config

	// mu serializes write transactions and the ledger updates coupled to them.
	mu     sync.Mutex
	ledger *Ledger

	// folder stats cache, see folders.go
	folderMu    sync.Mutex
	folderStats map[int64]*folderStatsEntry
}

// Open opens (creating if necessary) the queue database, runs schema
// migrations, reverts any rows left in_progress by a previous crash, and
// loads the stats ledger from the queue table.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("queue database path is required")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// SQLite pragmas for better concurrent access:
	// - journal_mode(WAL): Write-Ahead Logging for concurrent readers/single writer
	// - busy_timeout(5000): Wait up to 5 seconds when database is locked
	// - foreign_keys(1): enforce the bucket cascade constraint
	dsn := cfg.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate queue database: %w", err)
	}

	s := &Store{
		db:          db,
		config:      cfg,
		ledger:      newLedger(),
		folderStats: make(map[int64]*folderStatsEntry),
	}

	// Crash recovery: no row survives a restart in_progress.
	recovered, err := s.recoverInProgress()
	if err != nil {
		return nil, fmt.Errorf("failed to recover in-progress entries: %w", err)
	}
	if recovered > 0 {
		logger.Warn("Recovered interrupted queue entries", "count", recovered)
	}

	if err := s.ledger.Reload(db); err != nil {
		return nil, fmt.Errorf("failed to load stats ledger: %w", err)
	}

	return s, nil
}

// DB returns the underlying GORM database connection, for tests.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// EnsureHashAlgorithm pins the configured content-hash algorithm in
// service_state. Changing the algorithm while hashed rows exist would make
// source/destination comparisons meaningless, so that case is refused.
func (s *Store) EnsureHashAlgorithm(ctx context.Context, algorithm string) error {
	recorded, err := s.GetState(ctx, stateKeyHashAlgorithm)
	if err != nil {
		return err
	}
	if recorded == "" || recorded == algorithm {
		return s.SetState(ctx, stateKeyHashAlgorithm, algorithm)
	}

	var hashed int64
	if err := s.db.WithContext(ctx).
		Model(&FileEntry{}).
		Where("source_hash IS NOT NULL OR destination_hash IS NOT NULL").
		Count(&hashed).Error; err != nil {
		return err
	}
	if hashed > 0 {
		return fmt.Errorf("%w: recorded %q, configured %q", ErrHashAlgorithmChanged, recorded, algorithm)
	}
	return s.SetState(ctx, stateKeyHashAlgorithm, algorithm)
}

// GetState returns the service_state value for key, or "" when absent.
func (s *Store) GetState(ctx context.Context, key string) (string, error) {
	var state ServiceState
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&state).Error
	if err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", err
	}
	return state.Value, nil
}

// SetState upserts a service_state key.
func (s *Store) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := ServiceState{Key: key, Value: value, UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).Save(&state).Error
}

// isUniqueConstraintError checks if the error is a unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isNotFound checks for gorm's record-not-found error.
func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
