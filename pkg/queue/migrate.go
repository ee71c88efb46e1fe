package queue

import (
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
)

// Service state keys.
const (
	stateKeySchemaVersion = "schema_version"
	stateKeyHashAlgorithm = "hash_algorithm"

	// StateKeyResumePrefix prefixes per-bucket operational resume hints.
	StateKeyResumePrefix = "bucket_resume/"
)

// schemaVersion is the current schema version. Databases at an older version
// are migrated forward step by step before the store serves requests.
const schemaVersion = 2

// migrate brings the database schema to the current version. Every step is
// idempotent; the recorded schema_version gates which steps run.
func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		current, err := readSchemaVersion(tx)
		if err != nil {
			return err
		}
		if current > schemaVersion {
			return fmt.Errorf("database schema version %d is newer than supported version %d", current, schemaVersion)
		}

		for v := current + 1; v <= schemaVersion; v++ {
			step, ok := migrationSteps[v]
			if ok {
				if err := step(tx); err != nil {
					return fmt.Errorf("migration step %d: %w", v, err)
				}
			}
			if err := writeSchemaVersion(tx, v); err != nil {
				return err
			}
		}
		return nil
	})
}

// migrationSteps maps a target version to the step that produces it.
// Version 1 is the initial schema created by AutoMigrate.
var migrationSteps = map[int]func(*gorm.DB) error{
	2: migrateNormalizeEmptyHashes,
}

// migrateNormalizeEmptyHashes converts legacy empty-string hash and error
// columns to NULL so nullable-field semantics hold across upgrades.
func migrateNormalizeEmptyHashes(tx *gorm.DB) error {
	if err := tx.Exec("UPDATE file_queue SET source_hash = NULL WHERE source_hash = ''").Error; err != nil {
		return err
	}
	if err := tx.Exec("UPDATE file_queue SET destination_hash = NULL WHERE destination_hash = ''").Error; err != nil {
		return err
	}
	return tx.Exec("UPDATE file_queue SET error_message = NULL WHERE error_message = ''").Error
}

func readSchemaVersion(tx *gorm.DB) (int, error) {
	var state ServiceState
	err := tx.Where("key = ?", stateKeySchemaVersion).First(&state).Error
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	v, err := strconv.Atoi(state.Value)
	if err != nil {
		return 0, fmt.Errorf("invalid schema_version %q: %w", state.Value, err)
	}
	return v, nil
}

func writeSchemaVersion(tx *gorm.DB, v int) error {
	state := ServiceState{
		Key:       stateKeySchemaVersion,
		Value:     strconv.Itoa(v),
		UpdatedAt: time.Now(),
	}
	return tx.Save(&state).Error
}
