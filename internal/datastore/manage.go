// manage.go: database migration and logger wiring
package datastore

import (
	"time"

	"github.com/plategate/plategate/internal/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DefaultSlowQueryThreshold is the duration above which queries are logged
// as slow.
const DefaultSlowQueryThreshold = time.Second

// createGormLogger configures and returns a new GORM logger instance.
func createGormLogger() logger.Interface {
	return NewGormLogger(DefaultSlowQueryThreshold, logger.Warn)
}

// performAutoMigration runs GORM auto-migration for every table used by the
// store. Both the cloud store and the edge cache migrate the full set, the
// unused tables simply stay empty.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	migrationStart := time.Now()
	migrationLogger := getLogger().With("db_type", dbType)

	migrationLogger.Debug("Starting database migration")

	if err := db.AutoMigrate(
		&Rule{},
		&SnapshotMeta{},
		&DecisionEvent{},
		&DeviceState{},
		&CachedRule{},
		&CacheMeta{},
	); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "auto-migration").
			Context("db_type", dbType).
			Build()
	}

	if debug {
		migrationLogger.Debug("Database connection details", "connection", connectionInfo)
	}

	migrationLogger.Debug("Database migration completed",
		"duration", time.Since(migrationStart))

	return nil
}
