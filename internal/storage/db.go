package storage

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase opens a GORM connection for the given driver/DSN pair. An empty
// driver defaults to the pure-Go, cgo-free SQLite backend appropriate for
// on-device deployment; "mysql", "postgres" and "sqlserver" are accepted for
// a carrier/staging deployment pointed at a shared relational store.
func NewDatabase(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	switch strings.ToLower(driver) {
	case "", "sqlite", "sqlite3":
		if dsn == "" {
			dsn = "bort.db"
		}
		return gorm.Open(sqlite.Open(dsn), cfg)
	case "mysql":
		return gorm.Open(mysql.Open(dsn), cfg)
	case "postgres", "postgresql":
		return gorm.Open(postgres.Open(dsn), cfg)
	case "sqlserver", "mssql":
		return gorm.Open(sqlserver.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("storage: unknown DB_DRIVER %q", driver)
	}
}

// currentSchemaVersion is the highest migration this binary knows about.
const currentSchemaVersion = 1

// AutoMigrateModels brings the schema up to currentSchemaVersion. Each step
// is an additive, idempotent AutoMigrate call; there is currently only one
// step, so the version row exists purely to make future forward-only
// migrations possible without re-running earlier ones.
func AutoMigrateModels(db *gorm.DB, driver string) error {
	if err := db.AutoMigrate(
		&Boot{},
		&CidPair{},
		&LogEntry{},
		&RuntimeConfig{},
		&ReportWindow{},
		&MetricMetadata{},
		&MetricSample{},
		&SchemaVersion{},
	); err != nil {
		return fmt.Errorf("storage: automigrate: %w", err)
	}

	var sv SchemaVersion
	if err := db.First(&sv, "id = ?", 1).Error; err != nil {
		if err := db.Create(&SchemaVersion{ID: 1, Version: currentSchemaVersion}).Error; err != nil {
			return fmt.Errorf("storage: seed schema version: %w", err)
		}
		return nil
	}

	if sv.Version < currentSchemaVersion {
		// Future migrations would branch on sv.Version here.
		sv.Version = currentSchemaVersion
		if err := db.Save(&sv).Error; err != nil {
			return fmt.Errorf("storage: bump schema version: %w", err)
		}
	}
	return nil
}
