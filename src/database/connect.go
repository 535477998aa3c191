// Package database owns the journal database connection. The engine runs
// without it when ENABLE_DB is off.
package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"grouptrade/src/model"
)

// MainDB is the journal connection, nil when the database is disabled.
var MainDB *gorm.DB

// InitMainDB opens the journal database and migrates the schema. Postgres
// URLs get the postgres driver, anything else is treated as a sqlite path.
func InitMainDB() error {
	config := GetConfig()
	if !config.EnableDB {
		logrus.Info("[database] disabled, copy events will not be persisted")
		return nil
	}

	db, err := gorm.Open(dialectorFor(config.DatabaseURL),
		&gorm.Config{
			TranslateError: true,
			Logger:         logger.Default.LogMode(logger.LogLevel(config.GormLogLevel)),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB from GORM: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(1 * time.Hour)

	MainDB = db

	logrus.Info("[database] connection established")

	if err := MainDB.AutoMigrate(
		&model.CopyEvent{},
	); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	logrus.Info("[database] migrations completed")
	return nil
}

func dialectorFor(url string) gorm.Dialector {
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return postgres.Open(url)
	}
	return sqlite.Open(url)
}
