package db

import (
	"fmt"  // DSN formatting
	"time" // Pool lifetimes

	"wallet_settlement/internal/config" // Custom import path (Config)
	"wallet_settlement/internal/store"  // Models to migrate

	"github.com/sirupsen/logrus"

	"gorm.io/driver/mysql"    // MySQL driver for GORM
	"gorm.io/driver/postgres" // Postgres driver for GORM
	"gorm.io/gorm"            // GORM ORM library
	"gorm.io/gorm/logger"     // GORM log levels
)

// DSN builds the data source name for the configured driver
func DSN(cfg *config.Config) (string, error) {
	switch cfg.StoreDriver {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
			cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName), nil
	case "postgres":
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort, cfg.DBSSLMode), nil
	}
	return "", fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
}

// Open connects to the configured database. TranslateError is enabled so
// unique violations surface as gorm.ErrDuplicatedKey on both drivers.
func Open(cfg *config.Config) (*gorm.DB, error) {
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}
	dialector := mysql.Open(dsn)
	if cfg.StoreDriver == "postgres" {
		dialector = postgres.Open(dsn)
	}
	logLevel := logger.Warn
	if cfg.IsProd {
		logLevel = logger.Error
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,                                         // Map driver errors to gorm sentinels
		Logger:         logger.Default.LogMode(logLevel),             // Quiet SQL logging
		NowFunc:        func() time.Time { return time.Now().UTC() }, // Store timestamps in UTC
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	logrus.WithFields(logrus.Fields{"driver": cfg.StoreDriver, "host": cfg.DBHost}).Info("Database connected")
	return db, nil
}

// Migrate performs automatic migration for the database schema
func Migrate(db *gorm.DB) error {
	// AutoMigrate will create tables, missing foreign keys, constraints, columns and indexes
	if err := db.AutoMigrate(store.Models()...); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logrus.Info("Migration completed.") // Log successful migration
	return nil
}
