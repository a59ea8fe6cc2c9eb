package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const sqlitePrefix = "sqlite:"

// Connect opens the database named by dsn. A "sqlite:" or "file:" prefix
// selects the embedded SQLite driver; anything else is a MySQL DSN such as
// app:apppass@tcp(127.0.0.1:3306)/lifehub?charset=utf8mb4&parseTime=true&loc=UTC
func Connect(dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	var (
		gdb      *gorm.DB
		err      error
		embedded bool
	)
	switch {
	case strings.HasPrefix(dsn, sqlitePrefix):
		gdb, err = gorm.Open(sqlite.Open(strings.TrimPrefix(dsn, sqlitePrefix)), cfg)
		embedded = true
	case strings.HasPrefix(dsn, "file:"):
		gdb, err = gorm.Open(sqlite.Open(dsn), cfg)
		embedded = true
	default:
		gdb, err = gorm.Open(mysql.Open(dsn), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if embedded {
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return gdb, nil
}
