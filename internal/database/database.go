package database

import (
	"fmt"

	"github.com/mickaelvieira/dpop-oidc-client-go/internal/storage"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open opens the sqlite database at path. The file holds the private proof
// key, so it is created owner-only and refused when other users can read it.
func Open(path string) (*gorm.DB, error) {
	if err := storage.PreparePrivateFile(path); err != nil {
		return nil, fmt.Errorf("failed to prepare database %s: %w", path, err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database %s: %w", path, err)
	}

	if err := db.AutoMigrate(&Credential{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}
