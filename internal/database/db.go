package database

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/ntsmith7/peekaboo/internal/config"
	"github.com/ntsmith7/peekaboo/internal/models"
)

// InitDB opens the postgres connection and migrates the schema. Callers own
// the returned handle; there is no package-level connection.
func InitDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := db.AutoMigrate(
		&models.Target{},
		&models.Resource{},
		&models.ScriptAsset{},
		&models.Finding{},
		&models.Scan{},
	); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	logrus.Info("Database connection established and migrated")
	return db, nil
}
