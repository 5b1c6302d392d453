package repository

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/posuite/request-guard/internal/domain"
)

// Open selects a GORM dialector from the URL scheme: sqlite://path for local
// runs and tests, anything else is handed to the postgres driver.
func Open(databaseURL string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(databaseURL, "sqlite://"):
		dialector = sqlite.Open(strings.TrimPrefix(databaseURL, "sqlite://"))
	case databaseURL == "":
		return nil, fmt.Errorf("open database: empty url")
	default:
		dialector = postgres.Open(databaseURL)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&domain.User{}, &domain.Session{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
