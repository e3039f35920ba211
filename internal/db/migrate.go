package db

import (
	"fmt"

	"github.com/router-for-me/tokenquota/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates the quota tables.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: migrate: nil connection")
	}
	if errMigrate := conn.AutoMigrate(&models.QuotaLimit{}, &models.TokenUsage{}); errMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errMigrate)
	}
	return nil
}
