package database

import (
	"errors"

	"gorm.io/gorm"

	"github.com/charlesng35/seatkeeper/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return errors.New("nil database handle")
	}
	return db.AutoMigrate(
		&models.Identity{},
		&models.AgencyToken{},
		&models.AgencyTokenDomain{},
		&models.AgencyTokenOccupancy{},
		&models.InviteRequest{},
		&models.ReactivationRequest{},
		&models.EmailChangeRequest{},
		&models.RequestSubjectLock{},
		&models.Session{},
		&models.CacheEntry{},
		&models.SystemSetting{},
	)
}
