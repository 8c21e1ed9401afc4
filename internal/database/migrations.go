package database

import (
	"errors"
	"os"
	"strings"

	"gorm.io/gorm"

	"github.com/sungwoon-dev/mealpass/internal/models"
	"github.com/sungwoon-dev/mealpass/pkg/crypto"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Redemption{},
		&models.Session{},
		&models.AuditLog{},
		&models.CacheEntry{},
	)
}

const (
	defaultAdminEmail    = "admin@mealpass.local"
	adminPasswordEnvName = "MEALPASS_ADMIN_PASSWORD"
)

// SeedData ensures a bootstrap admin account exists so a fresh deployment can
// be administered. The password comes from MEALPASS_ADMIN_PASSWORD; without it
// no account is created.
func SeedData(db *gorm.DB) error {
	password := strings.TrimSpace(os.Getenv(adminPasswordEnvName))
	if password == "" {
		return nil
	}

	var existing models.User
	err := db.Where("email = ?", defaultAdminEmail).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		return err
	}

	admin := models.User{
		Email:        defaultAdminEmail,
		PasswordHash: hash,
		Name:         "Administrator",
		Role:         models.RoleAdmin,
	}
	return db.Create(&admin).Error
}
