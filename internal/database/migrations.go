package database

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/softcenter/internal/models"
	"github.com/charlesng35/softcenter/pkg/crypto"
)

// SeedOptions describes optional start-up data.
type SeedOptions struct {
	AdminName     string
	AdminEmail    string
	AdminPassword string
}

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.SystemConfig{},
		&models.InstalledSoftware{},
		&models.BackgroundTask{},
		&models.CacheEntry{},
	)
}

// SeedData creates the bootstrap admin account when one is configured and no user holds the email.
func SeedData(db *gorm.DB, opts SeedOptions) error {
	email := strings.ToLower(strings.TrimSpace(opts.AdminEmail))
	if email == "" {
		return nil
	}
	if opts.AdminPassword == "" {
		return errors.New("bootstrap admin password is required when an email is configured")
	}

	hash, err := crypto.HashPassword(opts.AdminPassword)
	if err != nil {
		return fmt.Errorf("hash bootstrap admin password: %w", err)
	}

	name := strings.TrimSpace(opts.AdminName)
	if name == "" {
		name = "Administrator"
	}

	admin := models.User{
		Name:     name,
		Email:    email,
		Password: hash,
		Role:     models.RoleAdmin,
	}
	return db.Where(models.User{Email: email}).Attrs(admin).FirstOrCreate(&models.User{}).Error
}
