package models

import "time"

// Installation statuses.
const (
	StatusInstalled   = "installed"
	StatusUpdating    = "updating"
	StatusFailed      = "failed"
	StatusUninstalled = "uninstalled"
)

// InstalledSoftware records one application's state for one user.
type InstalledSoftware struct {
	BaseModel

	UserID          string    `gorm:"size:36;not null;uniqueIndex:idx_installed_user_app,priority:1" json:"userId"`
	AppID           string    `gorm:"size:128;not null;uniqueIndex:idx_installed_user_app,priority:2;index" json:"appId"`
	Name            string    `gorm:"size:255;not null" json:"name"`
	Version         string    `gorm:"size:64;not null" json:"version"`
	Status          string    `gorm:"size:16;not null;default:installed" json:"status"`
	InstallDate     time.Time `json:"installDate"`
	LastUpdateCheck time.Time `json:"lastUpdateCheck"`

	User *User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName pins the table name used by every dialect.
func (InstalledSoftware) TableName() string {
	return "installed_software"
}

// ValidStatus reports whether status is a known installation status.
func ValidStatus(status string) bool {
	switch status {
	case StatusInstalled, StatusUpdating, StatusFailed, StatusUninstalled:
		return true
	default:
		return false
	}
}
