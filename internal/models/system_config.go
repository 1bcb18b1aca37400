package models

import "time"

// Snapshot sources.
const (
	SnapshotSourceServer   = "server"
	SnapshotSourceClient   = "client"
	SnapshotSourceDefaults = "defaults"
)

// SystemConfig is the latest system snapshot recorded for a user. One row per user.
type SystemConfig struct {
	BaseModel

	UserID        string `gorm:"size:36;uniqueIndex;not null" json:"userId"`
	UserEmail     string `gorm:"size:255" json:"userEmail"`
	Source        string `gorm:"size:16;not null;default:defaults" json:"source"`
	OSName        string `gorm:"size:128" json:"osName"`
	OSVersion     string `gorm:"size:128" json:"osVersion"`
	KernelVersion string `gorm:"size:128" json:"kernelVersion"`
	Architecture  string `gorm:"size:32" json:"architecture"`
	Hostname      string `gorm:"size:255" json:"hostname"`
	Platform      string `gorm:"size:32" json:"platform"`
	CPUModel      string `gorm:"size:255" json:"cpuModel"`
	CPUCores      int    `json:"cpuCores"`

	TotalMemoryGB int `gorm:"column:total_memory_gb" json:"totalMemory"`
	FreeMemoryGB  int `gorm:"column:free_memory_gb" json:"freeMemory"`
	TotalDiskGB   int `gorm:"column:total_disk_gb" json:"totalDiskSpace"`
	FreeDiskGB    int `gorm:"column:free_disk_gb" json:"freeDiskSpace"`

	LastUpdated time.Time `json:"lastUpdated"`

	User *User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName pins the table name used by every dialect.
func (SystemConfig) TableName() string {
	return "user_system_configs"
}

// DefaultSystemConfig returns the placeholder snapshot stored before any real facts exist.
func DefaultSystemConfig(userID, email string, now time.Time) SystemConfig {
	return SystemConfig{
		UserID:        userID,
		UserEmail:     email,
		Source:        SnapshotSourceDefaults,
		OSName:        "macOS",
		OSVersion:     "Unknown",
		KernelVersion: "Unknown",
		CPUModel:      "Unknown",
		CPUCores:      8,
		TotalMemoryGB: 16,
		FreeMemoryGB:  8,
		TotalDiskGB:   460,
		FreeDiskGB:    230,
		LastUpdated:   now,
	}
}
