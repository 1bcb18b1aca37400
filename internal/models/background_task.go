package models

import (
	"time"

	"gorm.io/datatypes"
)

// Task kinds.
const (
	TaskSnapshotRefresh   = "snapshot.refresh"
	TaskLedgerRescan      = "ledger.rescan"
	TaskMailPasswordReset = "mail.password_reset"
)

// Task statuses.
const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskSucceeded = "succeeded"
	TaskFailed    = "failed"
)

// BackgroundTask is a persisted unit of deferred work.
type BackgroundTask struct {
	BaseModel

	Kind        string         `gorm:"size:64;not null;index" json:"kind"`
	UserID      string         `gorm:"size:36;index" json:"userId,omitempty"`
	Payload     datatypes.JSON `json:"payload,omitempty"`
	Status      string         `gorm:"size:16;not null;default:pending;index" json:"status"`
	Attempts    int            `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts int            `gorm:"not null;default:3" json:"maxAttempts"`
	LastError   string         `gorm:"type:text" json:"lastError,omitempty"`
	RunAfter    time.Time      `gorm:"index" json:"runAfter"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	FinishedAt  *time.Time     `gorm:"index" json:"finishedAt,omitempty"`
}

// Finished reports whether the task reached a terminal status.
func (t *BackgroundTask) Finished() bool {
	return t.Status == TaskSucceeded || t.Status == TaskFailed
}
