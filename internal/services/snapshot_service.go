package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/softcenter/internal/models"
	"github.com/charlesng35/softcenter/internal/snapshot"
	"github.com/charlesng35/softcenter/internal/tasks"
	"github.com/charlesng35/softcenter/pkg/logger"
)

// SnapshotCollector gathers system facts. *snapshot.Collector satisfies it.
type SnapshotCollector interface {
	Collect(ctx context.Context) (snapshot.Snapshot, []*snapshot.ProbeError)
}

// SnapshotConfig selects where system facts come from.
type SnapshotConfig struct {
	// Source is models.SnapshotSourceServer or models.SnapshotSourceClient.
	Source string
}

// ClientReport carries facts reported by a client about its own machine.
type ClientReport struct {
	OSName        string `json:"osName" validate:"required,max=128"`
	OSVersion     string `json:"osVersion" validate:"required,max=128"`
	KernelVersion string `json:"kernelVersion" validate:"omitempty,max=128"`
	Architecture  string `json:"architecture" validate:"omitempty,max=32"`
	Hostname      string `json:"hostname" validate:"omitempty,max=255"`
	Platform      string `json:"platform" validate:"omitempty,max=32"`
	CPUModel      string `json:"cpuModel" validate:"omitempty,max=255"`
	CPUCores      int    `json:"cpuCores" validate:"gte=0,lte=4096"`
	TotalMemoryGB int    `json:"totalMemory" validate:"gte=0"`
	FreeMemoryGB  int    `json:"freeMemory" validate:"gte=0,ltefield=TotalMemoryGB"`
	TotalDiskGB   int    `json:"totalDiskSpace" validate:"gte=0"`
	FreeDiskGB    int    `json:"freeDiskSpace" validate:"gte=0,ltefield=TotalDiskGB"`
}

func (r ClientReport) snapshot(now time.Time) snapshot.Snapshot {
	return snapshot.Snapshot{
		OSName:        strings.TrimSpace(r.OSName),
		OSVersion:     strings.TrimSpace(r.OSVersion),
		KernelVersion: strings.TrimSpace(r.KernelVersion),
		Architecture:  strings.TrimSpace(r.Architecture),
		Hostname:      strings.TrimSpace(r.Hostname),
		Platform:      strings.TrimSpace(r.Platform),
		CPUModel:      strings.TrimSpace(r.CPUModel),
		CPUCores:      r.CPUCores,
		TotalMemoryGB: r.TotalMemoryGB,
		FreeMemoryGB:  r.FreeMemoryGB,
		TotalDiskGB:   r.TotalDiskGB,
		FreeDiskGB:    r.FreeDiskGB,
		CollectedAt:   now,
	}
}

// snapshotColumns are overwritten by every Upsert.
var snapshotColumns = []string{
	"user_email", "source", "os_name", "os_version", "kernel_version", "architecture",
	"hostname", "platform", "cpu_model", "cpu_cores", "total_memory_gb", "free_memory_gb",
	"total_disk_gb", "free_disk_gb", "last_updated", "updated_at",
}

// SnapshotService stores one system snapshot per user.
type SnapshotService struct {
	db        *gorm.DB
	collector SnapshotCollector
	cfg       SnapshotConfig
	now       func() time.Time
	log       *zap.Logger
}

// NewSnapshotService constructs a SnapshotService. collector is only required for the
// server source.
func NewSnapshotService(db *gorm.DB, collector SnapshotCollector, cfg SnapshotConfig) (*SnapshotService, error) {
	if db == nil {
		return nil, errors.New("snapshot service: db is required")
	}
	switch cfg.Source {
	case "":
		cfg.Source = models.SnapshotSourceServer
	case models.SnapshotSourceServer, models.SnapshotSourceClient:
	default:
		return nil, fmt.Errorf("snapshot service: unknown source %q", cfg.Source)
	}
	if cfg.Source == models.SnapshotSourceServer && collector == nil {
		return nil, errors.New("snapshot service: collector is required for the server source")
	}

	return &SnapshotService{
		db:        db,
		collector: collector,
		cfg:       cfg,
		now:       time.Now,
		log:       logger.WithModule("snapshot"),
	}, nil
}

// Source reports the configured snapshot source.
func (s *SnapshotService) Source() string {
	return s.cfg.Source
}

// Upsert creates or fully overwrites the user's snapshot row in one statement.
func (s *SnapshotService) Upsert(ctx context.Context, userID string, snap snapshot.Snapshot, source string) (*models.SystemConfig, error) {
	ctx = ensureContext(ctx)

	var user models.User
	if err := s.db.WithContext(ctx).Select("id", "email").Take(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("snapshot service: load user: %w", err)
	}

	collectedAt := snap.CollectedAt
	if collectedAt.IsZero() {
		collectedAt = s.now()
	}

	row := models.SystemConfig{
		UserID:        user.ID,
		UserEmail:     user.Email,
		Source:        source,
		OSName:        snap.OSName,
		OSVersion:     snap.OSVersion,
		KernelVersion: snap.KernelVersion,
		Architecture:  snap.Architecture,
		Hostname:      snap.Hostname,
		Platform:      snap.Platform,
		CPUModel:      snap.CPUModel,
		CPUCores:      snap.CPUCores,
		TotalMemoryGB: snap.TotalMemoryGB,
		FreeMemoryGB:  snap.FreeMemoryGB,
		TotalDiskGB:   snap.TotalDiskGB,
		FreeDiskGB:    snap.FreeDiskGB,
		LastUpdated:   collectedAt,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns(snapshotColumns),
	}).Create(&row).Error
	if err != nil {
		return nil, fmt.Errorf("snapshot service: upsert: %w", err)
	}

	return s.get(ctx, user.ID)
}

// FindOrCreateDefault returns the user's snapshot, inserting placeholder defaults when none
// exists. Concurrent and repeated calls create at most one row. created reports whether
// this call inserted it.
func (s *SnapshotService) FindOrCreateDefault(ctx context.Context, user *models.User) (cfg *models.SystemConfig, created bool, err error) {
	ctx = ensureContext(ctx)
	if user == nil {
		return nil, false, ErrUserNotFound
	}

	row := models.DefaultSystemConfig(user.ID, user.Email, s.now())
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&row)
	if result.Error != nil {
		return nil, false, fmt.Errorf("snapshot service: create default: %w", result.Error)
	}

	cfg, err = s.get(ctx, user.ID)
	if err != nil {
		return nil, false, err
	}
	return cfg, result.RowsAffected > 0, nil
}

// Refresh collects facts on this host and overwrites the user's snapshot. Failed probes
// degrade to placeholders. It is a no-op for the client source.
func (s *SnapshotService) Refresh(ctx context.Context, userID string) (*models.SystemConfig, error) {
	ctx = ensureContext(ctx)
	if s.cfg.Source != models.SnapshotSourceServer {
		return nil, nil
	}

	snap, probeErrs := s.collector.Collect(ctx)
	if len(probeErrs) > 0 {
		probes := make([]string, 0, len(probeErrs))
		for _, perr := range probeErrs {
			probes = append(probes, perr.Probe)
		}
		s.log.Info("snapshot collected with placeholders",
			zap.String("user_id", userID),
			zap.Strings("failed_probes", probes),
		)
	}

	return s.Upsert(ctx, userID, snap, models.SnapshotSourceServer)
}

// ReportClient stores facts reported by the user's own client.
func (s *SnapshotService) ReportClient(ctx context.Context, userID string, report ClientReport) (*models.SystemConfig, error) {
	if s.cfg.Source != models.SnapshotSourceClient {
		return nil, ErrClientReportDisabled
	}
	return s.Upsert(ctx, userID, report.snapshot(s.now()), models.SnapshotSourceClient)
}

// RefreshHandler runs snapshot.refresh tasks.
func (s *SnapshotService) RefreshHandler() tasks.Handler {
	return func(ctx context.Context, task *models.BackgroundTask) error {
		if task.UserID == "" {
			return errors.New("snapshot refresh: task has no user")
		}
		_, err := s.Refresh(ctx, task.UserID)
		return err
	}
}

func (s *SnapshotService) get(ctx context.Context, userID string) (*models.SystemConfig, error) {
	var cfg models.SystemConfig
	if err := s.db.WithContext(ctx).Take(&cfg, "user_id = ?", userID).Error; err != nil {
		return nil, fmt.Errorf("snapshot service: load snapshot: %w", err)
	}
	return &cfg, nil
}
