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
	"github.com/charlesng35/softcenter/internal/realtime"
	"github.com/charlesng35/softcenter/internal/tasks"
	apperrors "github.com/charlesng35/softcenter/pkg/errors"
	"github.com/charlesng35/softcenter/pkg/logger"
)

const defaultStaleUpdateAfter = 30 * time.Minute

// placeholderSoftware is inserted by EnsureSeeded when seeding is enabled.
var placeholderSoftware = []struct {
	AppID, Name, Version string
}{
	{AppID: "vscode", Name: "Visual Studio Code", Version: "1.85.1"},
	{AppID: "chrome", Name: "Google Chrome", Version: "120.0.6099.109"},
}

// EventPublisher fans ledger changes out to realtime subscribers. *realtime.Hub satisfies it.
type EventPublisher interface {
	BroadcastToUser(stream, userID string, message realtime.Message)
	BroadcastStream(stream string, message realtime.Message)
}

// LedgerConfig configures installed-software bookkeeping.
type LedgerConfig struct {
	SeedPlaceholders bool
	StaleUpdateAfter time.Duration
}

// UpsertInput is the desired state of one ledger entry.
type UpsertInput struct {
	Name    string `json:"name" validate:"required,max=255"`
	Version string `json:"version" validate:"required,max=64"`
	Status  string `json:"status" validate:"required,oneof=installed updating failed uninstalled"`
}

// RescanResult summarises a ledger rescan.
type RescanResult struct {
	Checked     int64 `json:"checked"`
	MarkedStale int64 `json:"markedStale"`
}

// LedgerEvent is the realtime payload for ledger changes.
type LedgerEvent struct {
	UserID string                    `json:"userId"`
	Entry  *models.InstalledSoftware `json:"entry,omitempty"`
	Rescan *RescanResult             `json:"rescan,omitempty"`
}

// LedgerService records per-user installation state.
type LedgerService struct {
	db        *gorm.DB
	publisher EventPublisher
	cfg       LedgerConfig
	now       func() time.Time
	log       *zap.Logger
}

// NewLedgerService constructs a LedgerService. publisher may be nil.
func NewLedgerService(db *gorm.DB, publisher EventPublisher, cfg LedgerConfig) (*LedgerService, error) {
	if db == nil {
		return nil, errors.New("ledger service: db is required")
	}
	if cfg.StaleUpdateAfter <= 0 {
		cfg.StaleUpdateAfter = defaultStaleUpdateAfter
	}
	return &LedgerService{
		db:        db,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
		log:       logger.WithModule("ledger"),
	}, nil
}

// SeedsPlaceholders reports whether EnsureSeeded inserts demo entries.
func (s *LedgerService) SeedsPlaceholders() bool {
	return s.cfg.SeedPlaceholders
}

// ListForUser returns every ledger entry of the user ordered by app id.
func (s *LedgerService) ListForUser(ctx context.Context, userID string) ([]models.InstalledSoftware, error) {
	ctx = ensureContext(ctx)
	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}

	entries := make([]models.InstalledSoftware, 0)
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("app_id ASC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("ledger service: list: %w", err)
	}
	return entries, nil
}

// EnsureSeeded inserts the placeholder entries when seeding is enabled and the user has no
// entries. It reports whether anything was inserted. Unknown users get ErrUserNotFound.
func (s *LedgerService) EnsureSeeded(ctx context.Context, userID string) (bool, error) {
	ctx = ensureContext(ctx)
	if !s.cfg.SeedPlaceholders {
		return false, nil
	}
	if err := s.requireUser(ctx, userID); err != nil {
		return false, err
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.InstalledSoftware{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("ledger service: count: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	now := s.now()
	rows := make([]models.InstalledSoftware, 0, len(placeholderSoftware))
	for _, p := range placeholderSoftware {
		rows = append(rows, models.InstalledSoftware{
			UserID:          userID,
			AppID:           p.AppID,
			Name:            p.Name,
			Version:         p.Version,
			Status:          models.StatusInstalled,
			InstallDate:     now,
			LastUpdateCheck: now,
		})
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}, {Name: "app_id"}}, DoNothing: true}).
		Create(&rows)
	if result.Error != nil {
		return false, fmt.Errorf("ledger service: seed: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *LedgerService) requireUser(ctx context.Context, userID string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return fmt.Errorf("ledger service: lookup user: %w", err)
	}
	if count == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpsertStatus writes the entry for (userID, appID) in a single statement. Concurrent calls
// leave exactly one row holding the last write.
func (s *LedgerService) UpsertStatus(ctx context.Context, userID, appID string, input UpsertInput) (*models.InstalledSoftware, error) {
	ctx = ensureContext(ctx)

	appID = strings.TrimSpace(appID)
	if appID == "" {
		return nil, apperrors.NewBadRequest("App id is required")
	}
	input.Name = strings.TrimSpace(input.Name)
	input.Version = strings.TrimSpace(input.Version)
	if input.Name == "" {
		return nil, apperrors.NewBadRequest("Name is required")
	}
	if input.Version == "" {
		return nil, apperrors.NewBadRequest("Version is required")
	}
	if !models.ValidStatus(input.Status) {
		return nil, apperrors.NewBadRequest("Invalid status")
	}

	now := s.now()
	row := models.InstalledSoftware{
		UserID:          userID,
		AppID:           appID,
		Name:            input.Name,
		Version:         input.Version,
		Status:          input.Status,
		InstallDate:     now,
		LastUpdateCheck: now,
	}

	// install_date is assigned first so MySQL still sees the previous status.
	updates := clause.Set{}
	if input.Status == models.StatusInstalled {
		updates = append(updates, clause.Assignment{
			Column: clause.Column{Name: "install_date"},
			Value: gorm.Expr("CASE WHEN installed_software.status IN (?, ?) THEN ? ELSE installed_software.install_date END",
				models.StatusUninstalled, models.StatusFailed, now),
		})
	}
	updates = append(updates, clause.AssignmentColumns([]string{"name", "version", "status", "last_update_check", "updated_at"})...)

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "app_id"}},
		DoUpdates: updates,
	}).Create(&row).Error
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.Wrap(err, ErrConstraintViolation)
		}
		return nil, fmt.Errorf("ledger service: upsert: %w", err)
	}

	entry, err := s.Get(ctx, userID, appID)
	if err != nil {
		return nil, err
	}
	s.publishEntry(entry)
	return entry, nil
}

// Get returns the entry for (userID, appID).
func (s *LedgerService) Get(ctx context.Context, userID, appID string) (*models.InstalledSoftware, error) {
	var entry models.InstalledSoftware
	err := s.db.WithContext(ensureContext(ctx)).
		Take(&entry, "user_id = ? AND app_id = ?", userID, strings.TrimSpace(appID)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSoftwareNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger service: get: %w", err)
	}
	return &entry, nil
}

// Install records appID as installed at version.
func (s *LedgerService) Install(ctx context.Context, userID, appID, name, version string) (*models.InstalledSoftware, error) {
	return s.UpsertStatus(ctx, userID, appID, UpsertInput{Name: name, Version: version, Status: models.StatusInstalled})
}

// Update records a completed update of an existing entry to version.
func (s *LedgerService) Update(ctx context.Context, userID, appID, version string) (*models.InstalledSoftware, error) {
	entry, err := s.Get(ctx, userID, appID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(version) == "" {
		version = entry.Version
	}
	return s.UpsertStatus(ctx, userID, appID, UpsertInput{Name: entry.Name, Version: version, Status: models.StatusInstalled})
}

// Uninstall marks an existing entry uninstalled. The row is kept.
func (s *LedgerService) Uninstall(ctx context.Context, userID, appID string) (*models.InstalledSoftware, error) {
	entry, err := s.Get(ctx, userID, appID)
	if err != nil {
		return nil, err
	}
	return s.UpsertStatus(ctx, userID, appID, UpsertInput{Name: entry.Name, Version: entry.Version, Status: models.StatusUninstalled})
}

// Rescan stamps last_update_check on all of the user's entries and fails entries stuck in
// updating for longer than the configured threshold.
func (s *LedgerService) Rescan(ctx context.Context, userID string) (*RescanResult, error) {
	ctx = ensureContext(ctx)
	now := s.now()
	result := &RescanResult{}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stale := tx.Model(&models.InstalledSoftware{}).
			Where("user_id = ? AND status = ? AND updated_at < ?", userID, models.StatusUpdating, now.Add(-s.cfg.StaleUpdateAfter)).
			Updates(map[string]any{"status": models.StatusFailed, "updated_at": now})
		if stale.Error != nil {
			return stale.Error
		}
		result.MarkedStale = stale.RowsAffected

		checked := tx.Model(&models.InstalledSoftware{}).
			Where("user_id = ?", userID).
			UpdateColumn("last_update_check", now)
		if checked.Error != nil {
			return checked.Error
		}
		result.Checked = checked.RowsAffected
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ledger service: rescan: %w", err)
	}

	if result.MarkedStale > 0 {
		s.log.Info("stale updates marked failed", zap.String("user_id", userID), zap.Int64("count", result.MarkedStale))
	}
	s.publish(userID, realtime.Message{
		Event: realtime.EventLedgerRescanned,
		Data:  LedgerEvent{UserID: userID, Rescan: result},
	})
	return result, nil
}

// RescanHandler runs ledger.rescan tasks.
func (s *LedgerService) RescanHandler() tasks.Handler {
	return func(ctx context.Context, task *models.BackgroundTask) error {
		if task.UserID == "" {
			return errors.New("ledger rescan: task has no user")
		}
		_, err := s.Rescan(ctx, task.UserID)
		return err
	}
}

func (s *LedgerService) publishEntry(entry *models.InstalledSoftware) {
	s.publish(entry.UserID, realtime.Message{
		Event: realtime.EventLedgerUpserted,
		Data:  LedgerEvent{UserID: entry.UserID, Entry: entry},
	})
}

func (s *LedgerService) publish(userID string, message realtime.Message) {
	if s.publisher == nil {
		return
	}
	userMsg := message
	userMsg.Stream = realtime.StreamLedger
	s.publisher.BroadcastToUser(realtime.StreamLedger, userID, userMsg)

	adminMsg := message
	adminMsg.Stream = realtime.StreamAdminLedger
	s.publisher.BroadcastStream(realtime.StreamAdminLedger, adminMsg)
}
