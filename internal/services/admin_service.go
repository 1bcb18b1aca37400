package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/softcenter/internal/models"
	apperrors "github.com/charlesng35/softcenter/pkg/errors"
	"github.com/charlesng35/softcenter/pkg/logger"
)

// Installed software states reported in user details.
const (
	LedgerStateReported = "reported"
	LedgerStateNoData   = "no_data"
)

// UserDetail is a user joined with its snapshot and ledger. Credential fields of the
// embedded user are never serialised.
type UserDetail struct {
	models.User
	SystemConfig           *models.SystemConfig       `json:"systemConfig"`
	InstalledSoftware      []models.InstalledSoftware `json:"installedSoftware"`
	InstalledSoftwareState string                     `json:"installedSoftwareState"`
}

// AdminService implements the read-only administrator views.
type AdminService struct {
	db        *gorm.DB
	snapshots *SnapshotService
	ledger    *LedgerService
	tasks     TaskEnqueuer
	log       *zap.Logger
}

// NewAdminService constructs an AdminService. tasks may be nil.
func NewAdminService(db *gorm.DB, snapshots *SnapshotService, ledger *LedgerService, tasks TaskEnqueuer) (*AdminService, error) {
	if db == nil {
		return nil, errors.New("admin service: db is required")
	}
	if snapshots == nil || ledger == nil {
		return nil, errors.New("admin service: snapshot and ledger services are required")
	}
	return &AdminService{
		db:        db,
		snapshots: snapshots,
		ledger:    ledger,
		tasks:     tasks,
		log:       logger.WithModule("admin"),
	}, nil
}

// ListUsers returns every non-admin user, newest first.
func (s *AdminService) ListUsers(ctx context.Context, requesterRole string) ([]models.User, error) {
	if requesterRole != models.RoleAdmin {
		return nil, apperrors.ErrForbidden
	}

	users := make([]models.User, 0)
	if err := s.db.WithContext(ensureContext(ctx)).
		Where("role <> ?", models.RoleAdmin).
		Order("created_at DESC").
		Find(&users).Error; err != nil {
		return nil, fmt.Errorf("admin service: list users: %w", err)
	}
	return users, nil
}

// GetUserDetail joins the user's snapshot and ledger. A missing snapshot is created with
// defaults and, for the server source, a refresh is scheduled.
func (s *AdminService) GetUserDetail(ctx context.Context, requesterRole, userID string) (*UserDetail, error) {
	ctx = ensureContext(ctx)
	if requesterRole != models.RoleAdmin {
		return nil, apperrors.ErrForbidden
	}

	var user models.User
	if err := s.db.WithContext(ctx).Take(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("admin service: load user: %w", err)
	}

	cfg, created, err := s.snapshots.FindOrCreateDefault(ctx, &user)
	if err != nil {
		return nil, err
	}
	if created && s.snapshots.Source() == models.SnapshotSourceServer && s.tasks != nil {
		if _, err := s.tasks.Enqueue(ctx, models.TaskSnapshotRefresh, user.ID, nil); err != nil {
			s.log.Warn("snapshot refresh not scheduled", zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	if _, err := s.ledger.EnsureSeeded(ctx, user.ID); err != nil {
		return nil, err
	}
	software, err := s.ledger.ListForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	state := LedgerStateReported
	if len(software) == 0 {
		state = LedgerStateNoData
	}

	return &UserDetail{
		User:                   user,
		SystemConfig:           cfg,
		InstalledSoftware:      software,
		InstalledSoftwareState: state,
	}, nil
}
