package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	iauth "github.com/charlesng35/softcenter/internal/auth"
	"github.com/charlesng35/softcenter/internal/models"
	"github.com/charlesng35/softcenter/internal/tasks"
	"github.com/charlesng35/softcenter/pkg/crypto"
	apperrors "github.com/charlesng35/softcenter/pkg/errors"
	"github.com/charlesng35/softcenter/pkg/logger"
	"github.com/charlesng35/softcenter/pkg/mail"
)

// Password reset modes.
const (
	ResetModeDirect   = "direct"
	ResetModeEmail    = "email"
	ResetModeDisabled = "disabled"
)

const (
	defaultResetTTL  = time.Hour
	resetTokenLength = 32
)

// CredentialConfig configures the credential store.
type CredentialConfig struct {
	ResetMode string
	ResetTTL  time.Duration
	AppName   string
}

// PasswordResetPayload is the task payload for mail.password_reset. It never carries the
// reset token: the token is minted by the mail handler and only its hash is stored.
type PasswordResetPayload struct {
	Email string        `json:"email"`
	TTL   time.Duration `json:"ttl"`
}

// CredentialService owns user accounts and their password hashes.
type CredentialService struct {
	db    *gorm.DB
	tasks TaskEnqueuer
	cfg   CredentialConfig
	now   func() time.Time
	log   *zap.Logger
}

// NewCredentialService constructs a CredentialService. tasks may be nil unless the reset
// mode is email.
func NewCredentialService(db *gorm.DB, tasks TaskEnqueuer, cfg CredentialConfig) (*CredentialService, error) {
	if db == nil {
		return nil, errors.New("credential service: db is required")
	}
	switch cfg.ResetMode {
	case "":
		cfg.ResetMode = ResetModeDirect
	case ResetModeDirect, ResetModeDisabled:
	case ResetModeEmail:
		if tasks == nil {
			return nil, errors.New("credential service: email reset mode requires a task queue")
		}
	default:
		return nil, fmt.Errorf("credential service: unknown reset mode %q", cfg.ResetMode)
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = defaultResetTTL
	}

	return &CredentialService{
		db:    db,
		tasks: tasks,
		cfg:   cfg,
		now:   time.Now,
		log:   logger.WithModule("auth"),
	}, nil
}

// ResetMode reports the configured password reset mode.
func (s *CredentialService) ResetMode() string {
	return s.cfg.ResetMode
}

// Create registers a new account storing only a bcrypt hash of rawPassword.
func (s *CredentialService) Create(ctx context.Context, name, email, rawPassword, role string) (*models.User, error) {
	ctx = ensureContext(ctx)

	email = normaliseEmail(email)
	if email == "" {
		return nil, apperrors.NewBadRequest("Email is required")
	}
	if rawPassword == "" {
		return nil, apperrors.NewBadRequest("Password is required")
	}
	role = normaliseRole(role)
	if !models.ValidRole(role) {
		return nil, apperrors.NewBadRequest("Invalid role")
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Count(&existing).Error; err != nil {
		return nil, fmt.Errorf("credential service: check email: %w", err)
	}
	if existing > 0 {
		return nil, ErrDuplicateEmail
	}

	hashed, err := crypto.HashPassword(rawPassword)
	if err != nil {
		return nil, fmt.Errorf("credential service: hash password: %w", err)
	}

	user := &models.User{
		Name:     strings.TrimSpace(name),
		Email:    email,
		Password: hashed,
		Role:     role,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("credential service: create user: %w", err)
	}

	s.log.Info("account created", zap.String("user_id", user.ID), zap.String("role", role))
	return user, nil
}

// Verify checks credentials. The role is compared before the password, so a role mismatch
// is reported as a missing account even when the password is wrong.
func (s *CredentialService) Verify(ctx context.Context, email, rawPassword, role string) (*models.User, error) {
	ctx = ensureContext(ctx)
	role = normaliseRole(role)

	user, err := s.findByEmail(ctx, normaliseEmail(email))
	if err != nil {
		return nil, err
	}
	if user == nil || user.Role != role {
		return nil, accountNotFound(role)
	}
	if !crypto.VerifyPassword(user.Password, rawPassword) {
		return nil, ErrInvalidCredentials
	}

	now := s.now()
	if err := s.db.WithContext(ctx).Model(user).UpdateColumn("last_login_at", now).Error; err != nil {
		return nil, fmt.Errorf("credential service: stamp login: %w", err)
	}
	user.LastLoginAt = &now

	return user, nil
}

// ResetPassword overwrites the password of the (email, role) account without further proof
// of identity. Only available in direct reset mode.
func (s *CredentialService) ResetPassword(ctx context.Context, email, role, newPassword string) error {
	ctx = ensureContext(ctx)
	if s.cfg.ResetMode != ResetModeDirect {
		return ErrPasswordResetDisabled
	}

	email = normaliseEmail(email)
	if email == "" {
		return apperrors.NewBadRequest("Email is required")
	}
	if newPassword == "" {
		return apperrors.NewBadRequest("New password is required")
	}
	role = normaliseRole(role)

	user, err := s.findByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user == nil || user.Role != role {
		return accountNotFound(role)
	}

	if err := s.setPassword(ctx, user.ID, newPassword); err != nil {
		return err
	}
	s.log.Warn("password reset without identity proof", zap.String("user_id", user.ID))
	return nil
}

// RequestPasswordReset schedules delivery of a single-use reset token by email.
func (s *CredentialService) RequestPasswordReset(ctx context.Context, email, role string) error {
	ctx = ensureContext(ctx)
	if s.cfg.ResetMode != ResetModeEmail {
		return ErrPasswordResetDisabled
	}

	email = normaliseEmail(email)
	if email == "" {
		return apperrors.NewBadRequest("Email is required")
	}
	role = normaliseRole(role)

	user, err := s.findByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user == nil || user.Role != role {
		return accountNotFound(role)
	}

	payload := PasswordResetPayload{Email: user.Email, TTL: s.cfg.ResetTTL}
	if _, err := s.tasks.Enqueue(ctx, models.TaskMailPasswordReset, user.ID, payload); err != nil {
		return fmt.Errorf("credential service: schedule reset mail: %w", err)
	}
	return nil
}

// issueResetToken replaces any outstanding reset token of the user and returns the raw
// token. Only its hash is persisted.
func (s *CredentialService) issueResetToken(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	token, err := crypto.GenerateToken(resetTokenLength)
	if err != nil {
		return "", fmt.Errorf("credential service: generate reset token: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Updates(map[string]any{
		"reset_password_token":   crypto.HashToken(token),
		"reset_password_expires": s.now().Add(ttl),
	}).Error; err != nil {
		return "", fmt.Errorf("credential service: store reset token: %w", err)
	}
	return token, nil
}

// CompletePasswordReset consumes a reset token and sets a new password.
func (s *CredentialService) CompletePasswordReset(ctx context.Context, token, newPassword string) error {
	ctx = ensureContext(ctx)
	if s.cfg.ResetMode != ResetModeEmail {
		return ErrPasswordResetDisabled
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvalidResetToken
	}
	if newPassword == "" {
		return apperrors.NewBadRequest("New password is required")
	}

	var user models.User
	err := s.db.WithContext(ctx).
		Where("reset_password_token = ? AND reset_password_expires > ?", crypto.HashToken(token), s.now()).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrInvalidResetToken
	}
	if err != nil {
		return fmt.Errorf("credential service: lookup reset token: %w", err)
	}

	return s.setPassword(ctx, user.ID, newPassword)
}

// ClearExpiredResetTokens removes reset tokens past their expiry.
func (s *CredentialService) ClearExpiredResetTokens(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ensureContext(ctx)).Model(&models.User{}).
		Where("reset_password_token IS NOT NULL AND reset_password_expires <= ?", s.now()).
		Updates(map[string]any{"reset_password_token": nil, "reset_password_expires": nil})
	if result.Error != nil {
		return 0, fmt.Errorf("credential service: clear reset tokens: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// GetByID loads a user by id.
func (s *CredentialService) GetByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ensureContext(ctx)).Take(&user, "id = ?", strings.TrimSpace(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credential service: get user: %w", err)
	}
	return &user, nil
}

// ResolveUser implements auth.UserResolver.
func (s *CredentialService) ResolveUser(ctx context.Context, id string) (*models.User, error) {
	user, err := s.GetByID(ctx, id)
	if errors.Is(err, ErrUserNotFound) {
		return nil, iauth.ErrUnknownUser
	}
	return user, err
}

// UpdateAvatar stores the new avatar location and returns the previous one.
func (s *CredentialService) UpdateAvatar(ctx context.Context, userID, avatar string) (*models.User, string, error) {
	ctx = ensureContext(ctx)

	user, err := s.GetByID(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	previous := user.Avatar

	if err := s.db.WithContext(ctx).Model(user).Update("avatar", avatar).Error; err != nil {
		return nil, "", fmt.Errorf("credential service: update avatar: %w", err)
	}
	user.Avatar = avatar
	return user, previous, nil
}

// PasswordResetMailHandler delivers queued reset emails. Each attempt mints a fresh token,
// so a retried delivery invalidates the token of the failed one.
func (s *CredentialService) PasswordResetMailHandler(mailer mail.Mailer) tasks.Handler {
	return func(ctx context.Context, task *models.BackgroundTask) error {
		var payload PasswordResetPayload
		if err := tasks.DecodePayload(task, &payload); err != nil {
			return err
		}
		user, err := s.GetByID(ctx, task.UserID)
		if err != nil {
			return err
		}

		ttl := payload.TTL
		if ttl <= 0 {
			ttl = s.cfg.ResetTTL
		}
		token, err := s.issueResetToken(ctx, user.ID, ttl)
		if err != nil {
			return err
		}
		return mailer.Send(ctx, mail.PasswordResetMessage(user.Email, s.cfg.AppName, token, ttl))
	}
}

func (s *CredentialService) findByEmail(ctx context.Context, email string) (*models.User, error) {
	if email == "" {
		return nil, nil
	}
	var user models.User
	err := s.db.WithContext(ctx).Take(&user, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("credential service: find user: %w", err)
	}
	return &user, nil
}

func (s *CredentialService) setPassword(ctx context.Context, userID, password string) error {
	hashed, err := crypto.HashPassword(password)
	if err != nil {
		return fmt.Errorf("credential service: hash password: %w", err)
	}
	err = s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Updates(map[string]any{
		"password":               hashed,
		"reset_password_token":   nil,
		"reset_password_expires": nil,
	}).Error
	if err != nil {
		return fmt.Errorf("credential service: update password: %w", err)
	}
	return nil
}
