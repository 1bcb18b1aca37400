package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	iauth "github.com/charlesng35/softcenter/internal/auth"
	"github.com/charlesng35/softcenter/internal/models"
	apperrors "github.com/charlesng35/softcenter/pkg/errors"
	"github.com/charlesng35/softcenter/pkg/logger"
	"github.com/charlesng35/softcenter/pkg/metrics"
)

// UserSummary is the account view returned alongside a token.
type UserSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"avatar"`
	Role   string `json:"role"`
}

// SummaryOf projects a user onto its public summary.
func SummaryOf(user *models.User) UserSummary {
	return UserSummary{
		ID:     user.ID,
		Name:   user.Name,
		Email:  user.Email,
		Avatar: user.Avatar,
		Role:   user.Role,
	}
}

// LoginResult is the login response body.
type LoginResult struct {
	Token string      `json:"token"`
	User  UserSummary `json:"user"`
}

// SessionConfig configures post-login behaviour.
type SessionConfig struct {
	// RefreshSnapshot schedules a server-side snapshot after each login.
	RefreshSnapshot bool
}

// SessionService verifies credentials and issues access tokens.
type SessionService struct {
	credentials *CredentialService
	tokens      *iauth.JWTService
	tasks       TaskEnqueuer
	cfg         SessionConfig
	log         *zap.Logger
}

// NewSessionService constructs a SessionService. tasks may be nil, in which case no
// post-login work is scheduled.
func NewSessionService(credentials *CredentialService, tokens *iauth.JWTService, tasks TaskEnqueuer, cfg SessionConfig) (*SessionService, error) {
	if credentials == nil {
		return nil, errors.New("session service: credential service is required")
	}
	if tokens == nil {
		return nil, errors.New("session service: jwt service is required")
	}
	return &SessionService{
		credentials: credentials,
		tokens:      tokens,
		tasks:       tasks,
		cfg:         cfg,
		log:         logger.WithModule("auth"),
	}, nil
}

// Login verifies the credentials, issues a token and schedules the post-login snapshot
// refresh and ledger rescan. Scheduling failures are logged and never returned.
func (s *SessionService) Login(ctx context.Context, email, password, role string) (*LoginResult, error) {
	ctx = ensureContext(ctx)

	if normaliseEmail(email) == "" || password == "" {
		return nil, apperrors.NewBadRequest("Email and password are required")
	}

	user, err := s.credentials.Verify(ctx, email, password, role)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, err
	}

	token, err := s.tokens.GenerateAccessToken(iauth.AccessTokenInput{UserID: user.ID, Role: user.Role})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, fmt.Errorf("session service: issue token: %w", err)
	}
	metrics.AuthAttempts.WithLabelValues("success").Inc()

	s.schedulePostLogin(ctx, user.ID)

	return &LoginResult{Token: token, User: SummaryOf(user)}, nil
}

func (s *SessionService) schedulePostLogin(ctx context.Context, userID string) {
	if s.tasks == nil {
		return
	}

	kinds := []string{models.TaskLedgerRescan}
	if s.cfg.RefreshSnapshot {
		kinds = append([]string{models.TaskSnapshotRefresh}, kinds...)
	}

	for _, kind := range kinds {
		if _, err := s.tasks.Enqueue(ctx, kind, userID, nil); err != nil {
			s.log.Warn("post-login task not scheduled",
				zap.String("kind", kind),
				zap.String("user_id", userID),
				zap.Error(err),
			)
		}
	}
}
