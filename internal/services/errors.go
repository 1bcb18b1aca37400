package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/charlesng35/softcenter/internal/models"
	apperrors "github.com/charlesng35/softcenter/pkg/errors"
)

var (
	// ErrDuplicateEmail is returned when signing up with an email that already has an account.
	ErrDuplicateEmail = apperrors.New("DUPLICATE_EMAIL", "Email already registered", http.StatusBadRequest)
	// ErrInvalidCredentials hides which part of the credentials was wrong.
	ErrInvalidCredentials = apperrors.New("INVALID_CREDENTIALS", "Invalid email or password", http.StatusUnauthorized)
	// ErrAccountNotFound is returned when no account matches an (email, role) pair.
	ErrAccountNotFound = apperrors.New("ACCOUNT_NOT_FOUND", "No account found with this email", http.StatusNotFound)
	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = apperrors.New("USER_NOT_FOUND", "User not found", http.StatusNotFound)
	// ErrSoftwareNotFound indicates no ledger entry exists for the (user, app) pair.
	ErrSoftwareNotFound = apperrors.New("SOFTWARE_NOT_FOUND", "Software not installed", http.StatusNotFound)
	// ErrConstraintViolation is returned when a write loses a uniqueness race it cannot absorb.
	ErrConstraintViolation = apperrors.New("CONSTRAINT_VIOLATION", "Resource conflict", http.StatusConflict)
	// ErrInvalidResetToken covers unknown, used and expired reset tokens alike.
	ErrInvalidResetToken = apperrors.New("INVALID_RESET_TOKEN", "Invalid or expired reset token", http.StatusBadRequest)
	// ErrPasswordResetDisabled is returned when the configured reset mode does not allow the flow.
	ErrPasswordResetDisabled = apperrors.New("PASSWORD_RESET_DISABLED", "Password reset is not available", http.StatusForbidden)
	// ErrClientReportDisabled is returned when clients try to report facts the server collects itself.
	ErrClientReportDisabled = apperrors.New("CLIENT_REPORT_DISABLED", "System configuration is collected by the server", http.StatusConflict)
)

func accountNotFound(role string) *apperrors.AppError {
	return apperrors.New(ErrAccountNotFound.Code, fmt.Sprintf("No %s account found with this email", role), http.StatusNotFound)
}

// TaskEnqueuer schedules background work. *tasks.Queue satisfies it.
type TaskEnqueuer interface {
	Enqueue(ctx context.Context, kind, userID string, payload any) (*models.BackgroundTask, error)
}

// isUniqueConstraintError detects database uniqueness constraint violations across vendors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique constraint") ||
		strings.Contains(lower, "duplicate")
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normaliseRole(role string) string {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return models.RoleUser
	}
	return role
}
