package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/charlesng35/softcenter/internal/models"
	"github.com/charlesng35/softcenter/pkg/logger"
	"github.com/charlesng35/softcenter/pkg/metrics"
)

// FailureCause identifies why the gate rejected a request. Causes are internal only;
// clients always receive the same generic 401.
type FailureCause string

const (
	CauseMissingToken FailureCause = "missing_token"
	CauseMalformed    FailureCause = "malformed"
	CauseBadSignature FailureCause = "bad_signature"
	CauseExpired      FailureCause = "expired"
	CauseUnknownUser  FailureCause = "unknown_user"
)

// ErrUnknownUser is returned by a UserResolver when the id does not resolve to a live user.
var ErrUnknownUser = errors.New("auth: unknown user")

// GateError is a rejected authentication attempt.
type GateError struct {
	Cause FailureCause
	Err   error
}

func (e *GateError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("gate: %s", e.Cause)
	}
	return fmt.Sprintf("gate: %s: %v", e.Cause, e.Err)
}

func (e *GateError) Unwrap() error {
	return e.Err
}

// CauseOf extracts the failure cause from err, or "" when err is not a GateError.
func CauseOf(err error) FailureCause {
	var gateErr *GateError
	if errors.As(err, &gateErr) {
		return gateErr.Cause
	}
	return ""
}

// UserResolver loads the live user record for a token subject.
type UserResolver interface {
	ResolveUser(ctx context.Context, userID string) (*models.User, error)
}

// Identity is the authenticated caller.
type Identity struct {
	User   *models.User
	Claims *Claims
}

// Gate verifies bearer tokens and resolves them to live users.
type Gate struct {
	tokens *JWTService
	users  UserResolver
	log    *zap.Logger
}

// NewGate constructs a Gate.
func NewGate(tokens *JWTService, users UserResolver) (*Gate, error) {
	if tokens == nil {
		return nil, errors.New("gate: jwt service is required")
	}
	if users == nil {
		return nil, errors.New("gate: user resolver is required")
	}
	return &Gate{tokens: tokens, users: users, log: logger.WithModule("gate")}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	return token, token != ""
}

// AuthenticateHeader authenticates an Authorization header value.
func (g *Gate) AuthenticateHeader(ctx context.Context, header string) (*Identity, error) {
	token, ok := BearerToken(header)
	if !ok {
		return nil, g.reject(&GateError{Cause: CauseMissingToken})
	}
	return g.AuthenticateToken(ctx, token)
}

// AuthenticateToken validates a raw token and resolves its subject.
func (g *Gate) AuthenticateToken(ctx context.Context, token string) (*Identity, error) {
	if strings.TrimSpace(token) == "" {
		return nil, g.reject(&GateError{Cause: CauseMissingToken})
	}

	claims, err := g.tokens.ValidateAccessToken(token)
	if err != nil {
		return nil, g.reject(&GateError{Cause: classifyTokenError(err), Err: err})
	}

	user, err := g.users.ResolveUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrUnknownUser) {
			return nil, g.reject(&GateError{Cause: CauseUnknownUser, Err: err})
		}
		return nil, fmt.Errorf("gate: resolve user: %w", err)
	}

	return &Identity{User: user, Claims: claims}, nil
}

func (g *Gate) reject(err *GateError) error {
	metrics.GateRejections.WithLabelValues(string(err.Cause)).Inc()
	g.log.Debug("request rejected", zap.String("cause", string(err.Cause)), zap.Error(err.Err))
	return err
}

func classifyTokenError(err error) FailureCause {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
		return CauseExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable), errors.Is(err, ErrInvalidIssuer):
		return CauseBadSignature
	default:
		return CauseMalformed
	}
}
