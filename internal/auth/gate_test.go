package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/softcenter/internal/models"
)

type mapResolver map[string]*models.User

func (m mapResolver) ResolveUser(_ context.Context, id string) (*models.User, error) {
	if user, ok := m[id]; ok {
		return user, nil
	}
	return nil, ErrUnknownUser
}

type failingResolver struct{}

func (failingResolver) ResolveUser(context.Context, string) (*models.User, error) {
	return nil, errors.New("connection reset")
}

func fixedClock() time.Time {
	return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
}

func newTestGate(t *testing.T, clock func() time.Time, users UserResolver) (*Gate, *JWTService) {
	t.Helper()
	jwtSvc, err := NewJWTService(JWTConfig{Secret: "gate-secret", AccessTokenTTL: time.Second, Clock: clock})
	require.NoError(t, err)
	gate, err := NewGate(jwtSvc, users)
	require.NoError(t, err)
	return gate, jwtSvc
}

func TestBearerToken(t *testing.T) {
	token, ok := BearerToken("Bearer abc")
	require.True(t, ok)
	require.Equal(t, "abc", token)

	token, ok = BearerToken("bearer   xyz ")
	require.True(t, ok)
	require.Equal(t, "xyz", token)

	_, ok = BearerToken("Basic abc")
	require.False(t, ok)
	_, ok = BearerToken("Bearer ")
	require.False(t, ok)
}

func TestGateResolvesLiveUser(t *testing.T) {
	user := &models.User{BaseModel: models.BaseModel{ID: "u1"}, Role: models.RoleAdmin}
	gate, jwtSvc := newTestGate(t, fixedClock, mapResolver{"u1": user})

	token, err := jwtSvc.GenerateAccessToken(AccessTokenInput{UserID: "u1", Role: models.RoleUser})
	require.NoError(t, err)

	identity, err := gate.AuthenticateHeader(context.Background(), "Bearer "+token)
	require.NoError(t, err)
	require.Same(t, user, identity.User)
	require.Equal(t, models.RoleUser, identity.Claims.Role)
}

func TestGateFailureCauses(t *testing.T) {
	current := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }
	gate, jwtSvc := newTestGate(t, clock, mapResolver{"u1": {BaseModel: models.BaseModel{ID: "u1"}}})

	valid, err := jwtSvc.GenerateAccessToken(AccessTokenInput{UserID: "u1"})
	require.NoError(t, err)
	ghost, err := jwtSvc.GenerateAccessToken(AccessTokenInput{UserID: "ghost"})
	require.NoError(t, err)

	other, err := NewJWTService(JWTConfig{Secret: "other", Clock: clock})
	require.NoError(t, err)
	forged, err := other.GenerateAccessToken(AccessTokenInput{UserID: "u1"})
	require.NoError(t, err)

	ctx := context.Background()

	_, err = gate.AuthenticateHeader(ctx, "")
	require.Equal(t, CauseMissingToken, CauseOf(err))

	_, err = gate.AuthenticateHeader(ctx, "Bearer not.a.jwt")
	require.Equal(t, CauseMalformed, CauseOf(err))

	_, err = gate.AuthenticateHeader(ctx, "Bearer "+forged)
	require.Equal(t, CauseBadSignature, CauseOf(err))

	_, err = gate.AuthenticateHeader(ctx, "Bearer "+ghost)
	require.Equal(t, CauseUnknownUser, CauseOf(err))

	current = current.Add(2 * time.Second)
	_, err = gate.AuthenticateHeader(ctx, "Bearer "+valid)
	require.Equal(t, CauseExpired, CauseOf(err))
}

func TestGateResolverFailureIsNotAGateError(t *testing.T) {
	gate, jwtSvc := newTestGate(t, fixedClock, failingResolver{})
	token, err := jwtSvc.GenerateAccessToken(AccessTokenInput{UserID: "u1"})
	require.NoError(t, err)

	_, err = gate.AuthenticateToken(context.Background(), token)
	require.Error(t, err)
	require.Equal(t, FailureCause(""), CauseOf(err))
}
