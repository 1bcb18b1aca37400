package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	iauth "github.com/charlesng35/softcenter/internal/auth"
	"github.com/charlesng35/softcenter/internal/models"
)

type stubUsers map[string]*models.User

func (s stubUsers) ResolveUser(_ context.Context, id string) (*models.User, error) {
	if user, ok := s[id]; ok {
		return user, nil
	}
	return nil, iauth.ErrUnknownUser
}

func newTestGate(t *testing.T, users stubUsers) (*iauth.Gate, *iauth.JWTService) {
	t.Helper()
	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         "secret",
		Issuer:         "test-suite",
		AccessTokenTTL: time.Minute,
	})
	require.NoError(t, err)
	gate, err := iauth.NewGate(jwtSvc, users)
	require.NoError(t, err)
	return gate, jwtSvc
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	user := &models.User{BaseModel: models.BaseModel{ID: "user-123"}, Role: models.RoleUser}
	gate, jwtSvc := newTestGate(t, stubUsers{"user-123": user})

	token, err := jwtSvc.GenerateAccessToken(iauth.AccessTokenInput{UserID: "user-123", Role: models.RoleUser})
	require.NoError(t, err)
	orphan, err := jwtSvc.GenerateAccessToken(iauth.AccessTokenInput{UserID: "deleted-user", Role: models.RoleUser})
	require.NoError(t, err)

	r := gin.New()
	r.GET("/secure", Auth(gate), func(c *gin.Context) {
		current, ok := CurrentUser(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{
			"user_id": c.GetString(CtxUserIDKey),
			"role":    c.GetString(CtxUserRoleKey),
			"same":    current == user,
		})
	})

	rejected := map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic " + token,
		"garbage token":  "Bearer not-a-jwt",
		"unknown user":   "Bearer " + orphan,
	}
	for name, header := range rejected {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/secure", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			r.ServeHTTP(w, req)
			require.Equal(t, http.StatusUnauthorized, w.Code)
			require.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
			require.JSONEq(t, `{"message":"Please authenticate"}`, w.Body.String())
		})
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.Equal(t, "user-123", payload["user_id"])
	require.Equal(t, models.RoleUser, payload["role"])
	require.Equal(t, true, payload["same"])
}

func TestRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)

	admin := &models.User{BaseModel: models.BaseModel{ID: "admin-1"}, Role: models.RoleAdmin}
	member := &models.User{BaseModel: models.BaseModel{ID: "user-1"}, Role: models.RoleUser}
	gate, jwtSvc := newTestGate(t, stubUsers{"admin-1": admin, "user-1": member})

	r := gin.New()
	r.GET("/admin", Auth(gate), RequireRole(models.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	call := func(userID string) *httptest.ResponseRecorder {
		token, err := jwtSvc.GenerateAccessToken(iauth.AccessTokenInput{UserID: userID, Role: models.RoleAdmin})
		require.NoError(t, err)
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		r.ServeHTTP(w, req)
		return w
	}

	require.Equal(t, http.StatusNoContent, call("admin-1").Code)

	// The stored role wins over the role claim in the token.
	w := call("user-1")
	require.Equal(t, http.StatusForbidden, w.Code)
	require.JSONEq(t, `{"message":"Access denied"}`, w.Body.String())
}

func TestRequireRoleWithoutAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/admin", RequireRole(models.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
