package handlers_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/softcenter/internal/app"
	"github.com/charlesng35/softcenter/internal/handlers/testutil"
	"github.com/charlesng35/softcenter/internal/models"
)

func TestTaskListIsAdminOnlyAndRedactsResetMail(t *testing.T) {
	env := testutil.NewEnv(t, testutil.WithResetMode(app.PasswordResetEmail))
	user, userToken := env.LoginAs(models.RoleUser)
	_, adminToken := env.LoginAs(models.RoleAdmin)

	require.NoError(t, env.Credentials.RequestPasswordReset(context.Background(), user.Email, models.RoleUser))

	require.Equal(t, http.StatusForbidden, env.Request(http.MethodGet, "/api/v1/tasks", nil, userToken).Code)

	w := env.Request(http.MethodGet, "/api/v1/tasks?kind="+models.TaskMailPasswordReset, nil, adminToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var records []models.BackgroundTask
	testutil.DecodeInto(t, w, &records)
	require.Len(t, records, 1)
	require.Equal(t, user.ID, records[0].UserID)
	require.Empty(t, records[0].Payload)
	require.NotContains(t, w.Body.String(), "token")

	w = env.Request(http.MethodGet, "/api/v1/tasks?userId="+user.ID+"&kind="+models.TaskLedgerRescan, nil, adminToken)
	require.Equal(t, http.StatusOK, w.Code)
	testutil.DecodeInto(t, w, &records)
	require.Len(t, records, 1)
	require.Equal(t, models.TaskPending, records[0].Status)

	w = env.Request(http.MethodGet, "/api/v1/tasks?status=failed", nil, adminToken)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `[]`, w.Body.String())
}
