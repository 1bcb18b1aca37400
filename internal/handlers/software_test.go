package handlers_test

import (
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/softcenter/internal/handlers/testutil"
	"github.com/charlesng35/softcenter/internal/models"
)

type installationCheck struct {
	AppID     string                    `json:"appId"`
	Installed bool                      `json:"installed"`
	Software  *models.InstalledSoftware `json:"software"`
}

func TestSoftwareLifecycle(t *testing.T) {
	env := testutil.NewEnv(t)
	user, token := env.LoginAs(models.RoleUser)

	w := env.Request(http.MethodGet, "/api/v1/user-software/vscode", nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var check installationCheck
	testutil.DecodeInto(t, w, &check)
	require.False(t, check.Installed)
	require.Nil(t, check.Software)

	w = env.Request(http.MethodPost, "/api/v1/user-software/vscode/install", map[string]string{
		"name": "Visual Studio Code", "version": "1.85.1",
	}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var entry models.InstalledSoftware
	testutil.DecodeInto(t, w, &entry)
	require.Equal(t, user.ID, entry.UserID)
	require.Equal(t, models.StatusInstalled, entry.Status)

	w = env.Request(http.MethodGet, "/api/v1/user-software/vscode", nil, token)
	testutil.DecodeInto(t, w, &check)
	require.True(t, check.Installed)
	require.Equal(t, "1.85.1", check.Software.Version)

	w = env.Request(http.MethodPost, "/api/v1/user-software/vscode/update", map[string]string{"version": "1.86.0"}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	testutil.DecodeInto(t, w, &entry)
	require.Equal(t, "1.86.0", entry.Version)
	require.Equal(t, "Visual Studio Code", entry.Name)

	w = env.Request(http.MethodPut, "/api/v1/user-software/vscode/status", map[string]string{
		"name": "Visual Studio Code", "version": "1.86.0", "status": "bogus",
	}, token)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.Request(http.MethodPut, "/api/v1/user-software/vscode/status", map[string]string{
		"name": "Visual Studio Code", "version": "1.87.0", "status": "updating",
	}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.Request(http.MethodDelete, "/api/v1/user-software/vscode", nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	testutil.DecodeInto(t, w, &entry)
	require.Equal(t, models.StatusUninstalled, entry.Status)

	w = env.Request(http.MethodGet, "/api/v1/user-software", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	var entries []models.InstalledSoftware
	testutil.DecodeInto(t, w, &entries)
	require.Len(t, entries, 1)
	require.Equal(t, models.StatusUninstalled, entries[0].Status)
}

func TestSoftwareMissingEntries(t *testing.T) {
	env := testutil.NewEnv(t)
	_, token := env.LoginAs(models.RoleUser)

	w := env.Request(http.MethodDelete, "/api/v1/user-software/ghost", nil, token)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "Software not installed", testutil.ErrorMessage(t, w))

	w = env.Request(http.MethodPost, "/api/v1/user-software/ghost/update", nil, token)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = env.Request(http.MethodPost, "/api/v1/user-software/ghost/install", map[string]string{"name": "Ghost"}, token)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.Request(http.MethodGet, "/api/v1/user-software", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `[]`, w.Body.String())
}

func TestSoftwareListForUserAccess(t *testing.T) {
	env := testutil.NewEnv(t)
	owner, ownerToken := env.LoginAs(models.RoleUser)
	_, otherToken := env.LoginAs(models.RoleUser)
	_, adminToken := env.LoginAs(models.RoleAdmin)

	path := "/api/v1/user-software/user/" + owner.ID
	require.Equal(t, http.StatusOK, env.Request(http.MethodGet, path, nil, ownerToken).Code)
	require.Equal(t, http.StatusForbidden, env.Request(http.MethodGet, path, nil, otherToken).Code)
	require.Equal(t, http.StatusOK, env.Request(http.MethodGet, path, nil, adminToken).Code)
}

func TestSoftwareConcurrentInstallsKeepOneRow(t *testing.T) {
	env := testutil.NewEnv(t)
	user, token := env.LoginAs(models.RoleUser)

	const workers = 8
	var wg sync.WaitGroup
	codes := make([]int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = env.Request(http.MethodPost, "/api/v1/user-software/chrome/install", map[string]string{
				"name": "Google Chrome", "version": "120.0.6099.109",
			}, token).Code
		}(i)
	}
	wg.Wait()

	for _, code := range codes {
		require.Equal(t, http.StatusOK, code)
	}

	var count int64
	require.NoError(t, env.DB.Model(&models.InstalledSoftware{}).Where("user_id = ? AND app_id = ?", user.ID, "chrome").Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestSoftwareListForUnknownUser(t *testing.T) {
	env := testutil.NewEnv(t, testutil.WithSeedPlaceholders())
	_, adminToken := env.LoginAs(models.RoleAdmin)

	w := env.Request(http.MethodGet, "/api/v1/user-software/user/no-such-user", nil, adminToken)
	require.Equal(t, http.StatusNotFound, w.Code, w.Body.String())
	require.Equal(t, "User not found", testutil.ErrorMessage(t, w))

	var count int64
	require.NoError(t, env.DB.Model(&models.InstalledSoftware{}).Where("user_id = ?", "no-such-user").Count(&count).Error)
	require.Zero(t, count)
}
