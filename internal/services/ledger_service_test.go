package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/softcenter/internal/models"
	"github.com/charlesng35/softcenter/internal/realtime"
	apperrors "github.com/charlesng35/softcenter/pkg/errors"
)

func newLedger(t *testing.T, publisher EventPublisher, seed bool) (*LedgerService, *models.User) {
	t.Helper()
	db := newTestDB(t)
	user := mustCreateUser(t, newCredentialService(t, db, nil, ResetModeDirect), "a@x.com", models.RoleUser)
	svc, err := NewLedgerService(db, publisher, LedgerConfig{SeedPlaceholders: seed})
	require.NoError(t, err)
	return svc, user
}

func TestLedgerInstallUpdateUninstall(t *testing.T) {
	publisher := &recordingPublisher{}
	svc, user := newLedger(t, publisher, false)
	ctx := context.Background()

	_, err := svc.Get(ctx, user.ID, "vlc")
	require.ErrorIs(t, err, ErrSoftwareNotFound)

	entry, err := svc.Install(ctx, user.ID, "vlc", "VLC", "3.0.18")
	require.NoError(t, err)
	require.Equal(t, models.StatusInstalled, entry.Status)
	require.Equal(t, "3.0.18", entry.Version)

	entry, err = svc.Update(ctx, user.ID, "vlc", "3.0.20")
	require.NoError(t, err)
	require.Equal(t, "3.0.20", entry.Version)
	require.Equal(t, "VLC", entry.Name)

	entry, err = svc.Uninstall(ctx, user.ID, "vlc")
	require.NoError(t, err)
	require.Equal(t, models.StatusUninstalled, entry.Status)
	require.Equal(t, "3.0.20", entry.Version)

	list, err := svc.ListForUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = svc.Update(ctx, user.ID, "missing", "1.0")
	require.ErrorIs(t, err, ErrSoftwareNotFound)
	_, err = svc.Uninstall(ctx, user.ID, "missing")
	require.ErrorIs(t, err, ErrSoftwareNotFound)

	require.Len(t, publisher.user, 3)
	require.Len(t, publisher.admin, 3)
	require.Equal(t, realtime.StreamLedger, publisher.user[0].Stream)
	require.Equal(t, realtime.EventLedgerUpserted, publisher.user[0].Event)
	require.Equal(t, realtime.StreamAdminLedger, publisher.admin[0].Stream)
	require.Equal(t, user.ID, publisher.userIDs[0])
}

func TestLedgerUpsertStatusValidation(t *testing.T) {
	svc, user := newLedger(t, nil, false)
	ctx := context.Background()

	cases := []struct {
		appID string
		input UpsertInput
	}{
		{"", UpsertInput{Name: "A", Version: "1", Status: models.StatusInstalled}},
		{"a", UpsertInput{Version: "1", Status: models.StatusInstalled}},
		{"a", UpsertInput{Name: "A", Status: models.StatusInstalled}},
		{"a", UpsertInput{Name: "A", Version: "1", Status: "deleted"}},
	}
	for _, tc := range cases {
		_, err := svc.UpsertStatus(ctx, user.ID, tc.appID, tc.input)
		require.ErrorIs(t, err, apperrors.ErrBadRequest)
	}
}

func TestLedgerConcurrentUpsertKeepsOneRow(t *testing.T) {
	svc, user := newLedger(t, nil, false)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.UpsertStatus(ctx, user.ID, "chrome", UpsertInput{
				Name:    "Google Chrome",
				Version: fmt.Sprintf("120.0.%d", i),
				Status:  models.StatusUpdating,
			})
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	final, err := svc.UpsertStatus(ctx, user.ID, "chrome", UpsertInput{Name: "Google Chrome", Version: "121.0.0", Status: models.StatusInstalled})
	require.NoError(t, err)

	list, err := svc.ListForUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, final.ID, list[0].ID)
	require.Equal(t, "121.0.0", list[0].Version)
	require.Equal(t, models.StatusInstalled, list[0].Status)
}

func TestLedgerEnsureSeeded(t *testing.T) {
	ctx := context.Background()

	disabled, user := newLedger(t, nil, false)
	inserted, err := disabled.EnsureSeeded(ctx, user.ID)
	require.NoError(t, err)
	require.False(t, inserted)
	list, err := disabled.ListForUser(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, list)
	require.Empty(t, list)

	enabled, user := newLedger(t, nil, true)
	inserted, err = enabled.EnsureSeeded(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = enabled.EnsureSeeded(ctx, user.ID)
	require.NoError(t, err)
	require.False(t, inserted)

	list, err = enabled.ListForUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "chrome", list[0].AppID)
	require.Equal(t, "120.0.6099.109", list[0].Version)
	require.Equal(t, "vscode", list[1].AppID)
	require.Equal(t, "Visual Studio Code", list[1].Name)
}

func TestLedgerRescanMarksStaleUpdates(t *testing.T) {
	publisher := &recordingPublisher{}
	svc, user := newLedger(t, publisher, false)
	ctx := context.Background()

	_, err := svc.UpsertStatus(ctx, user.ID, "slack", UpsertInput{Name: "Slack", Version: "4.0", Status: models.StatusUpdating})
	require.NoError(t, err)
	_, err = svc.UpsertStatus(ctx, user.ID, "zoom", UpsertInput{Name: "Zoom", Version: "5.0", Status: models.StatusUpdating})
	require.NoError(t, err)
	_, err = svc.Install(ctx, user.ID, "git", "Git", "2.43")
	require.NoError(t, err)

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, svc.db.Model(&models.InstalledSoftware{}).
		Where("user_id = ? AND app_id = ?", user.ID, "slack").
		UpdateColumn("updated_at", old).Error)

	svc.now = func() time.Time { return time.Now().Add(time.Second) }
	result, err := svc.Rescan(ctx, user.ID)
	require.NoError(t, err)
	require.EqualValues(t, 3, result.Checked)
	require.EqualValues(t, 1, result.MarkedStale)

	slack, err := svc.Get(ctx, user.ID, "slack")
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, slack.Status)

	zoom, err := svc.Get(ctx, user.ID, "zoom")
	require.NoError(t, err)
	require.Equal(t, models.StatusUpdating, zoom.Status)

	last := publisher.user[len(publisher.user)-1]
	require.Equal(t, realtime.EventLedgerRescanned, last.Event)

	require.NoError(t, svc.RescanHandler()(ctx, &models.BackgroundTask{UserID: user.ID}))
	require.Error(t, svc.RescanHandler()(ctx, &models.BackgroundTask{}))
}

func TestLedgerReinstallRefreshesInstallDate(t *testing.T) {
	svc, user := newLedger(t, nil, false)
	ctx := context.Background()

	first := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return first }
	_, err := svc.Install(ctx, user.ID, "vlc", "VLC", "3.0.18")
	require.NoError(t, err)

	svc.now = func() time.Time { return first.Add(time.Hour) }
	entry, err := svc.Update(ctx, user.ID, "vlc", "3.0.20")
	require.NoError(t, err)
	require.True(t, entry.InstallDate.Equal(first), "update keeps the original install date")

	_, err = svc.Uninstall(ctx, user.ID, "vlc")
	require.NoError(t, err)

	again := first.Add(48 * time.Hour)
	svc.now = func() time.Time { return again }
	entry, err = svc.Install(ctx, user.ID, "vlc", "VLC", "3.0.21")
	require.NoError(t, err)
	require.Equal(t, models.StatusInstalled, entry.Status)
	require.True(t, entry.InstallDate.Equal(again), "got %s", entry.InstallDate)
	require.True(t, entry.LastUpdateCheck.Equal(again))
}

func TestLedgerUnknownUser(t *testing.T) {
	svc, _ := newLedger(t, nil, true)
	ctx := context.Background()

	_, err := svc.ListForUser(ctx, "no-such-user")
	require.ErrorIs(t, err, ErrUserNotFound)

	inserted, err := svc.EnsureSeeded(ctx, "no-such-user")
	require.ErrorIs(t, err, ErrUserNotFound)
	require.False(t, inserted)

	var count int64
	require.NoError(t, svc.db.Model(&models.InstalledSoftware{}).Where("user_id = ?", "no-such-user").Count(&count).Error)
	require.Zero(t, count)
}
