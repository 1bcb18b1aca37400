package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/softcenter/internal/database/testutil"
	"github.com/charlesng35/softcenter/internal/models"
	"github.com/charlesng35/softcenter/internal/realtime"
	"github.com/charlesng35/softcenter/internal/snapshot"
)

type enqueuedTask struct {
	Kind    string
	UserID  string
	Payload any
}

type recordingQueue struct {
	mu    sync.Mutex
	tasks []enqueuedTask
	err   error
}

func (q *recordingQueue) Enqueue(_ context.Context, kind, userID string, payload any) (*models.BackgroundTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	q.tasks = append(q.tasks, enqueuedTask{Kind: kind, UserID: userID, Payload: payload})
	return &models.BackgroundTask{Kind: kind, UserID: userID, Status: models.TaskPending}, nil
}

// stored returns the i-th enqueued task as the queue would persist it.
func (q *recordingQueue) stored(t *testing.T, i int) *models.BackgroundTask {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()
	require.Greater(t, len(q.tasks), i)

	raw, err := json.Marshal(q.tasks[i].Payload)
	require.NoError(t, err)
	return &models.BackgroundTask{Kind: q.tasks[i].Kind, UserID: q.tasks[i].UserID, Payload: raw}
}

func (q *recordingQueue) kinds() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.tasks))
	for _, task := range q.tasks {
		out = append(out, task.Kind)
	}
	return out
}

type recordingPublisher struct {
	mu      sync.Mutex
	user    []realtime.Message
	admin   []realtime.Message
	userIDs []string
}

func (p *recordingPublisher) BroadcastToUser(_ string, userID string, message realtime.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.user = append(p.user, message)
	p.userIDs = append(p.userIDs, userID)
}

func (p *recordingPublisher) BroadcastStream(_ string, message realtime.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.admin = append(p.admin, message)
}

type staticCollector struct {
	snap snapshot.Snapshot
	errs []*snapshot.ProbeError
}

func (c staticCollector) Collect(context.Context) (snapshot.Snapshot, []*snapshot.ProbeError) {
	return c.snap, c.errs
}

var errQueueDown = errors.New("queue unavailable")

func fixedNow() time.Time {
	return time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	return testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
}

func newCredentialService(t *testing.T, db *gorm.DB, queue TaskEnqueuer, mode string) *CredentialService {
	t.Helper()
	svc, err := NewCredentialService(db, queue, CredentialConfig{ResetMode: mode, ResetTTL: time.Hour, AppName: "Software Center"})
	require.NoError(t, err)
	return svc
}

func mustCreateUser(t *testing.T, svc *CredentialService, email, role string) *models.User {
	t.Helper()
	user, err := svc.Create(context.Background(), "Test User", email, "secret-pass", role)
	require.NoError(t, err)
	return user
}
