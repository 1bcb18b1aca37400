package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	testutil "github.com/charlesng35/softcenter/internal/database/testutil"
	"github.com/charlesng35/softcenter/internal/models"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestQueue(t *testing.T, opts ...Option) (*Queue, *testClock) {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := &testClock{now: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)}
	q, err := NewQueue(db, Config{MaxAttempts: 2, Backoff: time.Minute}, append([]Option{WithClock(clock.Now)}, opts...)...)
	require.NoError(t, err)
	return q, clock
}

func TestEnqueueAndRunSucceeds(t *testing.T) {
	var finished []models.BackgroundTask
	q, _ := newTestQueue(t, WithNotifier(func(task models.BackgroundTask) { finished = append(finished, task) }))

	var got struct {
		Email string `json:"email"`
	}
	q.Register(models.TaskMailPasswordReset, func(ctx context.Context, task *models.BackgroundTask) error {
		return DecodePayload(task, &got)
	})

	ctx := context.Background()
	task, err := q.Enqueue(ctx, models.TaskMailPasswordReset, "user-1", map[string]string{"email": "ada@example.com"})
	require.NoError(t, err)
	require.Equal(t, models.TaskPending, task.Status)

	ran, err := q.RunPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, ran)
	require.Equal(t, "ada@example.com", got.Email)

	list, err := q.List(ctx, ListOptions{UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, models.TaskSucceeded, list[0].Status)
	require.Equal(t, 1, list[0].Attempts)
	require.NotNil(t, list[0].FinishedAt)

	require.Len(t, finished, 1)
	require.Equal(t, models.TaskSucceeded, finished[0].Status)
}

func TestFailedTaskRetriesUntilMaxAttempts(t *testing.T) {
	q, clock := newTestQueue(t)
	calls := 0
	q.Register(models.TaskLedgerRescan, func(context.Context, *models.BackgroundTask) error {
		calls++
		return errors.New("boom")
	})

	ctx := context.Background()
	_, err := q.Enqueue(ctx, models.TaskLedgerRescan, "user-1", nil)
	require.NoError(t, err)

	_, err = q.RunPending(ctx)
	require.NoError(t, err)

	failed, err := q.List(ctx, ListOptions{Status: models.TaskFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, "boom", failed[0].LastError)

	// Backoff not yet elapsed.
	n, err := q.RetryFailed(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	clock.Advance(2 * time.Minute)
	n, err = q.RetryFailed(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = q.RunPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, calls)

	clock.Advance(time.Hour)
	n, err = q.RetryFailed(ctx)
	require.NoError(t, err)
	require.Zero(t, n, "attempts exhausted")
}

func TestAbandonedRunningTasksBecomeRetryable(t *testing.T) {
	q, clock := newTestQueue(t)
	calls := 0
	q.Register(models.TaskSnapshotRefresh, func(context.Context, *models.BackgroundTask) error {
		calls++
		return nil
	})

	ctx := context.Background()
	task, err := q.Enqueue(ctx, models.TaskSnapshotRefresh, "user-1", nil)
	require.NoError(t, err)

	// Claimed by a worker that never reports back.
	claimed, err := q.claim(ctx)
	require.NoError(t, err)
	require.Equal(t, task.ID, claimed.ID)

	n, err := q.RecoverAbandoned(ctx)
	require.NoError(t, err)
	require.Zero(t, n, "still within the task timeout")

	clock.Advance(24 * time.Hour)
	n, err = q.RetryFailed(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	ran, err := q.RunPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, ran)
	require.Equal(t, 1, calls)

	done, err := q.List(ctx, ListOptions{Status: models.TaskSucceeded})
	require.NoError(t, err)
	require.Len(t, done, 1)
	require.Equal(t, 2, done[0].Attempts)
}

func TestAbandonedTaskWithoutAttemptsLeftStaysFailed(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()

	task, err := q.Enqueue(ctx, models.TaskLedgerRescan, "user-1", nil)
	require.NoError(t, err)
	require.NoError(t, q.db.Model(task).Updates(map[string]any{
		"status": models.TaskRunning, "attempts": 2, "started_at": clock.Now(),
	}).Error)

	clock.Advance(time.Hour)
	n, err := q.RetryFailed(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	failed, err := q.List(ctx, ListOptions{Status: models.TaskFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, ErrAbandoned.Error(), failed[0].LastError)
	require.NotNil(t, failed[0].FinishedAt)

	clock.Advance(48 * time.Hour)
	purged, err := q.Purge(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 1, purged)
}

func TestUnknownKindAndPanicsAreRecordedAsFailures(t *testing.T) {
	q, _ := newTestQueue(t)
	q.Register(models.TaskSnapshotRefresh, func(context.Context, *models.BackgroundTask) error {
		panic("collector exploded")
	})

	ctx := context.Background()
	_, err := q.Enqueue(ctx, "unknown.kind", "", nil)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, models.TaskSnapshotRefresh, "user-1", nil)
	require.NoError(t, err)

	ran, err := q.RunPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, ran)

	failed, err := q.List(ctx, ListOptions{Status: models.TaskFailed})
	require.NoError(t, err)
	require.Len(t, failed, 2)
	for _, task := range failed {
		switch task.Kind {
		case "unknown.kind":
			require.Contains(t, task.LastError, "no handler registered")
		default:
			require.Contains(t, task.LastError, "collector exploded")
		}
	}
}

func TestPurgeRemovesOldFinishedTasks(t *testing.T) {
	q, clock := newTestQueue(t)
	q.Register(models.TaskLedgerRescan, func(context.Context, *models.BackgroundTask) error { return nil })

	ctx := context.Background()
	_, err := q.Enqueue(ctx, models.TaskLedgerRescan, "user-1", nil)
	require.NoError(t, err)
	_, err = q.RunPending(ctx)
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, models.TaskLedgerRescan, "user-2", nil)
	require.NoError(t, err)

	clock.Advance(48 * time.Hour)
	n, err := q.Purge(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	remaining, err := q.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, models.TaskPending, remaining[0].Status)
}

func TestWorkersDrainQueue(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	q, err := NewQueue(db, Config{Workers: 2, PollInterval: 20 * time.Millisecond})
	require.NoError(t, err)

	var mu sync.Mutex
	seen := map[string]int{}
	q.Register(models.TaskLedgerRescan, func(_ context.Context, task *models.BackgroundTask) error {
		mu.Lock()
		seen[task.UserID]++
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	for _, user := range []string{"a", "b", "c", "d"} {
		_, err := q.Enqueue(ctx, models.TaskLedgerRescan, user, nil)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 4
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for user, count := range seen {
		require.Equal(t, 1, count, "task for %s ran more than once", user)
	}
}
