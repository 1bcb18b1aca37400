package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/softcenter/internal/models"
	"github.com/charlesng35/softcenter/pkg/logger"
	"github.com/charlesng35/softcenter/pkg/metrics"
)

const (
	defaultWorkers      = 2
	defaultMaxAttempts  = 3
	defaultTaskTimeout  = 30 * time.Second
	defaultPollInterval = 5 * time.Second
	defaultBackoff      = 30 * time.Second
	maxListLimit        = 200
)

var (
	// ErrNoHandler is recorded on tasks whose kind has no registered handler.
	ErrNoHandler = errors.New("tasks: no handler registered")
	// ErrAbandoned is recorded on running tasks whose worker disappeared.
	ErrAbandoned = errors.New("tasks: abandoned while running")
)

// Handler executes one task. Returning an error marks the task failed.
type Handler func(ctx context.Context, task *models.BackgroundTask) error

// Config tunes the worker pool.
type Config struct {
	Workers      int
	MaxAttempts  int
	TaskTimeout  time.Duration
	PollInterval time.Duration
	Backoff      time.Duration
}

// Option customises the Queue.
type Option func(*Queue)

// WithClock overrides the clock used for scheduling.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// WithNotifier registers a callback invoked after each task reaches a terminal status.
func WithNotifier(fn func(task models.BackgroundTask)) Option {
	return func(q *Queue) {
		q.notify = fn
	}
}

// Queue persists background tasks and runs them on a pool of workers.
type Queue struct {
	db     *gorm.DB
	cfg    Config
	now    func() time.Time
	log    *zap.Logger
	notify func(task models.BackgroundTask)

	mu       sync.RWMutex
	handlers map[string]Handler

	wake   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueue constructs a Queue backed by the background_tasks table.
func NewQueue(db *gorm.DB, cfg Config, opts ...Option) (*Queue, error) {
	if db == nil {
		return nil, errors.New("tasks: db is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = defaultTaskTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}

	q := &Queue{
		db:       db,
		cfg:      cfg,
		now:      time.Now,
		log:      logger.WithModule("tasks"),
		handlers: make(map[string]Handler),
		wake:     make(chan struct{}, cfg.Workers),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Register binds a handler to a task kind, replacing any previous handler.
func (q *Queue) Register(kind string, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = handler
}

// Enqueue persists a pending task and wakes an idle worker. payload is JSON encoded.
func (q *Queue) Enqueue(ctx context.Context, kind, userID string, payload any) (*models.BackgroundTask, error) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return nil, errors.New("tasks: kind is required")
	}

	task := &models.BackgroundTask{
		Kind:        kind,
		UserID:      userID,
		Status:      models.TaskPending,
		MaxAttempts: q.cfg.MaxAttempts,
		RunAfter:    q.now(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("tasks: encode payload: %w", err)
		}
		task.Payload = datatypes.JSON(raw)
	}

	if err := q.db.WithContext(ctx).Create(task).Error; err != nil {
		return nil, fmt.Errorf("tasks: enqueue %s: %w", kind, err)
	}

	select {
	case q.wake <- struct{}{}:
	default:
	}

	return task, nil
}

// Start launches the worker pool. Workers stop when ctx is cancelled or Stop is called.
// Tasks left running by a previous process are failed first so they become retryable.
func (q *Queue) Start(ctx context.Context) {
	if _, err := q.RecoverAbandoned(ctx); err != nil {
		q.log.Warn("recover abandoned tasks", zap.Error(err))
	}

	ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	q.log.Info("task workers started", zap.Int("workers", q.cfg.Workers))
}

// Stop cancels the workers and waits for in-flight tasks to return.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := q.RunPending(ctx); err != nil && ctx.Err() == nil {
			q.log.Warn("task poll failed", zap.Int("worker", id), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-ticker.C:
		}
	}
}

// RunPending claims and executes due tasks until none remain, returning how many ran.
func (q *Queue) RunPending(ctx context.Context) (int, error) {
	ran := 0
	for ctx.Err() == nil {
		task, err := q.claim(ctx)
		if err != nil {
			return ran, err
		}
		if task == nil {
			return ran, nil
		}
		q.execute(ctx, task)
		ran++
	}
	return ran, nil
}

// claim moves the oldest due pending task to running. A lost race returns the next candidate.
func (q *Queue) claim(ctx context.Context) (*models.BackgroundTask, error) {
	for {
		var task models.BackgroundTask
		err := q.db.WithContext(ctx).
			Where("status = ? AND run_after <= ?", models.TaskPending, q.now()).
			Order("created_at ASC").
			Take(&task).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("tasks: find pending: %w", err)
		}

		started := q.now()
		result := q.db.WithContext(ctx).Model(&models.BackgroundTask{}).
			Where("id = ? AND status = ?", task.ID, models.TaskPending).
			Updates(map[string]any{
				"status":     models.TaskRunning,
				"started_at": started,
				"attempts":   gorm.Expr("attempts + 1"),
			})
		if result.Error != nil {
			return nil, fmt.Errorf("tasks: claim %s: %w", task.ID, result.Error)
		}
		if result.RowsAffected == 1 {
			task.Status = models.TaskRunning
			task.StartedAt = &started
			task.Attempts++
			return &task, nil
		}
	}
}

func (q *Queue) execute(ctx context.Context, task *models.BackgroundTask) {
	q.mu.RLock()
	handler := q.handlers[task.Kind]
	q.mu.RUnlock()

	var err error
	if handler == nil {
		err = fmt.Errorf("%w for kind %q", ErrNoHandler, task.Kind)
	} else {
		err = q.invoke(ctx, handler, task)
	}

	finished := q.now()
	updates := map[string]any{"finished_at": finished}
	if err != nil {
		task.Status = models.TaskFailed
		task.LastError = err.Error()
		task.RunAfter = finished.Add(q.cfg.Backoff * time.Duration(task.Attempts))
		updates["status"] = models.TaskFailed
		updates["last_error"] = task.LastError
		updates["run_after"] = task.RunAfter
		metrics.Tasks.WithLabelValues(task.Kind, "failed").Inc()
		q.log.Warn("task failed",
			zap.String("task_id", task.ID),
			zap.String("kind", task.Kind),
			zap.Int("attempt", task.Attempts),
			zap.Error(err),
		)
	} else {
		task.Status = models.TaskSucceeded
		task.LastError = ""
		updates["status"] = models.TaskSucceeded
		updates["last_error"] = ""
		metrics.Tasks.WithLabelValues(task.Kind, "succeeded").Inc()
		q.log.Debug("task succeeded", zap.String("task_id", task.ID), zap.String("kind", task.Kind))
	}
	task.FinishedAt = &finished

	// Record the outcome even when the worker context was cancelled mid-task.
	if err := q.db.WithContext(context.WithoutCancel(ctx)).Model(&models.BackgroundTask{}).
		Where("id = ?", task.ID).Updates(updates).Error; err != nil {
		q.log.Error("record task outcome", zap.String("task_id", task.ID), zap.Error(err))
		return
	}

	if q.notify != nil {
		q.notify(*task)
	}
}

func (q *Queue) invoke(ctx context.Context, handler Handler, task *models.BackgroundTask) (err error) {
	ctx, cancel := context.WithTimeout(ctx, q.cfg.TaskTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tasks: handler panic: %v", r)
		}
	}()

	return handler(ctx, task)
}

// RecoverAbandoned marks running tasks started more than twice the task timeout ago as
// failed. A live worker always records an outcome within the timeout, so such rows belong
// to a worker that died mid-task.
func (q *Queue) RecoverAbandoned(ctx context.Context) (int64, error) {
	now := q.now()
	cutoff := now.Add(-2 * q.cfg.TaskTimeout)
	result := q.db.WithContext(ctx).Model(&models.BackgroundTask{}).
		Where("status = ? AND started_at < ?", models.TaskRunning, cutoff).
		Updates(map[string]any{
			"status":      models.TaskFailed,
			"last_error":  ErrAbandoned.Error(),
			"finished_at": now,
			"run_after":   now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("tasks: recover abandoned: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		q.log.Warn("recovered abandoned tasks", zap.Int64("count", result.RowsAffected))
	}
	return result.RowsAffected, nil
}

// RetryFailed re-queues failed tasks that still have attempts left and whose backoff
// elapsed. Abandoned running tasks are recovered first and count as failed.
func (q *Queue) RetryFailed(ctx context.Context) (int64, error) {
	if _, err := q.RecoverAbandoned(ctx); err != nil {
		return 0, err
	}

	result := q.db.WithContext(ctx).Model(&models.BackgroundTask{}).
		Where("status = ? AND attempts < max_attempts AND run_after <= ?", models.TaskFailed, q.now()).
		Updates(map[string]any{
			"status":      models.TaskPending,
			"finished_at": nil,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("tasks: retry failed: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
	return result.RowsAffected, nil
}

// Purge deletes finished tasks older than the retention window.
func (q *Queue) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	cutoff := q.now().Add(-olderThan)
	result := q.db.WithContext(ctx).
		Where("status IN ? AND finished_at < ?", []string{models.TaskSucceeded, models.TaskFailed}, cutoff).
		Delete(&models.BackgroundTask{})
	if result.Error != nil {
		return 0, fmt.Errorf("tasks: purge: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ListOptions filters task listings.
type ListOptions struct {
	Status string
	Kind   string
	UserID string
	Limit  int
}

// List returns recent tasks, newest first.
func (q *Queue) List(ctx context.Context, opts ListOptions) ([]models.BackgroundTask, error) {
	limit := opts.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	query := q.db.WithContext(ctx).Model(&models.BackgroundTask{})
	if opts.Status != "" {
		query = query.Where("status = ?", opts.Status)
	}
	if opts.Kind != "" {
		query = query.Where("kind = ?", opts.Kind)
	}
	if opts.UserID != "" {
		query = query.Where("user_id = ?", opts.UserID)
	}

	var tasks []models.BackgroundTask
	if err := query.Order("created_at DESC").Limit(limit).Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("tasks: list: %w", err)
	}
	return tasks, nil
}

// DecodePayload unmarshals the task payload into v.
func DecodePayload(task *models.BackgroundTask, v any) error {
	if task == nil || len(task.Payload) == 0 {
		return errors.New("tasks: empty payload")
	}
	return json.Unmarshal(task.Payload, v)
}
