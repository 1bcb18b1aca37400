package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/softcenter/pkg/logger"
)

const (
	defaultTaskRetention = 7 * 24 * time.Hour
	defaultRetrySpec     = "@every 1m"
	defaultPurgeSpec     = "@daily"
	defaultTokenSpec     = "@hourly"
	defaultCacheSpec     = "@every 10m"
)

// TaskMaintainer re-queues failed tasks and removes finished ones. *tasks.Queue satisfies it.
type TaskMaintainer interface {
	RetryFailed(ctx context.Context) (int64, error)
	Purge(ctx context.Context, olderThan time.Duration) (int64, error)
}

// TokenCleaner removes expired password reset tokens. *services.CredentialService satisfies it.
type TokenCleaner interface {
	ClearExpiredResetTokens(ctx context.Context) (int64, error)
}

// CachePurger drops expired cache entries. The database, bolt and memory cache stores satisfy it.
type CachePurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Cleaner coordinates periodic maintenance: retrying failed tasks, purging finished tasks,
// clearing expired reset tokens and expired cache entries.
type Cleaner struct {
	tasks     TaskMaintainer
	tokens    TokenCleaner
	cache     CachePurger
	cron      *cron.Cron
	log       *zap.Logger
	retention time.Duration

	retrySchedule string
	purgeSchedule string
	tokenSchedule string
	cacheSchedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithTaskRetention adjusts how long finished tasks are kept.
func WithTaskRetention(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d > 0 {
			cleaner.retention = d
		}
	}
}

// WithRetrySchedule overrides the cron schedule for retrying failed tasks.
func WithRetrySchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.retrySchedule = spec
		}
	}
}

// WithPurgeSchedule overrides the cron schedule for purging finished tasks.
func WithPurgeSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.purgeSchedule = spec
		}
	}
}

// WithTokenSchedule overrides the cron schedule for reset token cleanup.
func WithTokenSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.tokenSchedule = spec
		}
	}
}

// WithCacheSchedule overrides the cron schedule for cache expiry.
func WithCacheSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.cacheSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. Any nil dependency results in
// the corresponding job being skipped.
func NewCleaner(tasks TaskMaintainer, tokens TokenCleaner, cache CachePurger, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		tasks:         tasks,
		tokens:        tokens,
		cache:         cache,
		retention:     defaultTaskRetention,
		retrySchedule: defaultRetrySpec,
		purgeSchedule: defaultPurgeSpec,
		tokenSchedule: defaultTokenSpec,
		cacheSchedule: defaultCacheSpec,
		log:           logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

type job struct {
	name string
	spec string
	run  func(ctx context.Context) (int64, error)
}

func (c *Cleaner) jobs() []job {
	var jobs []job
	if c.tasks != nil {
		jobs = append(jobs,
			job{name: "retry failed tasks", spec: c.retrySchedule, run: c.tasks.RetryFailed},
			job{name: "purge finished tasks", spec: c.purgeSchedule, run: func(ctx context.Context) (int64, error) {
				return c.tasks.Purge(ctx, c.retention)
			}},
		)
	}
	if c.tokens != nil {
		jobs = append(jobs, job{name: "clear reset tokens", spec: c.tokenSchedule, run: c.tokens.ClearExpiredResetTokens})
	}
	if c.cache != nil {
		jobs = append(jobs, job{name: "purge cache", spec: c.cacheSchedule, run: c.cache.PurgeExpired})
	}
	return jobs
}

// Start registers maintenance jobs with the cron scheduler and launches it if at least one
// job is enabled.
func (c *Cleaner) Start() error {
	jobs := c.jobs()
	if len(jobs) == 0 {
		return nil
	}

	for _, j := range jobs {
		j := j
		if _, err := c.cron.AddFunc(j.spec, func() {
			c.runJob(context.Background(), j)
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

func (c *Cleaner) runJob(ctx context.Context, j job) {
	affected, err := j.run(ctx)
	if err != nil {
		c.log.Warn(j.name+" failed", zap.Error(err))
		return
	}
	if affected > 0 {
		c.log.Debug(j.name, zap.Int64("affected", affected))
	}
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured maintenance jobs sequentially. Used in tests and
// during start-up.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	for _, j := range c.jobs() {
		if _, err := j.run(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
