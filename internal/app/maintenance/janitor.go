// Package maintenance runs the background housekeeping the dispatch pipeline
// needs to stay healthy over weeks of uptime: purging finished jobs, returning
// stalled claims to the queue, and expiring cache entries.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/remexa/remexa/internal/models"
	"github.com/remexa/remexa/internal/queue"
	"github.com/remexa/remexa/pkg/logger"
)

const (
	defaultJobRetentionDays = 7
	defaultJobsSpec         = "@hourly"
	defaultStalledSpec      = "@every 5m"
	defaultCacheSpec        = "@hourly"
)

// Janitor coordinates background maintenance: cleaning old dispatch jobs,
// recovering stalled claims, and pruning expired cache entries. Delivery
// history is deliberately never touched.
type Janitor struct {
	db    *gorm.DB
	queue *queue.Queue
	cron  *cron.Cron
	now   func() time.Time
	log   *zap.Logger

	retentionDays   int
	jobsSchedule    string
	stalledSchedule string
	cacheSchedule   string
}

// Option customises the Janitor.
type Option func(*Janitor)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(j *Janitor) {
		if c != nil {
			j.cron = c
		}
	}
}

// WithNow overrides the clock used for retention comparisons.
func WithNow(now func() time.Time) Option {
	return func(j *Janitor) {
		if now != nil {
			j.now = now
		}
	}
}

// WithJobRetentionDays adjusts how long finished jobs are retained before cleanup.
func WithJobRetentionDays(days int) Option {
	return func(j *Janitor) {
		if days > 0 {
			j.retentionDays = days
		}
	}
}

// WithJobsSchedule overrides the cron specification for finished-job cleanup.
func WithJobsSchedule(spec string) Option {
	return func(j *Janitor) {
		if spec != "" {
			j.jobsSchedule = spec
		}
	}
}

// WithStalledSchedule overrides the cron specification for stalled-job recovery.
func WithStalledSchedule(spec string) Option {
	return func(j *Janitor) {
		if spec != "" {
			j.stalledSchedule = spec
		}
	}
}

// WithCacheSchedule overrides the cron specification for cache expiry sweeps.
func WithCacheSchedule(spec string) Option {
	return func(j *Janitor) {
		if spec != "" {
			j.cacheSchedule = spec
		}
	}
}

// NewJanitor constructs a Janitor with sensible defaults.
func NewJanitor(db *gorm.DB, q *queue.Queue, opts ...Option) (*Janitor, error) {
	if db == nil {
		return nil, errors.New("maintenance: db is required")
	}
	if q == nil {
		return nil, errors.New("maintenance: queue is required")
	}

	janitor := &Janitor{
		db:              db,
		queue:           q,
		now:             time.Now,
		retentionDays:   defaultJobRetentionDays,
		jobsSchedule:    defaultJobsSpec,
		stalledSchedule: defaultStalledSpec,
		cacheSchedule:   defaultCacheSpec,
		log:             logger.WithModule("maintenance"),
	}
	for _, opt := range opts {
		opt(janitor)
	}

	if janitor.cron == nil {
		janitor.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return janitor, nil
}

// Start registers the maintenance jobs with the cron scheduler and launches it.
func (j *Janitor) Start() error {
	if _, err := j.cron.AddFunc(j.jobsSchedule, func() {
		ctx := context.Background()
		if removed, err := j.queue.CleanOld(ctx, j.retention()); err != nil {
			j.log.Warn("finished job cleanup failed", zap.Error(err))
		} else if removed > 0 {
			j.log.Info("cleaned finished jobs", zap.Int64("removed", removed))
		}
	}); err != nil {
		return err
	}

	if _, err := j.cron.AddFunc(j.stalledSchedule, func() {
		ctx := context.Background()
		if recovered, err := j.queue.RecoverStalled(ctx); err != nil {
			j.log.Warn("stalled job recovery failed", zap.Error(err))
		} else if recovered > 0 {
			j.log.Warn("recovered stalled jobs", zap.Int64("recovered", recovered))
		}
		if health := j.queue.HealthCheck(ctx); !health.Healthy {
			j.log.Error("queue health check failed", zap.String("error", health.Error))
		}
	}); err != nil {
		return err
	}

	if _, err := j.cron.AddFunc(j.cacheSchedule, func() {
		ctx := context.Background()
		if _, err := CleanupCacheEntries(ctx, j.db, j.now()); err != nil {
			j.log.Warn("cache cleanup failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	j.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (j *Janitor) Stop() context.Context {
	if j.cron == nil {
		return context.Background()
	}
	return j.cron.Stop()
}

// RunOnce executes all maintenance routines sequentially. Primarily used in
// tests and during graceful shutdown.
func (j *Janitor) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	if _, err := j.queue.CleanOld(ctx, j.retention()); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := j.queue.RecoverStalled(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := CleanupCacheEntries(ctx, j.db, j.now()); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

func (j *Janitor) retention() time.Duration {
	return time.Duration(j.retentionDays) * 24 * time.Hour
}

// CleanupCacheEntries removes expired rows from the database cache store.
func CleanupCacheEntries(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	if db == nil {
		return 0, errors.New("cleanup cache: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result := db.WithContext(ctx).
		Where("expires_at < ?", now).
		Delete(&models.CacheEntry{})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup cache: %w", result.Error)
	}
	return result.RowsAffected, nil
}
