// Package queue implements the persistence-backed priority dispatch queue.
// Jobs live in the notification_jobs table so the queue survives restarts;
// workers claim rows optimistically, so any number of processes can drain the
// same database. The job processor is injected at start time, which keeps the
// queue free of orchestrator knowledge and independently testable.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/remexa/remexa/internal/models"
	"github.com/remexa/remexa/internal/notify"
	"github.com/remexa/remexa/pkg/logger"
	"github.com/remexa/remexa/pkg/metrics"
)

// Processor handles one claimed job. A nil return completes the job; a
// PermanentError dead-letters it immediately; any other error consumes a retry
// attempt.
type Processor func(ctx context.Context, job *models.NotificationJob) error

// PermanentError wraps failures that retrying cannot fix (missing template,
// invalid recipient, malformed template). They skip the backoff cycle.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}

// Config tunes worker concurrency and the retry policy. All knobs come from
// application configuration so operators can adjust them without redeploying.
type Config struct {
	Concurrency  int
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	PollInterval time.Duration
	StallTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 5 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = 5 * time.Minute
	}
	return c
}

// Stats exposes per-state job counts for the admin surface.
type Stats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}

// Health is the result of a queue health probe.
type Health struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// Option customises the Queue.
type Option func(*Queue)

// WithNow overrides the clock, primarily for tests.
func WithNow(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// Queue is the persistence-backed dispatcher.
type Queue struct {
	db        *gorm.DB
	cfg       Config
	processor Processor
	now       func() time.Time
	log       *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	wake    chan struct{}
	started bool
}

// New constructs a Queue over the supplied database handle.
func New(db *gorm.DB, cfg Config, opts ...Option) (*Queue, error) {
	if db == nil {
		return nil, errors.New("queue: db is required")
	}

	q := &Queue{
		db:   db,
		cfg:  cfg.withDefaults(),
		now:  time.Now,
		log:  logger.WithModule("queue"),
		wake: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// MaxAttempts exposes the configured default retry ceiling for new jobs.
func (q *Queue) MaxAttempts() int {
	return q.cfg.MaxAttempts
}

// Enqueue admits a job for immediate dispatch, ordered by priority then FIFO.
func (q *Queue) Enqueue(ctx context.Context, job *models.NotificationJob) error {
	return q.admit(ctx, job, nil)
}

// Schedule admits a job that becomes eligible once at elapses. A time in the
// past is treated as delay zero.
func (q *Queue) Schedule(ctx context.Context, job *models.NotificationJob, at time.Time) error {
	if !at.After(q.now()) {
		return q.admit(ctx, job, nil)
	}
	return q.admit(ctx, job, &at)
}

func (q *Queue) admit(ctx context.Context, job *models.NotificationJob, at *time.Time) error {
	if job == nil {
		return errors.New("queue: job is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	priority := notify.Priority(job.Priority)
	job.Weight = priority.Weight()
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = q.cfg.MaxAttempts
	}

	if at != nil {
		job.Status = models.JobStatusDelayed
		job.ScheduledAt = at
	} else {
		job.Status = models.JobStatusWaiting
		job.ScheduledAt = nil
	}

	if err := q.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("queue: admit job: %w", err)
	}

	metrics.JobsEnqueued.WithLabelValues(job.Priority).Inc()
	q.notifyWorkers()
	return nil
}

// Start launches the worker pool with the supplied processor. It returns
// immediately; call Stop for a graceful drain.
func (q *Queue) Start(ctx context.Context, processor Processor) error {
	if processor == nil {
		return errors.New("queue: processor is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return errors.New("queue: already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.processor = processor
	q.started = true

	// Jobs interrupted by a previous crash resurface as stalled actives.
	if released, err := q.RecoverStalled(runCtx); err != nil {
		q.log.Warn("stalled job recovery failed", zap.Error(err))
	} else if released > 0 {
		q.log.Info("recovered stalled jobs", zap.Int64("count", released))
	}

	for i := 0; i < q.cfg.Concurrency; i++ {
		q.wg.Add(1)
		go q.workerLoop(runCtx)
	}

	q.wg.Add(1)
	go q.timerLoop(runCtx)

	q.log.Info("queue started",
		zap.Int("concurrency", q.cfg.Concurrency),
		zap.Int("max_attempts", q.cfg.MaxAttempts),
		zap.Duration("base_delay", q.cfg.BaseDelay),
	)
	return nil
}

// Stop cancels the workers and waits for in-flight jobs to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	cancel := q.cancel
	q.cancel = nil
	q.started = false
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	q.wg.Wait()
}

func (q *Queue) notifyWorkers() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) workerLoop(ctx context.Context) {
	defer q.wg.Done()

	for {
		job, err := q.claimNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.log.Warn("claim failed", zap.Error(err))
		}

		if job != nil {
			q.runJob(ctx, job)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-time.After(q.cfg.PollInterval):
		}
	}
}

func (q *Queue) timerLoop(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if released, err := q.ReleaseDue(ctx); err != nil {
				if ctx.Err() == nil {
					q.log.Warn("delayed job release failed", zap.Error(err))
				}
			} else if released > 0 {
				q.notifyWorkers()
			}
		}
	}
}

// claimNext atomically moves the best waiting job to active. The optimistic
// UPDATE guard keeps the claim safe under concurrent workers.
func (q *Queue) claimNext(ctx context.Context) (*models.NotificationJob, error) {
	for {
		var job models.NotificationJob
		err := q.db.WithContext(ctx).
			Where("status = ?", models.JobStatusWaiting).
			Order("weight DESC, created_at ASC").
			First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("queue: select waiting job: %w", err)
		}

		now := q.now()
		claim := q.db.WithContext(ctx).
			Model(&models.NotificationJob{}).
			Where("id = ? AND status = ?", job.ID, models.JobStatusWaiting).
			Updates(map[string]any{
				"status":     models.JobStatusActive,
				"claimed_at": now,
			})
		if claim.Error != nil {
			return nil, fmt.Errorf("queue: claim job: %w", claim.Error)
		}
		if claim.RowsAffected == 0 {
			// Another worker won the race; try the next candidate.
			continue
		}

		job.Status = models.JobStatusActive
		job.ClaimedAt = &now
		return &job, nil
	}
}

func (q *Queue) runJob(ctx context.Context, job *models.NotificationJob) {
	err := q.processor(ctx, job)
	now := q.now()

	switch {
	case err == nil:
		update := map[string]any{
			"status":      models.JobStatusCompleted,
			"finished_at": now,
			"claimed_at":  nil,
		}
		if dbErr := q.db.WithContext(ctx).Model(job).Updates(update).Error; dbErr != nil {
			q.log.Error("complete job failed", zap.String("job_id", job.ID), zap.Error(dbErr))
		}
		metrics.JobsProcessed.WithLabelValues(job.Channel, "delivered").Inc()

	case IsPermanent(err):
		update := map[string]any{
			"status":      models.JobStatusDead,
			"finished_at": now,
			"claimed_at":  nil,
			"last_error":  err.Error(),
		}
		if dbErr := q.db.WithContext(ctx).Model(job).Updates(update).Error; dbErr != nil {
			q.log.Error("dead-letter job failed", zap.String("job_id", job.ID), zap.Error(dbErr))
		}
		metrics.JobsProcessed.WithLabelValues(job.Channel, "failed").Inc()
		metrics.DeadLetteredJobs.Inc()
		q.log.Warn("job failed permanently",
			zap.String("job_id", job.ID),
			zap.String("channel", job.Channel),
			zap.Error(err),
		)

	default:
		job.Attempts++
		if job.Attempts >= job.MaxAttempts {
			update := map[string]any{
				"status":      models.JobStatusDead,
				"attempts":    job.Attempts,
				"finished_at": now,
				"claimed_at":  nil,
				"last_error":  err.Error(),
			}
			if dbErr := q.db.WithContext(ctx).Model(job).Updates(update).Error; dbErr != nil {
				q.log.Error("dead-letter job failed", zap.String("job_id", job.ID), zap.Error(dbErr))
			}
			metrics.JobsProcessed.WithLabelValues(job.Channel, "failed").Inc()
			metrics.DeadLetteredJobs.Inc()
			q.log.Warn("job exhausted retries",
				zap.String("job_id", job.ID),
				zap.Int("attempts", job.Attempts),
				zap.Error(err),
			)
			return
		}

		retryAt := now.Add(q.backoff(job.Attempts))
		update := map[string]any{
			"status":       models.JobStatusDelayed,
			"attempts":     job.Attempts,
			"scheduled_at": retryAt,
			"claimed_at":   nil,
			"last_error":   err.Error(),
		}
		if dbErr := q.db.WithContext(ctx).Model(job).Updates(update).Error; dbErr != nil {
			q.log.Error("requeue job failed", zap.String("job_id", job.ID), zap.Error(dbErr))
		}
		metrics.JobsProcessed.WithLabelValues(job.Channel, "retried").Inc()
	}
}

// backoff returns baseDelay x 2^attempts, capped at MaxDelay.
func (q *Queue) backoff(attempts int) time.Duration {
	delay := q.cfg.BaseDelay
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= q.cfg.MaxDelay {
			return q.cfg.MaxDelay
		}
	}
	return delay
}

// ReleaseDue moves delayed jobs whose time has elapsed into the waiting set.
func (q *Queue) ReleaseDue(ctx context.Context) (int64, error) {
	result := q.db.WithContext(ctx).
		Model(&models.NotificationJob{}).
		Where("status = ? AND scheduled_at <= ?", models.JobStatusDelayed, q.now()).
		Updates(map[string]any{
			"status":       models.JobStatusWaiting,
			"scheduled_at": nil,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("queue: release due jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// RecoverStalled returns active jobs with stale claims to the waiting set so a
// crashed worker's in-flight work is retried rather than lost.
func (q *Queue) RecoverStalled(ctx context.Context) (int64, error) {
	cutoff := q.now().Add(-q.cfg.StallTimeout)
	result := q.db.WithContext(ctx).
		Model(&models.NotificationJob{}).
		Where("status = ? AND claimed_at < ?", models.JobStatusActive, cutoff).
		Updates(map[string]any{
			"status":     models.JobStatusWaiting,
			"claimed_at": nil,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("queue: recover stalled jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// RetryFailed re-submits up to limit dead jobs to the waiting set with a fresh
// attempt budget, returning the count actually retried.
func (q *Queue) RetryFailed(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 50
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var jobs []models.NotificationJob
	err := q.db.WithContext(ctx).
		Where("status IN ?", []string{models.JobStatusDead, models.JobStatusFailed}).
		Order("updated_at ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return 0, fmt.Errorf("queue: list failed jobs: %w", err)
	}

	retried := 0
	for _, job := range jobs {
		result := q.db.WithContext(ctx).
			Model(&models.NotificationJob{}).
			Where("id = ? AND status = ?", job.ID, job.Status).
			Updates(map[string]any{
				"status":      models.JobStatusWaiting,
				"attempts":    0,
				"finished_at": nil,
				"claimed_at":  nil,
			})
		if result.Error != nil {
			return retried, fmt.Errorf("queue: retry job %s: %w", job.ID, result.Error)
		}
		retried += int(result.RowsAffected)
	}

	if retried > 0 {
		q.notifyWorkers()
	}
	return retried, nil
}

// CleanOld purges bookkeeping for terminal jobs older than the grace window.
// History records are retained separately and never touched here.
func (q *Queue) CleanOld(ctx context.Context, grace time.Duration) (int64, error) {
	if grace <= 0 {
		grace = 7 * 24 * time.Hour
	}
	cutoff := q.now().Add(-grace)
	result := q.db.WithContext(ctx).
		Where("status IN ? AND finished_at < ?", []string{models.JobStatusCompleted, models.JobStatusDead}, cutoff).
		Delete(&models.NotificationJob{})
	if result.Error != nil {
		return 0, fmt.Errorf("queue: clean old jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Stats counts jobs per externally observable state.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	var stats Stats

	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	err := q.db.WithContext(ctx).
		Model(&models.NotificationJob{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return stats, fmt.Errorf("queue: stats: %w", err)
	}

	for _, r := range rows {
		switch r.Status {
		case models.JobStatusWaiting:
			stats.Waiting = r.Count
		case models.JobStatusActive:
			stats.Active = r.Count
		case models.JobStatusCompleted:
			stats.Completed = r.Count
		case models.JobStatusFailed, models.JobStatusDead:
			stats.Failed += r.Count
		case models.JobStatusDelayed:
			stats.Delayed = r.Count
		}
	}

	metrics.QueueDepth.WithLabelValues("waiting").Set(float64(stats.Waiting))
	metrics.QueueDepth.WithLabelValues("active").Set(float64(stats.Active))
	metrics.QueueDepth.WithLabelValues("delayed").Set(float64(stats.Delayed))

	return stats, nil
}

// HealthCheck verifies the backing store answers queries.
func (q *Queue) HealthCheck(ctx context.Context) Health {
	var count int64
	err := q.db.WithContext(ctx).
		Model(&models.NotificationJob{}).
		Where("status = ?", models.JobStatusActive).
		Count(&count).Error
	if err != nil {
		return Health{Healthy: false, Error: err.Error()}
	}
	return Health{Healthy: true}
}
