package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/remexa/remexa/internal/database/testutil"
	"github.com/remexa/remexa/internal/models"
	"github.com/remexa/remexa/internal/notify"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestQueue(t *testing.T, cfg Config, opts ...Option) (*Queue, *gorm.DB) {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	q, err := New(db, cfg, opts...)
	require.NoError(t, err)
	return q, db
}

func testJob(priority notify.Priority) *models.NotificationJob {
	return &models.NotificationJob{
		UserID:    "11111111-1111-1111-1111-111111111111",
		Type:      string(notify.TypeTransactionConfirmation),
		Channel:   string(notify.ChannelEmail),
		Recipient: "amara@example.com",
		Priority:  string(priority),
	}
}

func TestEnqueueOrdersByPriorityThenFIFO(t *testing.T) {
	q, _ := newTestQueue(t, Config{})
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	admit := func(priority notify.Priority, offset time.Duration) string {
		job := testJob(priority)
		job.CreatedAt = base.Add(offset)
		require.NoError(t, q.Enqueue(ctx, job))
		return job.ID
	}

	low := admit(notify.PriorityLow, 0)
	firstCritical := admit(notify.PriorityCritical, time.Second)
	normal := admit(notify.PriorityNormal, 2*time.Second)
	secondCritical := admit(notify.PriorityCritical, 3*time.Second)

	var order []string
	for {
		job, err := q.claimNext(ctx)
		require.NoError(t, err)
		if job == nil {
			break
		}
		order = append(order, job.ID)
	}

	require.Equal(t, []string{firstCritical, secondCritical, normal, low}, order)
}

func TestScheduleInPastBecomesImmediatelyEligible(t *testing.T) {
	clock := newTestClock()
	q, db := newTestQueue(t, Config{}, WithNow(clock.Now))

	job := testJob(notify.PriorityNormal)
	require.NoError(t, q.Schedule(context.Background(), job, clock.Now().Add(-time.Hour)))

	var stored models.NotificationJob
	require.NoError(t, db.First(&stored, "id = ?", job.ID).Error)
	require.Equal(t, models.JobStatusWaiting, stored.Status)
	require.Nil(t, stored.ScheduledAt)
}

func TestScheduledJobInvisibleUntilDue(t *testing.T) {
	clock := newTestClock()
	q, _ := newTestQueue(t, Config{}, WithNow(clock.Now))
	ctx := context.Background()

	job := testJob(notify.PriorityHigh)
	require.NoError(t, q.Schedule(ctx, job, clock.Now().Add(10*time.Minute)))

	claimed, err := q.claimNext(ctx)
	require.NoError(t, err)
	require.Nil(t, claimed)

	released, err := q.ReleaseDue(ctx)
	require.NoError(t, err)
	require.Zero(t, released)

	clock.Advance(11 * time.Minute)
	released, err = q.ReleaseDue(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, released)

	claimed, err = q.claimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, job.ID, claimed.ID)
}

func TestTransientFailureRetriesWithBackoffThenDeadLetters(t *testing.T) {
	clock := newTestClock()
	q, db := newTestQueue(t, Config{MaxAttempts: 3, BaseDelay: 10 * time.Second}, WithNow(clock.Now))
	ctx := context.Background()

	calls := 0
	q.processor = func(ctx context.Context, job *models.NotificationJob) error {
		calls++
		return errors.New("gateway timeout")
	}

	job := testJob(notify.PriorityNormal)
	require.NoError(t, q.Enqueue(ctx, job))

	// First two attempts requeue with growing delays.
	for attempt := 1; attempt < 3; attempt++ {
		clock.Advance(time.Hour)
		_, err := q.ReleaseDue(ctx)
		require.NoError(t, err)

		claimed, err := q.claimNext(ctx)
		require.NoError(t, err)
		require.NotNil(t, claimed)
		q.runJob(ctx, claimed)

		var stored models.NotificationJob
		require.NoError(t, db.First(&stored, "id = ?", job.ID).Error)
		require.Equal(t, models.JobStatusDelayed, stored.Status)
		require.Equal(t, attempt, stored.Attempts)
		require.NotNil(t, stored.ScheduledAt)
		wantDelay := 10 * time.Second << attempt
		require.Equal(t, clock.Now().Add(wantDelay).Unix(), stored.ScheduledAt.Unix())
		require.Contains(t, stored.LastError, "gateway timeout")
	}

	// Third attempt exhausts the budget.
	clock.Advance(time.Hour)
	_, err := q.ReleaseDue(ctx)
	require.NoError(t, err)
	claimed, err := q.claimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	q.runJob(ctx, claimed)

	var stored models.NotificationJob
	require.NoError(t, db.First(&stored, "id = ?", job.ID).Error)
	require.Equal(t, models.JobStatusDead, stored.Status)
	require.Equal(t, 3, stored.Attempts)
	require.NotNil(t, stored.FinishedAt)
	require.Equal(t, 3, calls)
}

func TestPermanentFailureDeadLettersWithoutRetry(t *testing.T) {
	q, db := newTestQueue(t, Config{MaxAttempts: 3})
	ctx := context.Background()

	calls := 0
	q.processor = func(ctx context.Context, job *models.NotificationJob) error {
		calls++
		return Permanent(errors.New("no template for channel"))
	}

	job := testJob(notify.PriorityHigh)
	require.NoError(t, q.Enqueue(ctx, job))

	claimed, err := q.claimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	q.runJob(ctx, claimed)

	var stored models.NotificationJob
	require.NoError(t, db.First(&stored, "id = ?", job.ID).Error)
	require.Equal(t, models.JobStatusDead, stored.Status)
	require.Zero(t, stored.Attempts)
	require.Equal(t, 1, calls)
	require.Contains(t, stored.LastError, "no template")
}

func TestSuccessfulJobCompletes(t *testing.T) {
	q, db := newTestQueue(t, Config{})
	ctx := context.Background()

	q.processor = func(ctx context.Context, job *models.NotificationJob) error {
		return nil
	}

	job := testJob(notify.PriorityNormal)
	require.NoError(t, q.Enqueue(ctx, job))

	claimed, err := q.claimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	q.runJob(ctx, claimed)

	var stored models.NotificationJob
	require.NoError(t, db.First(&stored, "id = ?", job.ID).Error)
	require.Equal(t, models.JobStatusCompleted, stored.Status)
	require.NotNil(t, stored.FinishedAt)
	require.Nil(t, stored.ClaimedAt)
}

func TestWorkerPoolDrainsQueue(t *testing.T) {
	q, db := newTestQueue(t, Config{Concurrency: 4, PollInterval: 10 * time.Millisecond})
	ctx := context.Background()

	var mu sync.Mutex
	processed := map[string]bool{}
	processor := func(ctx context.Context, job *models.NotificationJob) error {
		mu.Lock()
		processed[job.ID] = true
		mu.Unlock()
		return nil
	}

	require.NoError(t, q.Start(ctx, processor))
	defer q.Stop()

	var ids []string
	for i := 0; i < 6; i++ {
		job := testJob(notify.PriorityNormal)
		require.NoError(t, q.Enqueue(ctx, job))
		ids = append(ids, job.ID)
	}

	require.Eventually(t, func() bool {
		var count int64
		if err := db.Model(&models.NotificationJob{}).
			Where("status = ?", models.JobStatusCompleted).
			Count(&count).Error; err != nil {
			return false
		}
		return count == int64(len(ids))
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, id := range ids {
		require.True(t, processed[id])
	}
}

func TestRecoverStalledReturnsJobToWaiting(t *testing.T) {
	clock := newTestClock()
	q, db := newTestQueue(t, Config{StallTimeout: 5 * time.Minute}, WithNow(clock.Now))
	ctx := context.Background()

	stale := clock.Now().Add(-time.Hour)
	job := testJob(notify.PriorityNormal)
	job.Status = models.JobStatusActive
	job.ClaimedAt = &stale
	job.Weight = notify.PriorityNormal.Weight()
	require.NoError(t, db.Create(job).Error)

	fresh := clock.Now().Add(-time.Minute)
	working := testJob(notify.PriorityNormal)
	working.Status = models.JobStatusActive
	working.ClaimedAt = &fresh
	working.Weight = notify.PriorityNormal.Weight()
	require.NoError(t, db.Create(working).Error)

	recovered, err := q.RecoverStalled(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, recovered)

	var recoveredJob models.NotificationJob
	require.NoError(t, db.First(&recoveredJob, "id = ?", job.ID).Error)
	require.Equal(t, models.JobStatusWaiting, recoveredJob.Status)
	require.Nil(t, recoveredJob.ClaimedAt)

	var untouched models.NotificationJob
	require.NoError(t, db.First(&untouched, "id = ?", working.ID).Error)
	require.Equal(t, models.JobStatusActive, untouched.Status)
}

func TestRetryFailedResubmitsDeadJobs(t *testing.T) {
	q, db := newTestQueue(t, Config{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		job := testJob(notify.PriorityNormal)
		job.Status = models.JobStatusDead
		job.Attempts = 3
		job.LastError = "gateway timeout"
		require.NoError(t, db.Create(job).Error)
	}

	retried, err := q.RetryFailed(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, 2, retried)

	var waiting int64
	require.NoError(t, db.Model(&models.NotificationJob{}).
		Where("status = ?", models.JobStatusWaiting).
		Count(&waiting).Error)
	require.EqualValues(t, 2, waiting)

	var reset models.NotificationJob
	require.NoError(t, db.First(&reset, "status = ?", models.JobStatusWaiting).Error)
	require.Zero(t, reset.Attempts)
}

func TestCleanOldPurgesOnlyTerminalJobsPastGrace(t *testing.T) {
	clock := newTestClock()
	q, db := newTestQueue(t, Config{}, WithNow(clock.Now))
	ctx := context.Background()

	old := clock.Now().Add(-8 * 24 * time.Hour)
	recent := clock.Now().Add(-time.Hour)

	oldCompleted := testJob(notify.PriorityNormal)
	oldCompleted.Status = models.JobStatusCompleted
	oldCompleted.FinishedAt = &old
	require.NoError(t, db.Create(oldCompleted).Error)

	oldDead := testJob(notify.PriorityNormal)
	oldDead.Status = models.JobStatusDead
	oldDead.FinishedAt = &old
	require.NoError(t, db.Create(oldDead).Error)

	recentCompleted := testJob(notify.PriorityNormal)
	recentCompleted.Status = models.JobStatusCompleted
	recentCompleted.FinishedAt = &recent
	require.NoError(t, db.Create(recentCompleted).Error)

	pending := testJob(notify.PriorityNormal)
	require.NoError(t, q.Enqueue(ctx, pending))

	deleted, err := q.CleanOld(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 2, deleted)

	var remaining int64
	require.NoError(t, db.Model(&models.NotificationJob{}).Count(&remaining).Error)
	require.EqualValues(t, 2, remaining)
}

func TestStatsCountsByState(t *testing.T) {
	clock := newTestClock()
	q, db := newTestQueue(t, Config{}, WithNow(clock.Now))
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testJob(notify.PriorityNormal)))
	require.NoError(t, q.Enqueue(ctx, testJob(notify.PriorityHigh)))
	require.NoError(t, q.Schedule(ctx, testJob(notify.PriorityLow), clock.Now().Add(time.Hour)))

	dead := testJob(notify.PriorityNormal)
	dead.Status = models.JobStatusDead
	require.NoError(t, db.Create(dead).Error)

	completed := testJob(notify.PriorityNormal)
	completed.Status = models.JobStatusCompleted
	require.NoError(t, db.Create(completed).Error)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.Waiting)
	require.EqualValues(t, 1, stats.Delayed)
	require.EqualValues(t, 1, stats.Failed)
	require.EqualValues(t, 1, stats.Completed)
	require.Zero(t, stats.Active)
}

func TestHealthCheckReportsHealthy(t *testing.T) {
	q, _ := newTestQueue(t, Config{})
	health := q.HealthCheck(context.Background())
	require.True(t, health.Healthy)
	require.Empty(t, health.Error)
}
