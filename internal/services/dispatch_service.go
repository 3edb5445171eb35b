package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/remexa/remexa/internal/models"
	"github.com/remexa/remexa/internal/notify"
	"github.com/remexa/remexa/internal/notify/render"
	"github.com/remexa/remexa/internal/notify/senders"
	"github.com/remexa/remexa/internal/queue"
	apperrors "github.com/remexa/remexa/pkg/errors"
	"github.com/remexa/remexa/pkg/logger"
	"github.com/remexa/remexa/pkg/metrics"
)

// SendInput describes one notification request. Channels and Priority are
// optional; omitted channels fall back to the per-type defaults.
type SendInput struct {
	UserID      string         `json:"user_id"`
	Type        string         `json:"type"`
	Channels    []string       `json:"channels,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Priority    string         `json:"priority,omitempty"`
	ScheduledAt *time.Time     `json:"scheduled_at,omitempty"`
}

// QueuedJob identifies one admitted dispatch job.
type QueuedJob struct {
	JobID   string `json:"job_id"`
	Channel string `json:"channel"`
}

// SkippedChannel records a channel that could not be dispatched, with why.
type SkippedChannel struct {
	Channel string `json:"channel"`
	Reason  string `json:"reason"`
}

// SendReceipt summarises the outcome of a send request. A request where every
// channel is filtered by preferences is still a success.
type SendReceipt struct {
	UserID  string           `json:"user_id"`
	Type    string           `json:"type"`
	Queued  []QueuedJob      `json:"queued"`
	Dropped []string         `json:"dropped,omitempty"`
	Skipped []SkippedChannel `json:"skipped,omitempty"`
	Message string           `json:"message,omitempty"`
}

// BulkSendInput fans one notification out to many users.
type BulkSendInput struct {
	UserIDs  []string       `json:"user_ids"`
	Type     string         `json:"type"`
	Channels []string       `json:"channels,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Priority string         `json:"priority,omitempty"`
}

// BulkSendReceipt aggregates per-user outcomes of a bulk send.
type BulkSendReceipt struct {
	Requested int           `json:"requested"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Receipts  []SendReceipt `json:"receipts"`
}

// DispatchService coordinates the full send pipeline: preference filtering,
// recipient resolution, job admission, and the per-job delivery processing the
// queue workers invoke.
type DispatchService struct {
	db        *gorm.DB
	prefs     *PreferenceService
	templates *TemplateService
	history   *HistoryService
	queue     *queue.Queue
	senders   *senders.Registry
	log       *zap.Logger
	now       func() time.Time
}

// NewDispatchService constructs a DispatchService.
func NewDispatchService(
	db *gorm.DB,
	prefs *PreferenceService,
	templates *TemplateService,
	history *HistoryService,
	q *queue.Queue,
	registry *senders.Registry,
) (*DispatchService, error) {
	if db == nil {
		return nil, errors.New("dispatch service: db is required")
	}
	if prefs == nil || templates == nil || history == nil {
		return nil, errors.New("dispatch service: preference, template and history services are required")
	}
	if q == nil {
		return nil, errors.New("dispatch service: queue is required")
	}
	if registry == nil {
		return nil, errors.New("dispatch service: sender registry is required")
	}
	return &DispatchService{
		db:        db,
		prefs:     prefs,
		templates: templates,
		history:   history,
		queue:     q,
		senders:   registry,
		log:       logger.WithModule("dispatch"),
		now:       time.Now,
	}, nil
}

// Send resolves preferences and recipients for one notification and admits a
// dispatch job per deliverable channel.
func (s *DispatchService) Send(ctx context.Context, input SendInput) (*SendReceipt, error) {
	ctx = ensureContext(ctx)

	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}
	t, err := notify.ParseType(input.Type)
	if err != nil {
		return nil, apperrors.NewBadRequest(err.Error())
	}
	priority, err := notify.ParsePriority(input.Priority)
	if err != nil {
		return nil, apperrors.NewBadRequest(err.Error())
	}

	requested := notify.DefaultChannels(t)
	if len(input.Channels) > 0 {
		requested, err = notify.ParseChannels(input.Channels)
		if err != nil {
			return nil, apperrors.NewBadRequest(err.Error())
		}
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("dispatch service: load user: %w", err)
	}

	allowed, dropped, err := s.prefs.ResolveChannels(ctx, userID, t, requested)
	if err != nil {
		return nil, fmt.Errorf("dispatch service: resolve preferences: %w", err)
	}

	receipt := &SendReceipt{
		UserID:  userID,
		Type:    string(t),
		Dropped: channelStrings(dropped),
	}
	if len(allowed) == 0 {
		receipt.Message = "no channels enabled by user preferences"
		return receipt, nil
	}

	for _, ch := range allowed {
		recipient := recipientFor(user, ch)
		if recipient == "" {
			receipt.Skipped = append(receipt.Skipped, SkippedChannel{
				Channel: string(ch),
				Reason:  apperrors.ErrRecipientMissing.Message,
			})
			// A missing recipient is a permanent failure: no job is admitted,
			// but the outcome is still visible in the delivery log.
			s.recordFailure(ctx, &models.NotificationJob{
				UserID:  userID,
				Type:    string(t),
				Channel: string(ch),
				Data:    datatypes.JSONMap(input.Data),
			}, "", render.Message{}, apperrors.ErrRecipientMissing.Message)
			continue
		}

		job := &models.NotificationJob{
			UserID:    userID,
			Type:      string(t),
			Channel:   string(ch),
			Recipient: recipient,
			Data:      datatypes.JSONMap(input.Data),
			Priority:  string(priority),
		}

		var admitErr error
		if input.ScheduledAt != nil {
			admitErr = s.queue.Schedule(ctx, job, *input.ScheduledAt)
		} else {
			admitErr = s.queue.Enqueue(ctx, job)
		}
		if admitErr != nil {
			// Queue admission failure degrades to a synchronous send so the
			// notification is not silently lost.
			s.log.Warn("queue admission failed, delivering synchronously",
				zap.String("user_id", userID),
				zap.String("channel", string(ch)),
				zap.Error(admitErr),
			)
			if procErr := s.ProcessJob(ctx, job); procErr != nil {
				receipt.Skipped = append(receipt.Skipped, SkippedChannel{
					Channel: string(ch),
					Reason:  procErr.Error(),
				})
				continue
			}
			receipt.Queued = append(receipt.Queued, QueuedJob{Channel: string(ch)})
			continue
		}
		receipt.Queued = append(receipt.Queued, QueuedJob{JobID: job.ID, Channel: string(ch)})
	}
	return receipt, nil
}

// SendBulk fans one notification out to many users, continuing past individual
// failures.
func (s *DispatchService) SendBulk(ctx context.Context, input BulkSendInput) (*BulkSendReceipt, error) {
	ctx = ensureContext(ctx)

	userIDs := normaliseIDs(input.UserIDs)
	if len(userIDs) == 0 {
		return nil, apperrors.NewBadRequest("at least one user id is required")
	}

	result := &BulkSendReceipt{Requested: len(userIDs)}
	for _, userID := range userIDs {
		receipt, err := s.Send(ctx, SendInput{
			UserID:   userID,
			Type:     input.Type,
			Channels: input.Channels,
			Data:     input.Data,
			Priority: input.Priority,
		})
		if err != nil {
			result.Failed++
			result.Receipts = append(result.Receipts, SendReceipt{
				UserID:  userID,
				Type:    input.Type,
				Message: apperrors.FromError(err).Message,
			})
			continue
		}
		result.Succeeded++
		result.Receipts = append(result.Receipts, *receipt)
	}
	return result, nil
}

// ProcessJob executes one claimed dispatch job end to end: template resolution,
// rendering, delivery, and history bookkeeping. It is registered as the queue
// processor. Permanent failures are wrapped so the queue dead-letters them
// without consuming retry attempts.
func (s *DispatchService) ProcessJob(ctx context.Context, job *models.NotificationJob) error {
	ctx = ensureContext(ctx)

	t := notify.Type(job.Type)
	ch := notify.Channel(job.Channel)
	data := map[string]any(job.Data)

	tpl, err := s.templates.Resolve(ctx, t, ch)
	if err != nil {
		if errors.Is(err, apperrors.ErrTemplateNotFound) {
			s.recordFailure(ctx, job, "", render.Message{}, err.Error())
			return queue.Permanent(fmt.Errorf("dispatch service: resolve template: %w", err))
		}
		return fmt.Errorf("dispatch service: resolve template: %w", err)
	}

	rendered, err := render.Render(tpl.Subject, tpl.Body, data)
	if err != nil {
		s.recordFailure(ctx, job, tpl.ID, render.Message{}, err.Error())
		return queue.Permanent(fmt.Errorf("dispatch service: render template: %w", err))
	}

	record, err := s.history.Open(ctx, OpenHistoryInput{
		JobID:      job.ID,
		UserID:     job.UserID,
		TemplateID: tpl.ID,
		Type:       job.Type,
		Channel:    job.Channel,
		Recipient:  job.Recipient,
		Subject:    rendered.Subject,
		Content:    rendered.Content,
		Metadata:   data,
	})
	if err != nil {
		return fmt.Errorf("dispatch service: open history: %w", err)
	}

	sender, err := s.senders.For(ch)
	if err != nil {
		s.failHistory(ctx, record.ID, err.Error())
		return queue.Permanent(fmt.Errorf("dispatch service: %w", err))
	}

	start := s.now()
	deliverErr := sender.Deliver(ctx, senders.Message{
		Recipient: job.Recipient,
		Subject:   rendered.Subject,
		Body:      rendered.Content,
		Metadata:  data,
	})
	metrics.DeliveryLatency.WithLabelValues(job.Channel).Observe(s.now().Sub(start).Seconds())

	if deliverErr != nil {
		attemptsAfter := job.Attempts + 1
		if attemptsAfter >= job.MaxAttempts {
			s.failHistory(ctx, record.ID, deliverErr.Error())
		} else if err := s.history.MarkRetrying(ctx, record.ID, deliverErr.Error(), attemptsAfter); err != nil {
			s.log.Error("mark history retrying failed", zap.String("record_id", record.ID), zap.Error(err))
		}
		return fmt.Errorf("dispatch service: deliver %s: %w", job.Channel, deliverErr)
	}

	if err := s.history.MarkDelivered(ctx, record.ID); err != nil {
		s.log.Error("mark history delivered failed", zap.String("record_id", record.ID), zap.Error(err))
	}
	return nil
}

// SendTransactionConfirmation dispatches a transaction confirmation with the
// standard priority for money-movement updates.
func (s *DispatchService) SendTransactionConfirmation(ctx context.Context, userID string, data map[string]any) (*SendReceipt, error) {
	return s.Send(ctx, SendInput{
		UserID:   userID,
		Type:     string(notify.TypeTransactionConfirmation),
		Data:     data,
		Priority: string(notify.PriorityHigh),
	})
}

// SendSecurityAlert dispatches a security alert at critical priority.
func (s *DispatchService) SendSecurityAlert(ctx context.Context, userID string, data map[string]any) (*SendReceipt, error) {
	return s.Send(ctx, SendInput{
		UserID:   userID,
		Type:     string(notify.TypeSecurityAlert),
		Data:     data,
		Priority: string(notify.PriorityCritical),
	})
}

// SendWelcomeMessage dispatches the onboarding welcome notification.
func (s *DispatchService) SendWelcomeMessage(ctx context.Context, userID string, data map[string]any) (*SendReceipt, error) {
	return s.Send(ctx, SendInput{
		UserID: userID,
		Type:   string(notify.TypeWelcome),
		Data:   data,
	})
}

// SendPasswordReset dispatches a password reset notification at high priority.
func (s *DispatchService) SendPasswordReset(ctx context.Context, userID string, data map[string]any) (*SendReceipt, error) {
	return s.Send(ctx, SendInput{
		UserID:   userID,
		Type:     string(notify.TypePasswordReset),
		Data:     data,
		Priority: string(notify.PriorityHigh),
	})
}

func (s *DispatchService) recordFailure(ctx context.Context, job *models.NotificationJob, templateID string, rendered render.Message, errMsg string) {
	record, err := s.history.Open(ctx, OpenHistoryInput{
		JobID:      job.ID,
		UserID:     job.UserID,
		TemplateID: templateID,
		Type:       job.Type,
		Channel:    job.Channel,
		Recipient:  job.Recipient,
		Subject:    rendered.Subject,
		Content:    rendered.Content,
		Metadata:   map[string]any(job.Data),
	})
	if err != nil {
		s.log.Error("open failure history failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	s.failHistory(ctx, record.ID, errMsg)
}

func (s *DispatchService) failHistory(ctx context.Context, recordID, errMsg string) {
	if err := s.history.MarkFailed(ctx, recordID, errMsg); err != nil {
		s.log.Error("mark history failed errored", zap.String("record_id", recordID), zap.Error(err))
	}
}

func recipientFor(user models.User, ch notify.Channel) string {
	switch ch {
	case notify.ChannelEmail:
		return strings.TrimSpace(user.Email)
	case notify.ChannelSMS:
		return strings.TrimSpace(user.PhoneNumber)
	case notify.ChannelPush:
		return strings.TrimSpace(user.PushToken)
	default:
		return ""
	}
}
