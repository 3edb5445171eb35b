package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/remexa/remexa/internal/models"
	apperrors "github.com/remexa/remexa/pkg/errors"
)

// HistoryDTO represents the API-friendly delivery record.
type HistoryDTO struct {
	ID          string         `json:"id"`
	JobID       string         `json:"job_id,omitempty"`
	UserID      string         `json:"user_id"`
	TemplateID  string         `json:"template_id,omitempty"`
	Type        string         `json:"type"`
	Channel     string         `json:"channel"`
	Recipient   string         `json:"recipient"`
	Subject     string         `json:"subject,omitempty"`
	Content     string         `json:"content"`
	Status      string         `json:"status"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
	FailedAt    *time.Time     `json:"failed_at,omitempty"`
	Error       string         `json:"error,omitempty"`
	RetryCount  int            `json:"retry_count"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// OpenHistoryInput snapshots a delivery attempt before the send is made.
type OpenHistoryInput struct {
	JobID      string
	UserID     string
	TemplateID string
	Type       string
	Channel    string
	Recipient  string
	Subject    string
	Content    string
	Metadata   map[string]any
}

// ListHistoryInput filters the delivery log.
type ListHistoryInput struct {
	UserID  string
	Type    string
	Channel string
	Status  string
	Limit   int
	Offset  int
}

// ChannelStats aggregates delivery outcomes for one grouping key.
type ChannelStats struct {
	Total        int64   `json:"total"`
	Delivered    int64   `json:"delivered"`
	Failed       int64   `json:"failed"`
	DeliveryRate float64 `json:"delivery_rate"`
}

// DayStats aggregates delivery outcomes for one calendar day.
type DayStats struct {
	Date      string `json:"date"`
	Total     int64  `json:"total"`
	Delivered int64  `json:"delivered"`
	Failed    int64  `json:"failed"`
}

// AnalyticsReport summarises delivery outcomes over a time window.
type AnalyticsReport struct {
	From              time.Time               `json:"from"`
	To                time.Time               `json:"to"`
	Total             int64                   `json:"total"`
	Delivered         int64                   `json:"delivered"`
	Failed            int64                   `json:"failed"`
	DeliveryRate      float64                 `json:"delivery_rate"`
	AvgLatencySeconds float64                 `json:"avg_latency_seconds"`
	ByChannel         map[string]ChannelStats `json:"by_channel"`
	ByType            map[string]ChannelStats `json:"by_type"`
	ByDay             []DayStats              `json:"by_day"`
}

// AnalyticsInput bounds the reporting window; a zero To means now. UserID
// optionally narrows the report to a single user's deliveries.
type AnalyticsInput struct {
	From   time.Time
	To     time.Time
	UserID string
}

// HistoryService maintains the immutable delivery log. Rows snapshot the
// rendered message at send time and are never rewritten by template edits.
type HistoryService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewHistoryService constructs a HistoryService.
func NewHistoryService(db *gorm.DB) (*HistoryService, error) {
	if db == nil {
		return nil, errors.New("history service: db is required")
	}
	return &HistoryService{db: db, now: time.Now}, nil
}

// Open creates the pending record for a delivery attempt, or returns the
// existing record when the same job is being retried.
func (s *HistoryService) Open(ctx context.Context, input OpenHistoryInput) (*models.NotificationHistory, error) {
	ctx = ensureContext(ctx)

	if jobID := strings.TrimSpace(input.JobID); jobID != "" {
		var existing models.NotificationHistory
		err := s.db.WithContext(ctx).Where("job_id = ?", jobID).First(&existing).Error
		if err == nil {
			return &existing, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("history service: load record: %w", err)
		}
	}

	row := models.NotificationHistory{
		JobID:      strings.TrimSpace(input.JobID),
		UserID:     strings.TrimSpace(input.UserID),
		TemplateID: strings.TrimSpace(input.TemplateID),
		Type:       input.Type,
		Channel:    input.Channel,
		Recipient:  input.Recipient,
		Subject:    input.Subject,
		Content:    input.Content,
		Status:     models.HistoryStatusPending,
	}
	if row.UserID == "" {
		return nil, errors.New("history service: user id is required")
	}
	if input.Metadata != nil {
		encoded, err := json.Marshal(input.Metadata)
		if err != nil {
			return nil, fmt.Errorf("history service: marshal metadata: %w", err)
		}
		row.Metadata = datatypes.JSON(encoded)
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("history service: create record: %w", err)
	}
	return &row, nil
}

// MarkDelivered finalises a record as successfully delivered.
func (s *HistoryService) MarkDelivered(ctx context.Context, id string) error {
	now := s.now().UTC()
	return s.update(ctx, id, map[string]any{
		"status":       models.HistoryStatusDelivered,
		"delivered_at": now,
		"error":        "",
	})
}

// MarkRetrying records a transient failure with another attempt pending.
func (s *HistoryService) MarkRetrying(ctx context.Context, id, errMsg string, retryCount int) error {
	return s.update(ctx, id, map[string]any{
		"status":      models.HistoryStatusRetrying,
		"error":       errMsg,
		"retry_count": retryCount,
	})
}

// MarkFailed finalises a record after the last attempt failed.
func (s *HistoryService) MarkFailed(ctx context.Context, id, errMsg string) error {
	now := s.now().UTC()
	return s.update(ctx, id, map[string]any{
		"status":    models.HistoryStatusFailed,
		"failed_at": now,
		"error":     errMsg,
	})
}

func (s *HistoryService) update(ctx context.Context, id string, fields map[string]any) error {
	ctx = ensureContext(ctx)
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("history service: record id is required")
	}

	result := s.db.WithContext(ctx).
		Model(&models.NotificationHistory{}).
		Where("id = ?", id).
		Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("history service: update record: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// List returns delivery records matching the filters, newest first, along with
// the total match count for pagination.
func (s *HistoryService) List(ctx context.Context, input ListHistoryInput) ([]HistoryDTO, int64, error) {
	ctx = ensureContext(ctx)

	limit := input.Limit
	if limit <= 0 || limit > 100 {
		limit = 25
	}

	query := s.db.WithContext(ctx).Model(&models.NotificationHistory{})
	if userID := strings.TrimSpace(input.UserID); userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	if t := strings.TrimSpace(input.Type); t != "" {
		query = query.Where("type = ?", t)
	}
	if ch := strings.TrimSpace(input.Channel); ch != "" {
		query = query.Where("channel = ?", ch)
	}
	if status := strings.TrimSpace(input.Status); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("history service: count records: %w", err)
	}

	var rows []models.NotificationHistory
	err := query.Order("created_at DESC").
		Limit(limit).
		Offset(max(0, input.Offset)).
		Find(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("history service: list records: %w", err)
	}

	out := make([]HistoryDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, mapHistory(row))
	}
	return out, total, nil
}

// Analytics aggregates delivery outcomes over the supplied window. Empty
// windows yield a zeroed report rather than an error.
func (s *HistoryService) Analytics(ctx context.Context, input AnalyticsInput) (*AnalyticsReport, error) {
	ctx = ensureContext(ctx)

	to := input.To
	if to.IsZero() {
		to = s.now().UTC()
	}
	from := input.From
	if from.IsZero() {
		from = to.Add(-30 * 24 * time.Hour)
	}
	if from.After(to) {
		return nil, apperrors.NewBadRequest("analytics window start is after its end")
	}

	report := &AnalyticsReport{
		From:      from,
		To:        to,
		ByChannel: map[string]ChannelStats{},
		ByType:    map[string]ChannelStats{},
		ByDay:     []DayStats{},
	}

	query := s.db.WithContext(ctx).
		Select("status", "channel", "type", "created_at", "delivered_at").
		Where("created_at >= ? AND created_at <= ?", from, to)
	if userID := strings.TrimSpace(input.UserID); userID != "" {
		query = query.Where("user_id = ?", userID)
	}

	var rows []models.NotificationHistory
	err := query.Order("created_at ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("history service: analytics query: %w", err)
	}

	var latencyTotal time.Duration
	var latencyCount int64
	dayIndex := map[string]int{}

	for _, row := range rows {
		report.Total++
		delivered := row.Status == models.HistoryStatusDelivered
		failed := row.Status == models.HistoryStatusFailed
		if delivered {
			report.Delivered++
			if row.DeliveredAt != nil {
				latencyTotal += row.DeliveredAt.Sub(row.CreatedAt)
				latencyCount++
			}
		}
		if failed {
			report.Failed++
		}

		channelStats := report.ByChannel[row.Channel]
		accumulate(&channelStats, delivered, failed)
		report.ByChannel[row.Channel] = channelStats

		typeStats := report.ByType[row.Type]
		accumulate(&typeStats, delivered, failed)
		report.ByType[row.Type] = typeStats

		day := row.CreatedAt.UTC().Format("2006-01-02")
		idx, ok := dayIndex[day]
		if !ok {
			idx = len(report.ByDay)
			dayIndex[day] = idx
			report.ByDay = append(report.ByDay, DayStats{Date: day})
		}
		report.ByDay[idx].Total++
		if delivered {
			report.ByDay[idx].Delivered++
		}
		if failed {
			report.ByDay[idx].Failed++
		}
	}

	// Rates are percentages: delivered / total x 100.
	if report.Total > 0 {
		report.DeliveryRate = float64(report.Delivered) / float64(report.Total) * 100
	}
	if latencyCount > 0 {
		report.AvgLatencySeconds = latencyTotal.Seconds() / float64(latencyCount)
	}
	for key, stats := range report.ByChannel {
		finishRate(&stats)
		report.ByChannel[key] = stats
	}
	for key, stats := range report.ByType {
		finishRate(&stats)
		report.ByType[key] = stats
	}
	return report, nil
}

func accumulate(stats *ChannelStats, delivered, failed bool) {
	stats.Total++
	if delivered {
		stats.Delivered++
	}
	if failed {
		stats.Failed++
	}
}

func finishRate(stats *ChannelStats) {
	if stats.Total > 0 {
		stats.DeliveryRate = float64(stats.Delivered) / float64(stats.Total) * 100
	}
}

func mapHistory(row models.NotificationHistory) HistoryDTO {
	dto := HistoryDTO{
		ID:          row.ID,
		JobID:       row.JobID,
		UserID:      row.UserID,
		TemplateID:  row.TemplateID,
		Type:        row.Type,
		Channel:     row.Channel,
		Recipient:   row.Recipient,
		Subject:     row.Subject,
		Content:     row.Content,
		Status:      row.Status,
		DeliveredAt: row.DeliveredAt,
		FailedAt:    row.FailedAt,
		Error:       row.Error,
		RetryCount:  row.RetryCount,
		CreatedAt:   row.CreatedAt,
	}
	if len(row.Metadata) > 0 {
		var metadata map[string]any
		if err := json.Unmarshal(row.Metadata, &metadata); err == nil {
			dto.Metadata = metadata
		}
	}
	return dto
}
