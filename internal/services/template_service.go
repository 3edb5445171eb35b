package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/remexa/remexa/internal/cache"
	"github.com/remexa/remexa/internal/models"
	"github.com/remexa/remexa/internal/notify"
	"github.com/remexa/remexa/internal/notify/render"
	apperrors "github.com/remexa/remexa/pkg/errors"
	"github.com/remexa/remexa/pkg/logger"
)

const templateCacheTTL = 5 * time.Minute

// TemplateDTO represents the API-friendly template payload.
type TemplateDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Channels  []string  `json:"channels"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Variables []string  `json:"variables,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateTemplateInput defines attributes required to register a template.
type CreateTemplateInput struct {
	Name      string
	Type      string
	Channels  []string
	Subject   string
	Body      string
	Variables []string
	Active    *bool
}

// UpdateTemplateInput is a partial template change; nil fields are untouched.
type UpdateTemplateInput struct {
	Name      *string
	Channels  []string
	Subject   *string
	Body      *string
	Variables []string
	Active    *bool
}

// ListTemplatesInput filters the template catalog.
type ListTemplatesInput struct {
	Type       string
	Channel    string
	ActiveOnly bool
	Limit      int
	Offset     int
}

// TemplateService manages the template catalog and resolves the template used
// for a given type and channel, with a read-through cache in front of the
// database.
type TemplateService struct {
	db    *gorm.DB
	cache cache.Store
	log   *zap.Logger
}

// NewTemplateService constructs a TemplateService. The cache store is optional.
func NewTemplateService(db *gorm.DB, store cache.Store) (*TemplateService, error) {
	if db == nil {
		return nil, errors.New("template service: db is required")
	}
	return &TemplateService{
		db:    db,
		cache: store,
		log:   logger.WithModule("templates"),
	}, nil
}

// Resolve returns the template used for the supplied type and channel: the most
// recently updated active template whose channel set contains the channel.
func (s *TemplateService) Resolve(ctx context.Context, t notify.Type, ch notify.Channel) (*TemplateDTO, error) {
	ctx = ensureContext(ctx)

	key := templateCacheKey(t, ch)
	if s.cache != nil {
		if cached, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var dto TemplateDTO
			if err := json.Unmarshal(cached, &dto); err == nil {
				return &dto, nil
			}
		}
	}

	var rows []models.NotificationTemplate
	err := s.db.WithContext(ctx).
		Where("type = ? AND active = ?", string(t), true).
		Order("updated_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("template service: resolve template: %w", err)
	}

	for _, row := range rows {
		if !templateCoversChannel(row, ch) {
			continue
		}
		dto := mapTemplate(row)
		if s.cache != nil {
			if encoded, err := json.Marshal(dto); err == nil {
				if err := s.cache.Set(ctx, key, encoded, templateCacheTTL); err != nil {
					s.log.Debug("template cache write failed", zap.Error(err))
				}
			}
		}
		return &dto, nil
	}
	return nil, apperrors.ErrTemplateNotFound
}

// Create registers a new template after validating its channels render cleanly.
func (s *TemplateService) Create(ctx context.Context, input CreateTemplateInput) (*TemplateDTO, error) {
	ctx = ensureContext(ctx)

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.NewBadRequest("template name is required")
	}
	t, err := notify.ParseType(input.Type)
	if err != nil {
		return nil, apperrors.NewBadRequest(err.Error())
	}
	channels, err := notify.ParseChannels(input.Channels)
	if err != nil {
		return nil, apperrors.NewBadRequest(err.Error())
	}
	if len(channels) == 0 {
		return nil, apperrors.NewBadRequest("at least one channel is required")
	}
	body := strings.TrimSpace(input.Body)
	if body == "" {
		return nil, apperrors.NewBadRequest("template body is required")
	}
	if _, err := render.Render(input.Subject, body, nil); err != nil {
		return nil, apperrors.NewBadRequest("template does not render: " + err.Error())
	}

	active := true
	if input.Active != nil {
		active = *input.Active
	}

	row := models.NotificationTemplate{
		Name:      name,
		Type:      string(t),
		Channels:  encodeStrings(channelStrings(channels)),
		Subject:   strings.TrimSpace(input.Subject),
		Body:      body,
		Variables: encodeStrings(normaliseIDs(input.Variables)),
		Active:    active,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("template service: create template: %w", err)
	}

	s.invalidate(ctx, row)
	dto := mapTemplate(row)
	return &dto, nil
}

// Update applies a partial change to an existing template.
func (s *TemplateService) Update(ctx context.Context, id string, input UpdateTemplateInput) (*TemplateDTO, error) {
	ctx = ensureContext(ctx)

	row, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	previous := *row

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, apperrors.NewBadRequest("template name is required")
		}
		row.Name = name
	}
	if input.Channels != nil {
		channels, err := notify.ParseChannels(input.Channels)
		if err != nil {
			return nil, apperrors.NewBadRequest(err.Error())
		}
		if len(channels) == 0 {
			return nil, apperrors.NewBadRequest("at least one channel is required")
		}
		row.Channels = encodeStrings(channelStrings(channels))
	}
	if input.Subject != nil {
		row.Subject = strings.TrimSpace(*input.Subject)
	}
	if input.Body != nil {
		body := strings.TrimSpace(*input.Body)
		if body == "" {
			return nil, apperrors.NewBadRequest("template body is required")
		}
		row.Body = body
	}
	if input.Variables != nil {
		row.Variables = encodeStrings(normaliseIDs(input.Variables))
	}
	if input.Active != nil {
		row.Active = *input.Active
	}
	if _, err := render.Render(row.Subject, row.Body, nil); err != nil {
		return nil, apperrors.NewBadRequest("template does not render: " + err.Error())
	}

	if err := s.db.WithContext(ctx).Save(row).Error; err != nil {
		return nil, fmt.Errorf("template service: update template: %w", err)
	}

	s.invalidate(ctx, previous)
	s.invalidate(ctx, *row)
	dto := mapTemplate(*row)
	return &dto, nil
}

// Delete removes a template from the catalog.
func (s *TemplateService) Delete(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)

	row, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(&models.NotificationTemplate{}, "id = ?", row.ID).Error; err != nil {
		return fmt.Errorf("template service: delete template: %w", err)
	}
	s.invalidate(ctx, *row)
	return nil
}

// Get returns a template by identifier.
func (s *TemplateService) Get(ctx context.Context, id string) (*TemplateDTO, error) {
	row, err := s.load(ensureContext(ctx), id)
	if err != nil {
		return nil, err
	}
	dto := mapTemplate(*row)
	return &dto, nil
}

// List returns templates matching the supplied filters ordered by recency.
func (s *TemplateService) List(ctx context.Context, input ListTemplatesInput) ([]TemplateDTO, error) {
	ctx = ensureContext(ctx)

	limit := input.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := s.db.WithContext(ctx).Model(&models.NotificationTemplate{})
	if t := strings.TrimSpace(input.Type); t != "" {
		query = query.Where("type = ?", t)
	}
	if input.ActiveOnly {
		query = query.Where("active = ?", true)
	}

	var rows []models.NotificationTemplate
	err := query.Order("updated_at DESC").
		Limit(limit).
		Offset(max(0, input.Offset)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("template service: list templates: %w", err)
	}

	var channelFilter notify.Channel
	if raw := strings.TrimSpace(input.Channel); raw != "" {
		ch, err := notify.ParseChannel(raw)
		if err != nil {
			return nil, apperrors.NewBadRequest(err.Error())
		}
		channelFilter = ch
	}

	out := make([]TemplateDTO, 0, len(rows))
	for _, row := range rows {
		if channelFilter != "" && !templateCoversChannel(row, channelFilter) {
			continue
		}
		out = append(out, mapTemplate(row))
	}
	return out, nil
}

func (s *TemplateService) load(ctx context.Context, id string) (*models.NotificationTemplate, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.NewBadRequest("template id is required")
	}

	var row models.NotificationTemplate
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("template service: load template: %w", err)
	}
	return &row, nil
}

func (s *TemplateService) invalidate(ctx context.Context, row models.NotificationTemplate) {
	if s.cache == nil {
		return
	}
	keys := make([]string, 0, len(notify.Channels))
	for _, ch := range decodeStrings(row.Channels) {
		keys = append(keys, templateCacheKey(notify.Type(row.Type), notify.Channel(ch)))
	}
	if len(keys) == 0 {
		return
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.log.Debug("template cache invalidation failed", zap.Error(err))
	}
}

func templateCacheKey(t notify.Type, ch notify.Channel) string {
	return fmt.Sprintf("template:%s:%s", t, ch)
}

func templateCoversChannel(row models.NotificationTemplate, ch notify.Channel) bool {
	for _, value := range decodeStrings(row.Channels) {
		if value == string(ch) {
			return true
		}
	}
	return false
}

func mapTemplate(row models.NotificationTemplate) TemplateDTO {
	return TemplateDTO{
		ID:        row.ID,
		Name:      row.Name,
		Type:      row.Type,
		Channels:  decodeStrings(row.Channels),
		Subject:   row.Subject,
		Body:      row.Body,
		Variables: decodeStrings(row.Variables),
		Active:    row.Active,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}

func channelStrings(channels []notify.Channel) []string {
	out := make([]string, 0, len(channels))
	for _, ch := range channels {
		out = append(out, string(ch))
	}
	return out
}

func encodeStrings(values []string) datatypes.JSON {
	if values == nil {
		values = []string{}
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(encoded)
}

func decodeStrings(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	return values
}
