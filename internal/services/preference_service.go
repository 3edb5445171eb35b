package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/remexa/remexa/internal/models"
	"github.com/remexa/remexa/internal/notify"
	apperrors "github.com/remexa/remexa/pkg/errors"
)

// ChannelPreference captures one channel's master switch and per-category opt-ins.
type ChannelPreference struct {
	Enabled    bool                     `json:"enabled"`
	Categories map[notify.Category]bool `json:"categories"`
}

// Preferences is the typed view over a user's stored preference document.
type Preferences struct {
	Email ChannelPreference `json:"email"`
	SMS   ChannelPreference `json:"sms"`
	Push  ChannelPreference `json:"push"`
}

// channelCategories lists the preference categories each channel understands.
var channelCategories = map[notify.Channel][]notify.Category{
	notify.ChannelEmail: {
		notify.CategoryTransactionUpdates,
		notify.CategorySecurityAlerts,
		notify.CategoryMarketingEmails,
		notify.CategorySystemNotifications,
	},
	notify.ChannelSMS: {
		notify.CategoryTransactionUpdates,
		notify.CategorySecurityAlerts,
		notify.CategoryCriticalAlerts,
	},
	notify.ChannelPush: {
		notify.CategoryTransactionUpdates,
		notify.CategorySecurityAlerts,
		notify.CategoryMarketingUpdates,
		notify.CategorySystemNotifications,
	},
}

func marketingCategory(category notify.Category) bool {
	return category == notify.CategoryMarketingEmails || category == notify.CategoryMarketingUpdates
}

// DefaultPreferences returns the opt-in set applied to users without a stored
// document: every channel on, every category on except marketing.
func DefaultPreferences() Preferences {
	var prefs Preferences
	for _, ch := range notify.Channels {
		cp := ChannelPreference{
			Enabled:    true,
			Categories: make(map[notify.Category]bool, len(channelCategories[ch])),
		}
		for _, category := range channelCategories[ch] {
			cp.Categories[category] = !marketingCategory(category)
		}
		prefs.setChannel(ch, cp)
	}
	return prefs
}

// Channel returns the preference block for the supplied channel.
func (p *Preferences) Channel(ch notify.Channel) ChannelPreference {
	switch ch {
	case notify.ChannelEmail:
		return p.Email
	case notify.ChannelSMS:
		return p.SMS
	default:
		return p.Push
	}
}

func (p *Preferences) setChannel(ch notify.Channel, cp ChannelPreference) {
	switch ch {
	case notify.ChannelEmail:
		p.Email = cp
	case notify.ChannelSMS:
		p.SMS = cp
	default:
		p.Push = cp
	}
}

// Normalise fills any missing category keys from the defaults so older stored
// documents keep working when new categories ship.
func (p *Preferences) Normalise() {
	defaults := DefaultPreferences()
	for _, ch := range notify.Channels {
		cp := p.Channel(ch)
		if cp.Categories == nil {
			cp.Categories = make(map[notify.Category]bool)
		}
		for category, value := range defaults.Channel(ch).Categories {
			if _, present := cp.Categories[category]; !present {
				cp.Categories[category] = value
			}
		}
		p.setChannel(ch, cp)
	}
}

// Allows reports whether the preferences permit dispatching a notification of
// the given type on the given channel.
func (p *Preferences) Allows(t notify.Type, ch notify.Channel) bool {
	cp := p.Channel(ch)
	if !cp.Enabled {
		return false
	}

	category, mapped := notify.CategoryFor(t, ch)
	if !mapped {
		return notify.DefaultAllowed(ch)
	}
	if value, present := cp.Categories[category]; present {
		return value
	}
	return !marketingCategory(category)
}

func (p *Preferences) marshal() (datatypes.JSONMap, error) {
	encoded, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal preferences: %w", err)
	}
	var settings datatypes.JSONMap
	if err := json.Unmarshal(encoded, &settings); err != nil {
		return nil, fmt.Errorf("convert preferences: %w", err)
	}
	return settings, nil
}

func preferencesFromSettings(settings datatypes.JSONMap) (*Preferences, error) {
	prefs := DefaultPreferences()
	if len(settings) > 0 {
		encoded, err := json.Marshal(settings)
		if err != nil {
			return nil, fmt.Errorf("marshal settings: %w", err)
		}
		if err := json.Unmarshal(encoded, &prefs); err != nil {
			return nil, fmt.Errorf("decode settings: %w", err)
		}
	}
	prefs.Normalise()
	return &prefs, nil
}

// ChannelPreferenceUpdate describes a partial change to one channel block.
// Nil fields leave the stored value untouched.
type ChannelPreferenceUpdate struct {
	Enabled    *bool                    `json:"enabled,omitempty"`
	Categories map[notify.Category]bool `json:"categories,omitempty"`
}

// UpdatePreferencesInput is a partial preference update across channels.
type UpdatePreferencesInput struct {
	Email *ChannelPreferenceUpdate `json:"email,omitempty"`
	SMS   *ChannelPreferenceUpdate `json:"sms,omitempty"`
	Push  *ChannelPreferenceUpdate `json:"push,omitempty"`
}

// PreferenceService resolves and mutates per-user delivery preferences.
type PreferenceService struct {
	db *gorm.DB
}

// NewPreferenceService constructs a PreferenceService.
func NewPreferenceService(db *gorm.DB) (*PreferenceService, error) {
	if db == nil {
		return nil, errors.New("preference service: db is required")
	}
	return &PreferenceService{db: db}, nil
}

// Get returns the user's preferences, lazily materialising the default
// document on first access.
func (s *PreferenceService) Get(ctx context.Context, userID string) (*Preferences, error) {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("preference service: user id is required")
	}

	row, _, err := s.loadOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	return preferencesFromSettings(row.Settings)
}

// loadOrCreate returns the user's preference row, materialising the default
// document on first access. created reports whether this call made the row.
func (s *PreferenceService) loadOrCreate(ctx context.Context, userID string) (*models.NotificationPreference, bool, error) {
	var row models.NotificationPreference
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if err == nil {
		return &row, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("preference service: load preferences: %w", err)
	}

	defaults := DefaultPreferences()
	settings, err := defaults.marshal()
	if err != nil {
		return nil, false, fmt.Errorf("preference service: %w", err)
	}

	row = models.NotificationPreference{UserID: userID, Settings: settings}
	if createErr := s.db.WithContext(ctx).Create(&row).Error; createErr != nil {
		if isUniqueConstraintError(createErr) {
			// Lost the race against a concurrent first access; the stored row wins.
			if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error; err != nil {
				return nil, false, fmt.Errorf("preference service: reload preferences: %w", err)
			}
			return &row, false, nil
		}
		return nil, false, fmt.Errorf("preference service: create preferences: %w", createErr)
	}
	return &row, true, nil
}

// Update applies a partial preference change and returns the merged document.
func (s *PreferenceService) Update(ctx context.Context, userID string, input UpdatePreferencesInput) (*Preferences, error) {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("preference service: user id is required")
	}

	updates := map[notify.Channel]*ChannelPreferenceUpdate{
		notify.ChannelEmail: input.Email,
		notify.ChannelSMS:   input.SMS,
		notify.ChannelPush:  input.Push,
	}
	for ch, update := range updates {
		if update == nil {
			continue
		}
		for category := range update.Categories {
			if !validCategory(ch, category) {
				return nil, apperrors.NewBadRequest(
					fmt.Sprintf("unknown category %q for channel %q", category, ch))
			}
		}
	}

	row, _, err := s.loadOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	prefs, err := preferencesFromSettings(row.Settings)
	if err != nil {
		return nil, fmt.Errorf("preference service: %w", err)
	}

	for _, ch := range notify.Channels {
		update := updates[ch]
		if update == nil {
			continue
		}
		cp := prefs.Channel(ch)
		if update.Enabled != nil {
			cp.Enabled = *update.Enabled
		}
		for category, value := range update.Categories {
			cp.Categories[category] = value
		}
		prefs.setChannel(ch, cp)
	}

	settings, err := prefs.marshal()
	if err != nil {
		return nil, fmt.Errorf("preference service: %w", err)
	}
	err = s.db.WithContext(ctx).
		Model(&models.NotificationPreference{}).
		Where("id = ?", row.ID).
		Update("settings", settings).Error
	if err != nil {
		return nil, fmt.Errorf("preference service: save preferences: %w", err)
	}
	return prefs, nil
}

// ResolveChannels filters the requested channel set through the user's
// preferences, returning the deliverable channels and the ones dropped.
// A user with no stored document gets the requested set back unchanged
// (fail-open); the default document is created as a side effect so the
// next call filters normally.
func (s *PreferenceService) ResolveChannels(ctx context.Context, userID string, t notify.Type, requested []notify.Channel) (allowed, dropped []notify.Channel, err error) {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, nil, errors.New("preference service: user id is required")
	}

	row, created, err := s.loadOrCreate(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if created {
		return append([]notify.Channel(nil), requested...), nil, nil
	}

	prefs, err := preferencesFromSettings(row.Settings)
	if err != nil {
		return nil, nil, fmt.Errorf("preference service: %w", err)
	}

	for _, ch := range requested {
		if prefs.Allows(t, ch) {
			allowed = append(allowed, ch)
		} else {
			dropped = append(dropped, ch)
		}
	}
	return allowed, dropped, nil
}

func validCategory(ch notify.Channel, category notify.Category) bool {
	for _, known := range channelCategories[ch] {
		if known == category {
			return true
		}
	}
	return false
}
