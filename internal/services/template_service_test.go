package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/remexa/remexa/internal/cache"
	"github.com/remexa/remexa/internal/database/testutil"
	"github.com/remexa/remexa/internal/models"
	"github.com/remexa/remexa/internal/notify"
	apperrors "github.com/remexa/remexa/pkg/errors"
)

func newTemplateService(t *testing.T, store cache.Store) (*TemplateService, *gorm.DB) {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	svc, err := NewTemplateService(db, store)
	require.NoError(t, err)
	return svc, db
}

func TestResolveReturnsSeededTemplate(t *testing.T) {
	svc, _ := newTemplateService(t, nil)

	tpl, err := svc.Resolve(context.Background(), notify.TypeTransactionConfirmation, notify.ChannelEmail)
	require.NoError(t, err)
	require.Equal(t, "tpl-transaction-confirmation", tpl.ID)
	require.Contains(t, tpl.Channels, "email")
}

func TestResolveSkipsTemplatesWithoutTheChannel(t *testing.T) {
	svc, _ := newTemplateService(t, nil)

	// The welcome template only covers email.
	_, err := svc.Resolve(context.Background(), notify.TypeWelcome, notify.ChannelSMS)
	require.ErrorIs(t, err, apperrors.ErrTemplateNotFound)
}

func TestResolveReturnsTemplateNotFoundForUncataloguedType(t *testing.T) {
	svc, _ := newTemplateService(t, nil)

	_, err := svc.Resolve(context.Background(), notify.TypeMarketingCampaign, notify.ChannelEmail)
	require.ErrorIs(t, err, apperrors.ErrTemplateNotFound)
}

func TestResolveMostRecentlyUpdatedActiveWins(t *testing.T) {
	svc, _ := newTemplateService(t, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateTemplateInput{
		Name:     "Welcome v2",
		Type:     string(notify.TypeWelcome),
		Channels: []string{"email"},
		Subject:  "Welcome aboard",
		Body:     "Hi {{firstName}}, welcome aboard!",
	})
	require.NoError(t, err)

	tpl, err := svc.Resolve(ctx, notify.TypeWelcome, notify.ChannelEmail)
	require.NoError(t, err)
	require.Equal(t, created.ID, tpl.ID)

	// Touching the original seeded template makes it the newest again.
	subject := "Welcome to Remexa"
	_, err = svc.Update(ctx, "tpl-welcome", UpdateTemplateInput{Subject: &subject})
	require.NoError(t, err)

	tpl, err = svc.Resolve(ctx, notify.TypeWelcome, notify.ChannelEmail)
	require.NoError(t, err)
	require.Equal(t, "tpl-welcome", tpl.ID)
}

func TestResolveIgnoresInactiveTemplates(t *testing.T) {
	svc, db := newTemplateService(t, nil)
	ctx := context.Background()

	require.NoError(t, db.Model(&models.NotificationTemplate{}).
		Where("id = ?", "tpl-welcome").
		Update("active", false).Error)

	_, err := svc.Resolve(ctx, notify.TypeWelcome, notify.ChannelEmail)
	require.ErrorIs(t, err, apperrors.ErrTemplateNotFound)
}

func TestResolveCachesAndInvalidatesOnUpdate(t *testing.T) {
	store := cache.NewDatabaseStore(testutil.MustOpenTestDB(t, testutil.WithAutoMigrate()))
	svc, db := newTemplateService(t, store)
	ctx := context.Background()

	tpl, err := svc.Resolve(ctx, notify.TypeWelcome, notify.ChannelEmail)
	require.NoError(t, err)
	require.Equal(t, "tpl-welcome", tpl.ID)

	// A direct database change is invisible while the cache entry lives.
	require.NoError(t, db.Model(&models.NotificationTemplate{}).
		Where("id = ?", "tpl-welcome").
		Update("active", false).Error)

	cached, err := svc.Resolve(ctx, notify.TypeWelcome, notify.ChannelEmail)
	require.NoError(t, err)
	require.Equal(t, "tpl-welcome", cached.ID)

	// Mutating through the service invalidates the cached resolution.
	inactive := false
	_, err = svc.Update(ctx, "tpl-welcome", UpdateTemplateInput{Active: &inactive})
	require.NoError(t, err)

	_, err = svc.Resolve(ctx, notify.TypeWelcome, notify.ChannelEmail)
	require.ErrorIs(t, err, apperrors.ErrTemplateNotFound)
}

func TestCreateValidatesChannelsAndBody(t *testing.T) {
	svc, _ := newTemplateService(t, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateTemplateInput{
		Name:     "Broken",
		Type:     string(notify.TypeWelcome),
		Channels: []string{"fax"},
		Subject:  "x",
		Body:     "y",
	})
	require.Error(t, err)

	_, err = svc.Create(ctx, CreateTemplateInput{
		Name:     "Unbalanced",
		Type:     string(notify.TypeWelcome),
		Channels: []string{"email"},
		Subject:  "x",
		Body:     "{{#if promo}}never closed",
	})
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, apperrors.ErrBadRequest.Code, appErr.Code)
}

func TestUpdateUnknownTemplateReturnsNotFound(t *testing.T) {
	svc, _ := newTemplateService(t, nil)

	name := "anything"
	_, err := svc.Update(context.Background(), "missing-id", UpdateTemplateInput{Name: &name})
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestListFiltersByTypeAndChannel(t *testing.T) {
	svc, _ := newTemplateService(t, nil)
	ctx := context.Background()

	all, err := svc.List(ctx, ListTemplatesInput{})
	require.NoError(t, err)
	require.NotEmpty(t, all)

	securityOnly, err := svc.List(ctx, ListTemplatesInput{Type: string(notify.TypeSecurityAlert)})
	require.NoError(t, err)
	require.Len(t, securityOnly, 1)
	require.Equal(t, "tpl-security-alert", securityOnly[0].ID)

	smsOnly, err := svc.List(ctx, ListTemplatesInput{Channel: "sms"})
	require.NoError(t, err)
	for _, tpl := range smsOnly {
		require.Contains(t, tpl.Channels, "sms")
	}
}

func TestDeleteRemovesTemplate(t *testing.T) {
	svc, _ := newTemplateService(t, nil)
	ctx := context.Background()

	require.NoError(t, svc.Delete(ctx, "tpl-welcome"))
	_, err := svc.Get(ctx, "tpl-welcome")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}
