package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/remexa/remexa/internal/app"
	"github.com/remexa/remexa/internal/database/testutil"
	"github.com/remexa/remexa/internal/models"
	"github.com/remexa/remexa/internal/notify/senders"
	"github.com/remexa/remexa/internal/queue"
	"github.com/remexa/remexa/internal/services"
)

const adminToken = "test-admin-token"

type routerEnv struct {
	db     *gorm.DB
	engine *gin.Engine
	svcs   Services
}

func newRouterEnv(t *testing.T) *routerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())

	prefs, err := services.NewPreferenceService(db)
	require.NoError(t, err)
	templates, err := services.NewTemplateService(db, nil)
	require.NoError(t, err)
	history, err := services.NewHistoryService(db)
	require.NoError(t, err)
	q, err := queue.New(db, queue.Config{})
	require.NoError(t, err)

	registry := senders.NewRegistry(
		senders.NewEmailSender(nil, time.Second),
		senders.NewSMSSender(senders.GatewayConfig{}),
		senders.NewPushSender(senders.GatewayConfig{}),
	)
	dispatch, err := services.NewDispatchService(db, prefs, templates, history, q, registry)
	require.NoError(t, err)

	cfg := &app.Config{}
	cfg.Server.AdminToken = adminToken
	cfg.Monitoring.Health.Enabled = true
	cfg.Monitoring.Prometheus.Enabled = false

	svcs := Services{
		Dispatch:    dispatch,
		Preferences: prefs,
		Templates:   templates,
		History:     history,
		Queue:       q,
	}
	engine, err := NewRouter(db, cfg, svcs)
	require.NoError(t, err)

	return &routerEnv{db: db, engine: engine, svcs: svcs}
}

func (e *routerEnv) createUser(t *testing.T) *models.User {
	t.Helper()
	user := &models.User{
		Email:       "amara@example.com",
		PhoneNumber: "+447700900123",
		PushToken:   "device-token-1",
	}
	require.NoError(t, e.db.Create(user).Error)
	return user
}

func (e *routerEnv) request(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var payload *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		payload = bytes.NewReader(encoded)
	} else {
		payload = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, payload)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	recorder := httptest.NewRecorder()
	e.engine.ServeHTTP(recorder, req)
	return recorder
}

func TestHealthEndpoint(t *testing.T) {
	env := newRouterEnv(t)

	res := env.request(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), `"status":"ok"`)
}

func TestUnknownRouteReturnsJSON404(t *testing.T) {
	env := newRouterEnv(t)

	res := env.request(t, http.MethodGet, "/api/nope", nil, "")
	require.Equal(t, http.StatusNotFound, res.Code)
	require.Contains(t, res.Body.String(), "ROUTE_NOT_FOUND")
}

func TestSendCreatesJobsAndHistoryIsQueryable(t *testing.T) {
	env := newRouterEnv(t)
	user := env.createUser(t)

	res := env.request(t, http.MethodPost, "/api/notifications/send", map[string]any{
		"user_id": user.ID,
		"type":    "transaction_confirmation",
		"data": map[string]any{
			"firstName": "Amara", "amount": "150", "currency": "GBP",
			"reference": "TX-9001", "recipientName": "Chidi",
		},
	}, "")
	require.Equal(t, http.StatusAccepted, res.Code)

	var jobs []models.NotificationJob
	require.NoError(t, env.db.Find(&jobs).Error)
	require.Len(t, jobs, 2)

	// Work the jobs synchronously, then verify they show up in history.
	for _, job := range jobs {
		job := job
		require.NoError(t, env.svcs.Dispatch.ProcessJob(context.Background(), &job))
	}

	history := env.request(t, http.MethodGet,
		fmt.Sprintf("/api/notifications/history?user_id=%s&status=delivered", user.ID), nil, "")
	require.Equal(t, http.StatusOK, history.Code)
	require.Contains(t, history.Body.String(), `"total":2`)
}

func TestHistoryRejectsOutOfRangePagination(t *testing.T) {
	env := newRouterEnv(t)

	res := env.request(t, http.MethodGet, "/api/notifications/history?limit=0", nil, "")
	require.Equal(t, http.StatusBadRequest, res.Code)
	require.Contains(t, res.Body.String(), "limit must be between 1 and 100")

	res = env.request(t, http.MethodGet, "/api/notifications/history?limit=500", nil, "")
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = env.request(t, http.MethodGet, "/api/notifications/history?offset=-1", nil, "")
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestSendValidatesPayload(t *testing.T) {
	env := newRouterEnv(t)

	res := env.request(t, http.MethodPost, "/api/notifications/send", map[string]any{
		"type": "welcome",
	}, "")
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestPreferencesRoundTrip(t *testing.T) {
	env := newRouterEnv(t)
	user := env.createUser(t)

	get := env.request(t, http.MethodGet, "/api/users/"+user.ID+"/preferences", nil, "")
	require.Equal(t, http.StatusOK, get.Code)
	require.Contains(t, get.Body.String(), `"transaction_updates":true`)

	put := env.request(t, http.MethodPut, "/api/users/"+user.ID+"/preferences", map[string]any{
		"sms": map[string]any{"enabled": false},
	}, "")
	require.Equal(t, http.StatusOK, put.Code)

	var payload struct {
		Data services.Preferences `json:"data"`
	}
	require.NoError(t, json.Unmarshal(put.Body.Bytes(), &payload))
	require.False(t, payload.Data.SMS.Enabled)
}

func TestTemplateMutationsRequireAdminToken(t *testing.T) {
	env := newRouterEnv(t)

	body := map[string]any{
		"name":     "KYC approved",
		"type":     "kyc_approved",
		"channels": []string{"email"},
		"subject":  "Your identity check is complete",
		"body":     "Hi {{firstName}}, your documents were approved.",
	}

	res := env.request(t, http.MethodPost, "/api/templates", body, "")
	require.Equal(t, http.StatusUnauthorized, res.Code)

	res = env.request(t, http.MethodPost, "/api/templates", body, "wrong-token")
	require.Equal(t, http.StatusForbidden, res.Code)

	res = env.request(t, http.MethodPost, "/api/templates", body, adminToken)
	require.Equal(t, http.StatusCreated, res.Code)

	list := env.request(t, http.MethodGet, "/api/templates?type=kyc_approved", nil, "")
	require.Equal(t, http.StatusOK, list.Code)
	require.Contains(t, list.Body.String(), "KYC approved")
}

func TestQueueAdminEndpoints(t *testing.T) {
	env := newRouterEnv(t)

	stats := env.request(t, http.MethodGet, "/api/admin/queue/stats", nil, adminToken)
	require.Equal(t, http.StatusOK, stats.Code)
	require.Contains(t, stats.Body.String(), `"waiting":0`)

	health := env.request(t, http.MethodGet, "/api/admin/queue/health", nil, adminToken)
	require.Equal(t, http.StatusOK, health.Code)

	retry := env.request(t, http.MethodPost, "/api/admin/queue/retry?limit=10", nil, adminToken)
	require.Equal(t, http.StatusOK, retry.Code)
	require.Contains(t, retry.Body.String(), `"retried":0`)

	clean := env.request(t, http.MethodPost, "/api/admin/queue/clean?days=7", nil, adminToken)
	require.Equal(t, http.StatusOK, clean.Code)
}

func TestAnalyticsEndpointValidatesWindow(t *testing.T) {
	env := newRouterEnv(t)

	res := env.request(t, http.MethodGet, "/api/notifications/analytics?from=not-a-time", nil, "")
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = env.request(t, http.MethodGet, "/api/notifications/analytics", nil, "")
	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), `"delivery_rate"`)
}
