package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/remexa/remexa/internal/services"
	apperrors "github.com/remexa/remexa/pkg/errors"
	"github.com/remexa/remexa/pkg/response"
)

// NotificationHandler exposes the dispatch and reporting endpoints.
type NotificationHandler struct {
	dispatch *services.DispatchService
	history  *services.HistoryService
}

// NewNotificationHandler constructs a notification handler.
func NewNotificationHandler(dispatch *services.DispatchService, history *services.HistoryService) (*NotificationHandler, error) {
	if dispatch == nil || history == nil {
		return nil, errRequiredServices
	}
	return &NotificationHandler{dispatch: dispatch, history: history}, nil
}

type sendRequest struct {
	UserID      string         `json:"user_id" validate:"required,uuid4"`
	Type        string         `json:"type" validate:"required"`
	Channels    []string       `json:"channels,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Priority    string         `json:"priority,omitempty"`
	ScheduledAt *time.Time     `json:"scheduled_at,omitempty"`
}

// Send dispatches one notification through the user's enabled channels.
func (h *NotificationHandler) Send(c *gin.Context) {
	var req sendRequest
	if !bindAndValidate(c, &req) {
		return
	}

	receipt, err := h.dispatch.Send(c.Request.Context(), services.SendInput{
		UserID:      req.UserID,
		Type:        req.Type,
		Channels:    req.Channels,
		Data:        req.Data,
		Priority:    req.Priority,
		ScheduledAt: req.ScheduledAt,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusAccepted, receipt)
}

type bulkSendRequest struct {
	UserIDs  []string       `json:"user_ids" validate:"required,min=1,max=500"`
	Type     string         `json:"type" validate:"required"`
	Channels []string       `json:"channels,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Priority string         `json:"priority,omitempty"`
}

// SendBulk fans one notification out to many users.
func (h *NotificationHandler) SendBulk(c *gin.Context) {
	var req bulkSendRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.dispatch.SendBulk(c.Request.Context(), services.BulkSendInput{
		UserIDs:  req.UserIDs,
		Type:     req.Type,
		Channels: req.Channels,
		Data:     req.Data,
		Priority: req.Priority,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusAccepted, result)
}

// History lists delivery records filtered by the query parameters.
func (h *NotificationHandler) History(c *gin.Context) {
	limit := parseIntQuery(c, "limit", 25)
	offset := parseIntQuery(c, "offset", 0)
	if limit < 1 || limit > 100 {
		response.Error(c, apperrors.NewBadRequest("limit must be between 1 and 100"))
		return
	}
	if offset < 0 {
		response.Error(c, apperrors.NewBadRequest("offset must not be negative"))
		return
	}

	records, total, err := h.history.List(c.Request.Context(), services.ListHistoryInput{
		UserID:  c.Query("user_id"),
		Type:    c.Query("type"),
		Channel: c.Query("channel"),
		Status:  c.Query("status"),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, records, &response.Meta{
		Page:    offset/limit + 1,
		PerPage: limit,
		Total:   int(total),
	})
}

// Analytics summarises delivery outcomes over a time window.
func (h *NotificationHandler) Analytics(c *gin.Context) {
	from, err := parseTimeQuery(c, "from")
	if err != nil {
		response.Error(c, err)
		return
	}
	to, err := parseTimeQuery(c, "to")
	if err != nil {
		response.Error(c, err)
		return
	}

	report, err := h.history.Analytics(c.Request.Context(), services.AnalyticsInput{
		From:   from,
		To:     to,
		UserID: c.Query("user_id"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, report)
}
