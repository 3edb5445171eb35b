package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/remexa/remexa/internal/queue"
	"github.com/remexa/remexa/pkg/response"
)

// QueueHandler exposes dispatch queue administration endpoints.
type QueueHandler struct {
	queue *queue.Queue
}

// NewQueueHandler constructs a queue handler.
func NewQueueHandler(q *queue.Queue) (*QueueHandler, error) {
	if q == nil {
		return nil, errRequiredServices
	}
	return &QueueHandler{queue: q}, nil
}

// Stats returns per-state job counts.
func (h *QueueHandler) Stats(c *gin.Context) {
	stats, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}

// Health reports whether the queue's backing store answers queries.
func (h *QueueHandler) Health(c *gin.Context) {
	health := h.queue.HealthCheck(c.Request.Context())
	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, response.Response{Success: health.Healthy, Data: health})
}

// Retry re-submits up to limit dead jobs back into the waiting set.
func (h *QueueHandler) Retry(c *gin.Context) {
	limit := parseIntQuery(c, "limit", 50)

	retried, err := h.queue.RetryFailed(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"retried": retried})
}

// Clean purges finished jobs older than the grace window given in days.
func (h *QueueHandler) Clean(c *gin.Context) {
	days := parseIntQuery(c, "days", 7)
	if days <= 0 {
		days = 7
	}

	removed, err := h.queue.CleanOld(c.Request.Context(), time.Duration(days)*24*time.Hour)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"removed": removed})
}
