// Package api assembles the HTTP surface of the notification service.
package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/remexa/remexa/internal/app"
	"github.com/remexa/remexa/internal/handlers"
	"github.com/remexa/remexa/internal/middleware"
	"github.com/remexa/remexa/internal/queue"
	"github.com/remexa/remexa/internal/services"
)

// Services bundles the wired domain services the router exposes.
type Services struct {
	Dispatch    *services.DispatchService
	Preferences *services.PreferenceService
	Templates   *services.TemplateService
	History     *services.HistoryService
	Queue       *queue.Queue
}

// NewRouter builds the Gin engine, wires middleware and registers all routes.
func NewRouter(db *gorm.DB, cfg *app.Config, svcs Services) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}

	r := gin.New()

	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.NoRoute(middleware.NotFoundHandler)

	if cfg.Monitoring.Health.Enabled {
		r.GET("/health", handlers.Health(db))
	}
	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	notificationHandler, err := handlers.NewNotificationHandler(svcs.Dispatch, svcs.History)
	if err != nil {
		return nil, err
	}
	preferenceHandler, err := handlers.NewPreferenceHandler(svcs.Preferences)
	if err != nil {
		return nil, err
	}
	templateHandler, err := handlers.NewTemplateHandler(svcs.Templates)
	if err != nil {
		return nil, err
	}
	queueHandler, err := handlers.NewQueueHandler(svcs.Queue)
	if err != nil {
		return nil, err
	}

	requireAdmin := middleware.AdminAuth(cfg.Server.AdminToken)

	api := r.Group("/api")

	notifications := api.Group("/notifications")
	{
		notifications.POST("/send", notificationHandler.Send)
		notifications.POST("/send-bulk", notificationHandler.SendBulk)
		notifications.GET("/history", notificationHandler.History)
		notifications.GET("/analytics", notificationHandler.Analytics)
	}

	users := api.Group("/users")
	{
		users.GET("/:userID/preferences", preferenceHandler.Get)
		users.PUT("/:userID/preferences", preferenceHandler.Update)
	}

	templates := api.Group("/templates")
	{
		templates.GET("", templateHandler.List)
		templates.GET("/:id", templateHandler.Get)
		templates.POST("", requireAdmin, templateHandler.Create)
		templates.PATCH("/:id", requireAdmin, templateHandler.Update)
		templates.DELETE("/:id", requireAdmin, templateHandler.Delete)
	}

	admin := api.Group("/admin", requireAdmin)
	{
		admin.GET("/queue/stats", queueHandler.Stats)
		admin.GET("/queue/health", queueHandler.Health)
		admin.POST("/queue/retry", queueHandler.Retry)
		admin.POST("/queue/clean", queueHandler.Clean)
	}

	return r, nil
}
