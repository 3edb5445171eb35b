package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/remexa/remexa/pkg/errors"
	"github.com/remexa/remexa/pkg/response"
)

// Health returns a readiness payload covering the database connection.
func Health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			sqlDB, err := db.DB()
			if err == nil {
				err = sqlDB.PingContext(c.Request.Context())
			}
			if err != nil {
				response.Error(c, errors.New("DATABASE_UNAVAILABLE",
					"database is not reachable", http.StatusServiceUnavailable))
				return
			}
		}
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	}
}
