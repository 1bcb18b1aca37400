package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/softcenter/internal/database"
	"github.com/charlesng35/softcenter/pkg/logger"
	"github.com/charlesng35/softcenter/pkg/response"
)

// Health returns a readiness payload. The database must answer a ping within two seconds.
func Health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(requestContext(c), 2*time.Second)
		defer cancel()

		if err := database.Ping(ctx, db); err != nil {
			logger.WithModule("health").Warn("database ping failed", zap.Error(err))
			response.Success(c, http.StatusServiceUnavailable, gin.H{"status": "unavailable", "database": "down"})
			return
		}
		response.Success(c, http.StatusOK, gin.H{"status": "ok", "database": "up"})
	}
}
