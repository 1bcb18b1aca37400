package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/softcenter/internal/handlers"
	"github.com/charlesng35/softcenter/internal/middleware"
	"github.com/charlesng35/softcenter/internal/models"
)

func registerTaskRoutes(api *gin.RouterGroup, handler *handlers.TaskHandler) {
	api.GET("/tasks", middleware.RequireRole(models.RoleAdmin), handler.List)
}
