package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/softcenter/internal/handlers"
	"github.com/charlesng35/softcenter/internal/middleware"
	"github.com/charlesng35/softcenter/internal/models"
)

func registerUserRoutes(api *gin.RouterGroup, handler *handlers.UserHandler) {
	users := api.Group("/users")
	{
		users.POST("/avatar", handler.UploadAvatar)
		users.GET("/me/system-config", handler.GetSystemConfig)
		users.PUT("/me/system-config", handler.ReportSystemConfig)

		users.GET("", middleware.RequireRole(models.RoleAdmin), handler.List)
		users.GET("/:id", middleware.RequireRole(models.RoleAdmin), handler.Get)
	}
}
