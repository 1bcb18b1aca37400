package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/softcenter/internal/handlers"
)

func registerSoftwareRoutes(api *gin.RouterGroup, handler *handlers.SoftwareHandler) {
	software := api.Group("/user-software")
	{
		software.GET("", handler.List)
		software.GET("/user/:userId", handler.ListForUser)
		software.GET("/:appId", handler.Check)
		software.POST("/:appId/install", handler.Install)
		software.POST("/:appId/update", handler.Update)
		software.PUT("/:appId/status", handler.SetStatus)
		software.DELETE("/:appId", handler.Uninstall)
	}
}
