package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/softcenter/internal/handlers"
)

type authRouteDeps struct {
	Handler   *handlers.AuthHandler
	RateLimit gin.HandlerFunc
}

func registerAuthRoutes(public, protected *gin.RouterGroup, deps authRouteDeps) {
	auth := public.Group("/auth")
	auth.Use(deps.RateLimit)
	{
		auth.POST("/signup", deps.Handler.Signup)
		auth.POST("/login", deps.Handler.Login)
		auth.POST("/forgot-password", deps.Handler.ForgotPassword)
		auth.POST("/reset-password", deps.Handler.ResetPassword)
	}

	protected.GET("/auth/me", deps.Handler.Me)
}
