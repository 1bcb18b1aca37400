package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/softcenter/internal/middleware"
	"github.com/charlesng35/softcenter/internal/models"
	apperrors "github.com/charlesng35/softcenter/pkg/errors"
	"github.com/charlesng35/softcenter/pkg/response"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// fail writes err as a JSON error. Server-side failures are attached to the gin context so
// the request logger records the detail the client never sees.
func fail(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) || appErr.StatusCode >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	response.Error(c, err)
}

// currentUser returns the authenticated user, writing 401 when the gate did not run.
func currentUser(c *gin.Context) (*models.User, bool) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return nil, false
	}
	return user, true
}
