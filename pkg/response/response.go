package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	appErrors "github.com/charlesng35/softcenter/pkg/errors"
)

// ErrorBody is the only shape clients ever see for failures.
type ErrorBody struct {
	Message string `json:"message"`
}

// Success writes data as the JSON response body.
func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, data)
}

// Message writes a `{"message": ...}` body with the supplied status.
func Message(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, ErrorBody{Message: message})
}

// Error writes a JSON error response derived from an AppError. Errors that are not
// AppErrors become a generic 500; their detail must be logged by the caller.
func Error(c *gin.Context, err error) {
	if err == nil {
		err = appErrors.ErrInternalServer
	}

	appErr := appErrors.FromError(err)
	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}

	c.JSON(status, ErrorBody{Message: appErr.Message})
}
