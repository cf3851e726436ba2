package middleware

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	apierrors "github.com/openmined/drivesync/internal/localhttp/errors"
)

// ErrorHandler renders the last error a handler attached with c.Error.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		appErr, ok := apierrors.AsAppError(err)
		if !ok {
			appErr = apierrors.Internal("", err)
		}
		if appErr.Internal != nil {
			slog.Warn("http request failed", "path", c.Request.URL.Path, "code", appErr.Code, "error", appErr.Internal)
		}
		c.JSON(appErr.Status, appErr.Response())
	}
}

func abort(c *gin.Context, err *apierrors.AppError) {
	c.AbortWithStatusJSON(err.Status, err.Response())
}
