package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	apperrors "github.com/campusbridge/alumni-connect/pkg/errors"
	"github.com/campusbridge/alumni-connect/pkg/logger"
	"github.com/gin-gonic/gin"
)

// ErrorHandlerMiddleware recovers panics and renders errors attached with c.Error.
func ErrorHandlerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("Panic recovered")

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "Internal Server Error",
					"code":  apperrors.KindInternal,
				})
			}
		}()

		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		renderError(c, c.Errors.Last().Err)
	}
}

func renderError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		if appErr.Code >= http.StatusInternalServerError {
			logger.Error().Err(err).AnErr("cause", errors.Unwrap(appErr)).Str("kind", string(appErr.Kind)).
				Str("path", c.Request.URL.Path).Msg("Request failed")
		}
		c.JSON(appErr.Code, gin.H{
			"error": appErr.Message,
			"code":  appErr.Kind,
		})
		return
	}

	// Don't expose internal errors to the client
	logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Unhandled request error")
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": "Internal Server Error",
		"code":  apperrors.KindInternal,
	})
}

// abortWith renders err immediately and stops the handler chain.
func abortWith(c *gin.Context, err error) {
	c.Abort()
	renderError(c, err)
}
