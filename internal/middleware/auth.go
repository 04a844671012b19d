package middleware

import (
	"context"
	"strings"

	apperrors "github.com/campusbridge/alumni-connect/pkg/errors"
	"github.com/gin-gonic/gin"
)

// Authenticator resolves a bearer credential to a user id.
type Authenticator interface {
	AuthenticateCredential(ctx context.Context, credential string) (string, error)
}

func AuthMiddleware(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortWith(c, apperrors.Unauthorized("Authorization header required"))
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			abortWith(c, apperrors.Unauthorized("Invalid authorization header format"))
			return
		}

		userID, err := auth.AuthenticateCredential(c.Request.Context(), parts[1])
		if err != nil {
			abortWith(c, err)
			return
		}

		// Set UserID in context for handlers to use
		c.Set("userId", userID)
		c.Next()
	}
}

// CurrentUserID returns the id set by AuthMiddleware.
func CurrentUserID(c *gin.Context) string {
	return c.GetString("userId")
}
