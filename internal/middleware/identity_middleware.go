package middleware

import (
	"context"
	"net/http"

	"pairchat/internal/transport/httpdto"
	"pairchat/pkg/logger"

	"github.com/gin-gonic/gin"
)

type ctxKey string

const userIDKey ctxKey = "caller_user_id"

// IdentityMiddleware resolves the caller identity. Authentication is an
// external collaborator; upstream infrastructure is expected to validate the
// session and forward the user id in X-User-Id.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-Id")
		if userID == "" {
			c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("missing identity", "UNAUTHORIZED"))
			c.Abort()
			return
		}
		ctx := context.WithValue(c.Request.Context(), userIDKey, userID)
		ctx = context.WithValue(ctx, logger.UserIdKey, userID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// UserIDFromContext returns the caller identity set by IdentityMiddleware.
func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok && userID != ""
}
