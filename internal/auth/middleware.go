package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zhenyuanlu/haybeat/internal"
	"github.com/zhenyuanlu/haybeat/internal/response"
)

const userKey = "user"

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// Middleware rejects requests without a valid bearer token before any
// handler or store call runs.
func Middleware(provider Provider, logger internal.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Unauthorized("Unauthorized"))
			return
		}
		user, err := provider.ValidateToken(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, internal.ErrNotAuthenticated) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, response.Unauthorized("Unauthorized"))
				return
			}
			logger.Errorf("[request_id=%s] token validation failed: %v", c.GetString("request_id"), err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, response.InternalError("Token validation failed"))
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

// CurrentUser returns the identity set by Middleware, or nil.
func CurrentUser(c *gin.Context) *internal.User {
	v, ok := c.Get(userKey)
	if !ok {
		return nil
	}
	user, _ := v.(*internal.User)
	return user
}
