package middleware

import (
	"crypto/subtle"
	"log/slog"
	"strings"

	"github.com/gin-gonic/gin"
	apierrors "github.com/openmined/drivesync/internal/localhttp/errors"
)

// TokenAuthConfig contains the configuration for token-based authentication.
type TokenAuthConfig struct {
	// Token is the authentication token.
	Token string
}

// TokenAuth accepts the token as a bearer header or a token query parameter.
// The query form exists for websocket clients in browsers, which cannot set
// headers.
func TokenAuth(config TokenAuthConfig) gin.HandlerFunc {
	if config.Token == "" {
		slog.Info("auth disabled")
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			token = c.Query("token")
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(config.Token)) != 1 {
			slog.Debug("invalid authentication token", "ip", c.ClientIP(), "path", c.FullPath())
			abort(c, apierrors.Unauthorized("", nil))
			return
		}

		c.Set("authenticated", true)
		c.Next()
	}
}
