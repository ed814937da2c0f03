package api

import (
	"net/http"
	"strings"

	"copier-core/pkg/i18n"
	"copier-core/pkg/identity"

	"github.com/gin-gonic/gin"
)

const ownerContextKey = "Owner"

// AuthMiddleware admits only bearer tokens issued for the engine's owner.
// Browsers cannot set headers on a WebSocket handshake, so a token query
// parameter is accepted as well.
func AuthMiddleware(v *identity.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				respondError(c, http.StatusUnauthorized, "INVALID_AUTH_HEADER", i18n.M().Unauthorized)
				c.Abort()
				return
			}
			token = parts[1]
		}
		if token == "" {
			respondError(c, http.StatusUnauthorized, "MISSING_TOKEN", i18n.M().Unauthorized)
			c.Abort()
			return
		}

		owner, err := v.Verify(token)
		if err != nil {
			respondError(c, http.StatusUnauthorized, "INVALID_TOKEN", i18n.M().Unauthorized)
			c.Abort()
			return
		}

		c.Set(ownerContextKey, owner)
		c.Next()
	}
}

// CurrentOwner returns the authenticated owner key from context.
func CurrentOwner(c *gin.Context) string {
	return c.GetString(ownerContextKey)
}
