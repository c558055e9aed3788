// internal/middleware/auth_middleware.go
package middleware

import (
	"net/http"
	"strings"

	"gowa-bridge/internal/service"

	"github.com/labstack/echo/v4"
)

const HeaderAPIKey = "X-API-Key"

// Context keys set by AuthMiddleware.
const (
	ContextAuthMethod = "auth_method"
	ContextClaims     = "auth_claims"
)

func unauthorized(c echo.Context, message, code string) error {
	return c.JSON(http.StatusUnauthorized, map[string]interface{}{
		"success": false,
		"error":   message,
		"code":    code,
	})
}

// AuthMiddleware accepts either an X-API-Key matching the configured hash
// or an HS256 bearer token. When auth is not configured every request passes.
func AuthMiddleware(auth *service.Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !auth.Enabled() {
				return next(c)
			}

			if key := c.Request().Header.Get(HeaderAPIKey); key != "" {
				if !auth.CheckAPIKey(key) {
					return unauthorized(c, "Invalid API key", "INVALID_API_KEY")
				}
				c.Set(ContextAuthMethod, "api_key")
				return next(c)
			}

			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				return unauthorized(c, "Unauthorized", "UNAUTHORIZED")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				return unauthorized(c, "Invalid authorization header format", "INVALID_AUTH_HEADER")
			}

			claims, err := auth.ValidateAccessToken(strings.TrimSpace(parts[1]))
			if err != nil {
				return unauthorized(c, "Invalid or expired token", "INVALID_TOKEN")
			}

			c.Set(ContextAuthMethod, "jwt")
			c.Set(ContextClaims, claims)
			return next(c)
		}
	}
}
