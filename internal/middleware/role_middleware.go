// internal/middleware/role_middleware.go
package middleware

import (
	"net/http"

	"gowa-bridge/internal/service"

	"github.com/labstack/echo/v4"
)

// Roles understood in bearer token claims.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// RequireRole lets through API key callers and bearer tokens carrying one
// of roles. Tokens without a role are treated as admin. Runs after
// AuthMiddleware; when auth is off nothing is set and every request passes.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, ok := c.Get(ContextClaims).(*service.Claims)
			if !ok {
				return next(c)
			}

			role := claims.Role
			if role == "" {
				role = RoleAdmin
			}
			for _, r := range roles {
				if r == role {
					return next(c)
				}
			}

			return c.JSON(http.StatusForbidden, map[string]interface{}{
				"success": false,
				"error":   "Access denied for role " + role,
				"code":    "FORBIDDEN",
			})
		}
	}
}
