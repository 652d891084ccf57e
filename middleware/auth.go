// middleware/auth.go
package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	LocalOperatorID    = "operator_id"
	LocalOperatorRoles = "operator_roles"

	// RoleClaimOthers lets an operator trigger claims for other players.
	RoleClaimOthers = "shop.claim_reward.others"
)

// UserContextMiddleware reads the operator identity and roles the gateway
// forwards in X-User-ID and X-User-Roles.
func UserContextMiddleware(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		operatorID := c.Get("X-User-ID")
		if operatorID == "" {
			logger.Warn("❌ [USER_CTX] X-User-ID missing", zap.String("path", c.Path()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID, request must come through gateway with operator context",
			})
		}

		var roles []string
		for _, r := range strings.Split(c.Get("X-User-Roles"), ",") {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, r)
			}
		}

		c.Locals(LocalOperatorID, operatorID)
		c.Locals(LocalOperatorRoles, roles)
		return c.Next()
	}
}

// RequireRole rejects requests whose operator lacks role. "admin" passes every check.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		roles, _ := c.Locals(LocalOperatorRoles).([]string)
		for _, r := range roles {
			if r == role || r == "admin" {
				return c.Next()
			}
		}
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "missing permission " + role,
		})
	}
}
