// Package middleware adapts auth.Verifier to Fiber's request pipeline for
// the HTTP execute endpoint (the WebSocket path authenticates inline in
// the broker instead, after the upgrade, and reports a failure with a
// WebSocket close code).
package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/yenjordan/terminus/internal/auth"
	"github.com/yenjordan/terminus/internal/logger"
)

const principalLocalsKey = "principal"

// RequireAuth extracts a bearer token from the Authorization header, the
// token query parameter, or a token cookie, verifies it, and stores the
// resulting auth.Principal in c.Locals for downstream handlers.
func RequireAuth(verifier auth.Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := extractToken(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "authentication required"})
		}

		principal, err := verifier.Verify(token)
		if err != nil {
			logger.Debugf("auth: verify failed: %v", err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
		}

		c.Locals(principalLocalsKey, principal)
		return c.Next()
	}
}

func extractToken(c *fiber.Ctx) string {
	if header := c.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}
	if cookie := c.Cookies("terminus_token"); cookie != "" {
		return cookie
	}
	if token := c.Query("token"); token != "" {
		return token
	}
	return ""
}

// PrincipalFromContext retrieves the Principal a prior RequireAuth call
// stashed in c.Locals.
func PrincipalFromContext(c *fiber.Ctx) (auth.Principal, bool) {
	p, ok := c.Locals(principalLocalsKey).(auth.Principal)
	return p, ok
}
