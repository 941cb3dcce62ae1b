package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"meridian/internal/auth"
)

// AuthMiddleware validates the Supabase-issued bearer token on every request
// and stores the authenticated user id under "userID" in c.Locals for
// downstream REST handlers. The websocket endpoint is served by a separate
// net/http listener and does not pass through this middleware.
func AuthMiddleware(verifier auth.JWTVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}

		claims, err := verifier.VerifyToken(token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid or expired token")
		}

		c.Locals("userID", claims.GetUserID())
		return c.Next()
	}
}
