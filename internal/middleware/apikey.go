package middleware

import (
	"context"
	"crypto/subtle"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/claysader-arch/todo-aggregator/internal/models"
)

// LocalUser is the Locals key holding the *models.User authenticated by
// PersonalTokenMiddleware.
const LocalUser = "user"

// APISecretMiddleware guards operator endpoints with the shared X-API-Secret header.
func APISecretMiddleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			log.Println("❌ [API-SECRET] API_SECRET not configured, rejecting request")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "API_SECRET not configured on server",
			})
		}

		provided := c.Get("X-API-Secret")
		if provided == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing API secret. Include X-API-Secret header.",
			})
		}
		if !equalSecret(provided, secret) {
			log.Printf("🚫 [API-SECRET] Invalid secret from %s", c.IP())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid API secret",
			})
		}

		c.Locals("auth_type", "api_secret")
		return c.Next()
	}
}

// UserLookup finds a registered user by key.
type UserLookup interface {
	GetUser(ctx context.Context, key string) (*models.User, error)
}

// PersonalTokenMiddleware lets a registered user trigger their own run. The
// user key comes from the :id route parameter and the token from the
// X-Personal-Token header or the token query parameter.
func PersonalTokenMiddleware(users UserLookup) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Params("id")
		token := c.Get("X-Personal-Token")
		if token == "" {
			token = c.Query("token")
		}
		if key == "" || token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing personal token",
			})
		}

		user, err := users.GetUser(c.UserContext(), key)
		// unknown users and wrong tokens look the same to the caller
		if err != nil || user.PersonalToken == "" || !equalSecret(token, user.PersonalToken) {
			log.Printf("🚫 [PERSONAL-TOKEN] Rejected trigger for user %s", key)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid user or token",
			})
		}
		if !user.Enabled {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "User is disabled",
			})
		}

		c.Locals(LocalUser, user)
		c.Locals("auth_type", "personal_token")
		return c.Next()
	}
}

func equalSecret(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
