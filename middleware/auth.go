package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/kaptiv/sequencer/config"
	"github.com/kaptiv/sequencer/utils"
)

// constantTimeEqual compares two secrets without leaking timing
// information, the §4.E step 1 / §6 requirement for both KAPTIV_API_KEY
// and WORKER_SECRET checks.
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// RequireAPIKey protects every tenant-facing route except the OAuth
// callback and the worker trigger, which use their own secrets (§6).
func RequireAPIKey() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get("kaptiv_api_key")
		if key == "" {
			auth := c.Get("Authorization")
			key = strings.TrimPrefix(auth, "Bearer ")
			if key == auth {
				key = ""
			}
		}
		if key == "" || !constantTimeEqual(key, config.AppConfig.KaptivAPIKey) {
			return utils.ErrorResponse(c, fiber.StatusUnauthorized, "auth", nil)
		}
		return c.Next()
	}
}

// RequireWorkerSecret protects the worker tick route, accepting the secret
// either via the x-worker-secret header or a ?secret= query param (§6).
func RequireWorkerSecret() fiber.Handler {
	return func(c *fiber.Ctx) error {
		secret := c.Get("x-worker-secret")
		if secret == "" {
			secret = c.Query("secret")
		}
		if secret == "" || !constantTimeEqual(secret, config.AppConfig.WorkerSecret) {
			return utils.ErrorResponse(c, fiber.StatusUnauthorized, "auth", nil)
		}
		return c.Next()
	}
}
