package utils

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
)

// ErrorResponse creates a standardized error response body.
func ErrorResponse(c *fiber.Ctx, status int, message string, err error) error {
	response := fiber.Map{
		"ok":    false,
		"error": message,
	}
	if err != nil {
		response["detail"] = err.Error()
	}
	return c.Status(status).JSON(response)
}

// SuccessResponse wraps data in the {ok: true, ...} envelope used across
// the HTTP surface.
func SuccessResponse(fields fiber.Map) fiber.Map {
	out := fiber.Map{"ok": true}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// GenerateNonce returns a URL-safe random token, used for OAuth state
// tickets (§4.H).
func GenerateNonce() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// FormatDuration renders a duration the way operator-facing log lines do.
func FormatDuration(d time.Duration) string {
	if d.Hours() >= 24 {
		return fmt.Sprintf("%d days", int(d.Hours()/24))
	} else if d.Hours() >= 1 {
		return fmt.Sprintf("%.1f hours", d.Hours())
	} else if d.Minutes() >= 1 {
		return fmt.Sprintf("%.1f minutes", d.Minutes())
	}
	return fmt.Sprintf("%.1f seconds", d.Seconds())
}
