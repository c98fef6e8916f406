package auth

import (
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	SessionCookie = "session"
	LoginURL      = "/auth/login/"
)

// Identify resolves the viewer from a bearer token or the session cookie and
// stores user_id and username in locals. Requests without a valid token pass
// through as anonymous.
func Identify(secret string) fiber.Handler {
	secretBytes := []byte(secret)
	return func(c *fiber.Ctx) error {
		token := bearerFromHeader(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			token = c.Cookies(SessionCookie)
		}
		if token == "" {
			return c.Next()
		}

		claims, err := parseClaims(token, secretBytes)
		if err != nil {
			return c.Next()
		}

		c.Locals("user_id", claims.UserID)
		c.Locals("username", claims.Username)
		return c.Next()
	}
}

// LoginRequired redirects anonymous requests to the login page, carrying the
// original URL in the next parameter.
func LoginRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if UserID(c) == "" {
			return c.Redirect(LoginURL + "?next=" + url.QueryEscape(c.OriginalURL()))
		}
		return c.Next()
	}
}

func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}

func Username(c *fiber.Ctx) string {
	name, _ := c.Locals("username").(string)
	return name
}

func bearerFromHeader(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
