package auth

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"backend-yatube/internal/shared/form"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service) {
	r.Get("/signup", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"form": SignupRequest{}})
	})

	r.Post("/signup", func(c *fiber.Ctx) error {
		var req SignupRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		user, token, err := svc.Signup(c.Context(), req)
		if err != nil {
			if errs, ok := form.AsErrors(err); ok {
				req.Password = ""
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"form": req, "errors": errs})
			}
			return err
		}
		setSession(c, token)
		return c.Status(fiber.StatusCreated).JSON(SessionResponse{User: user, Token: token})
	})

	r.Get("/login", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"next": c.Query("next")})
	})

	r.Post("/login", func(c *fiber.Ctx) error {
		var req LoginRequest
		if err := c.BodyParser(&req); err != nil || req.Username == "" || req.Password == "" {
			return fiber.NewError(fiber.StatusBadRequest, "username and password required")
		}
		user, token, err := svc.Login(c.Context(), req)
		if err != nil {
			if errors.Is(err, ErrInvalidCredentials) {
				return fiber.NewError(fiber.StatusUnauthorized, err.Error())
			}
			return err
		}
		setSession(c, token)

		if next := c.Query("next"); safeNext(next) {
			return c.Redirect(next)
		}
		return c.JSON(SessionResponse{User: user, Token: token})
	})

	logout := func(c *fiber.Ctx) error {
		c.ClearCookie(SessionCookie)
		return c.Redirect("/")
	}
	r.Get("/logout", logout)
	r.Post("/logout", logout)
}

func setSession(c *fiber.Ctx, token string) {
	c.Cookie(&fiber.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(sessionTTL),
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

// safeNext accepts only local absolute paths. Browsers read a backslash as a
// slash, so any backslash is refused.
func safeNext(next string) bool {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.ContainsRune(next, '\\') {
		return false
	}
	u, err := url.Parse(next)
	return err == nil && u.Scheme == "" && u.Host == ""
}
