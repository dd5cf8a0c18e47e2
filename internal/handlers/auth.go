package handlers

import (
	"context"
	"strings"
	"time"

	"chat-backend/internal/models"
	"chat-backend/internal/services"

	"github.com/gofiber/fiber/v2"
)

const localUser = "user"

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.User, error)
}

// AuthCookie describes the session cookie set on login.
type AuthCookie struct {
	Name   string
	TTL    time.Duration
	Secure bool
}

func (a AuthCookie) set(c *fiber.Ctx, token string) {
	c.Cookie(&fiber.Cookie{
		Name:     a.Name,
		Value:    token,
		Expires:  time.Now().Add(a.TTL),
		HTTPOnly: true,
		Secure:   a.Secure,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
}

func (a AuthCookie) clear(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     a.Name,
		Value:    "",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HTTPOnly: true,
		Secure:   a.Secure,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
}

// tokenFrom reads the session token from the cookie, the `access_token`
// query param or the Authorization header, in that order.
func tokenFrom(c *fiber.Ctx, cookieName string) string {
	if token := c.Cookies(cookieName); token != "" {
		return token
	}
	if token := c.Query("access_token"); token != "" {
		return token
	}
	authHeader := c.Get(fiber.HeaderAuthorization)
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}

// AuthMiddleware resolves the session token to a user and stores it in locals.
func AuthMiddleware(auth Authenticator, cookieName string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := tokenFrom(c, cookieName)
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing token")
		}
		user, err := auth.Authenticate(c.Context(), token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
		}
		c.Locals(localUser, user)
		return c.Next()
	}
}

// CurrentUser returns the user set by AuthMiddleware.
func CurrentUser(c *fiber.Ctx) *models.User {
	u, _ := c.Locals(localUser).(*models.User)
	return u
}

func RegisterHandler(users *services.UserService, cookie AuthCookie) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req models.RegisterRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request")
		}
		res, err := users.Register(c.Context(), req)
		if err != nil {
			return httpError(err)
		}
		cookie.set(c, res.Token)
		return c.Status(fiber.StatusCreated).JSON(res)
	}
}

func LoginHandler(users *services.UserService, cookie AuthCookie) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req models.LoginRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request")
		}
		res, err := users.Login(c.Context(), req)
		if err != nil {
			return httpError(err)
		}
		cookie.set(c, res.Token)
		return c.JSON(res)
	}
}

func LogoutHandler(cookie AuthCookie) fiber.Handler {
	return func(c *fiber.Ctx) error {
		cookie.clear(c)
		return c.JSON(fiber.Map{"message": "logged out"})
	}
}

func MeHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(CurrentUser(c))
	}
}
