package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"retrocart/internal/domain"
	applog "retrocart/internal/log"
	"retrocart/internal/services"
)

func ensureSID(c *fiber.Ctx) string {
	if sid, _ := c.Locals("sid").(string); sid != "" {
		return sid
	}
	sid := c.Cookies("sid")
	if sid == "" {
		sid = uuid.NewString()
		c.Cookie(&fiber.Cookie{
			Name:     "sid",
			Value:    sid,
			Path:     "/",
			HTTPOnly: true,
			SameSite: fiber.CookieSameSiteLaxMode,
			Secure:   false, // enable true behind TLS
		})
	}
	return sid
}

// Session makes sure every request has a session id and attaches the
// signed-in user, if any.
func Session(auth *services.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sid := ensureSID(c)
		c.Locals("sid", sid)
		if u, err := auth.CurrentUser(c.UserContext(), sid); err == nil && u != nil {
			c.Locals("user", u)
			c.Locals("user_id", u.ID)
		}
		return c.Next()
	}
}

func principal(c *fiber.Ctx) services.Principal {
	sid, _ := c.Locals("sid").(string)
	if sid == "" {
		sid = c.Cookies("sid")
	}
	u, _ := c.Locals("user").(*domain.User)
	return services.Principal{SessionID: sid, User: u}
}

// RequireUser enforces that a user is logged in.
func RequireUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if u, _ := c.Locals("user").(*domain.User); u == nil {
			return reject(c, fiber.StatusUnauthorized, services.CodeUnauthorized, "please sign in")
		}
		return c.Next()
	}
}

// RequireOperator admits users holding at least one order capability. The
// capabilities come from stored roles, read again on every request.
func RequireOperator(auth *services.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p := principal(c)
		if p.User == nil {
			return reject(c, fiber.StatusUnauthorized, services.CodeUnauthorized, "please sign in")
		}
		caps, err := auth.Capabilities(c.UserContext(), p)
		if err != nil {
			return fail(c, "authz.caps.fail", err, nil)
		}
		if !caps.Any() {
			applog.Security(c, "access.denied.operator", map[string]any{"user": p.User.ID})
			return reject(c, fiber.StatusForbidden, services.CodeForbidden, "access denied")
		}
		return c.Next()
	}
}

// RequireAdmin admits only users whose stored roles include ADMIN.
func RequireAdmin(auth *services.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p := principal(c)
		if p.User == nil {
			return reject(c, fiber.StatusUnauthorized, services.CodeUnauthorized, "please sign in")
		}
		roles, err := auth.Users.Roles(c.UserContext(), p.User.ID)
		if err != nil {
			return fail(c, "authz.roles.fail", err, nil)
		}
		for _, r := range roles {
			if r == domain.RoleAdmin {
				return c.Next()
			}
		}
		applog.Security(c, "access.denied.admin", map[string]any{"user": p.User.ID})
		return reject(c, fiber.StatusForbidden, services.CodeForbidden, "access denied")
	}
}
