package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"retrocart/internal/domain"
	"retrocart/internal/log"
	"retrocart/internal/services"
	"retrocart/internal/validate"
)

type AuthHandler struct {
	Auth *services.AuthService
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type meResponse struct {
	User         *domain.User        `json:"user"`
	Capabilities domain.Capabilities `json:"capabilities"`
}

// POST /api/v1/auth/login
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	sid := ensureSID(c)
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "body")
	}
	email, okEmail := validate.Email(req.Email)
	if !okEmail || !validate.Password(req.Password) {
		log.Security(c, "auth.login.fail", map[string]any{"email": req.Email, "reason": "bad_format"})
		return reject(c, fiber.StatusUnauthorized, services.CodeUnauthorized, "Invalid email or password")
	}

	u, err := h.Auth.Login(c.UserContext(), sid, email, req.Password)
	if err != nil {
		log.Security(c, "auth.login.fail", map[string]any{"email": email})
		return reject(c, fiber.StatusUnauthorized, services.CodeUnauthorized, "Invalid email or password")
	}
	c.Locals("user_id", u.ID)
	caps, _ := h.Auth.Capabilities(c.UserContext(), services.Principal{SessionID: sid, User: u})
	log.Audit(c, "auth.login.success", map[string]any{"email": email})
	return ok(c, meResponse{User: u, Capabilities: caps}, "signed in")
}

// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	sid := ensureSID(c)
	_ = h.Auth.Logout(c.UserContext(), sid)
	c.Cookie(&fiber.Cookie{
		Name:     "sid",
		Value:    "",
		Path:     "/",
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
		Expires:  time.Now().Add(-1 * time.Hour),
	})
	log.Audit(c, "auth.logout", map[string]any{"sid": sid})
	return ok(c, nil, "signed out")
}

// GET /api/v1/auth/me
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	p := principal(c)
	caps, err := h.Auth.Capabilities(c.UserContext(), p)
	if err != nil {
		return fail(c, "auth.me.fail", err, nil)
	}
	return ok(c, meResponse{User: p.User, Capabilities: caps}, "")
}
