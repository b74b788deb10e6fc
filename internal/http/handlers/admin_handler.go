package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/jmoiron/sqlx"

	"retrocart/internal/domain"
	applog "retrocart/internal/log"
	"retrocart/internal/repos"
	"retrocart/internal/services"
	"retrocart/internal/validate"
)

type AdminHandler struct {
	DB     *sqlx.DB
	Orders *services.OrderService
	Status *services.StatusService
	Inv    *services.InventoryService
	Users  *repos.UserRepo
}

// GET /api/v1/admin/orders
func (h *AdminHandler) OrdersPage(c *fiber.Ctx) error {
	ords, err := h.Orders.ListLatest(c.UserContext(), principal(c), c.QueryInt("limit", 100))
	if err != nil {
		return fail(c, "admin.orders.list.fail", err, nil)
	}
	return ok(c, ords, "")
}

// GET /api/v1/admin/orders/:id/actions
func (h *AdminHandler) Actions(c *fiber.Ctx) error {
	acts, err := h.Status.Actions(c.UserContext(), principal(c), c.Params("id"))
	if err != nil {
		return fail(c, "admin.orders.actions.fail", err, map[string]any{"order_id": c.Params("id")})
	}
	return ok(c, acts, "")
}

// GET /api/v1/admin/orders/:id/history
func (h *AdminHandler) History(c *fiber.Ctx) error {
	hist, err := h.Orders.History(c.UserContext(), principal(c), c.Params("id"))
	if err != nil {
		return fail(c, "admin.orders.history.fail", err, map[string]any{"order_id": c.Params("id")})
	}
	return ok(c, hist, "")
}

// POST /api/v1/admin/orders/:id/status
func (h *AdminHandler) UpdateOrderStatus(c *fiber.Ctx) error {
	id := c.Params("id")
	var req struct {
		Status string `json:"status"`
	}
	if err := c.BodyParser(&req); err != nil || req.Status == "" {
		return badRequest(c, "status")
	}
	o, err := h.Status.Transition(c.UserContext(), principal(c), id, req.Status)
	if err != nil {
		return fail(c, "admin.orders.update.fail", err, map[string]any{"order_id": id, "status": req.Status})
	}
	applog.Audit(c, "admin.orders.update", map[string]any{"order_id": id, "status": string(o.Status)})
	return ok(c, o, "status updated")
}

// POST /api/v1/admin/orders/:id/fulfill
func (h *AdminHandler) Fulfill(c *fiber.Ctx) error {
	id := c.Params("id")
	var req struct {
		TrackingRef string `json:"trackingRef"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "body")
		}
	}
	o, err := h.Status.Fulfill(c.UserContext(), principal(c), id, req.TrackingRef)
	if err != nil {
		return fail(c, "admin.orders.fulfill.fail", err, map[string]any{"order_id": id})
	}
	applog.Audit(c, "admin.orders.fulfill", map[string]any{"order_id": id, "tracking": o.TrackingRef})
	return ok(c, o, "order shipped")
}

// POST /api/v1/admin/orders/:id/deliver
func (h *AdminHandler) Deliver(c *fiber.Ctx) error {
	id := c.Params("id")
	o, err := h.Status.Deliver(c.UserContext(), principal(c), id)
	if err != nil {
		return fail(c, "admin.orders.deliver.fail", err, map[string]any{"order_id": id})
	}
	applog.Audit(c, "admin.orders.deliver", map[string]any{"order_id": id})
	return ok(c, o, "order delivered")
}

// GET /api/v1/admin/inventory
func (h *AdminHandler) Inventory(c *fiber.Ctx) error {
	rows, err := h.Inv.ListAll(c.UserContext())
	if err != nil {
		return fail(c, "admin.inventory.list.fail", err, nil)
	}
	return ok(c, rows, "")
}

// PUT /api/v1/admin/inventory/:productId
func (h *AdminHandler) UpdateInventory(c *fiber.Ctx) error {
	pid := c.Params("productId")
	var req struct {
		StockQuantity *int `json:"stockQuantity"`
	}
	if err := c.BodyParser(&req); err != nil || req.StockQuantity == nil {
		return badRequest(c, "stockQuantity")
	}
	rec, err := h.Inv.SetStock(c.UserContext(), pid, *req.StockQuantity)
	if err != nil {
		return fail(c, "admin.inventory.save.fail", err, map[string]any{"product": pid, "qty": *req.StockQuantity})
	}
	applog.Audit(c, "admin.inventory.save", map[string]any{"product": pid, "qty": *req.StockQuantity})
	return ok(c, rec, "inventory saved")
}

// GET /api/v1/admin/users
func (h *AdminHandler) UsersPage(c *fiber.Ctx) error {
	users, err := h.Users.List(c.UserContext())
	if err != nil {
		return fail(c, "admin.users.list.fail", err, nil)
	}
	return ok(c, users, "")
}

// POST /api/v1/admin/users/:id/roles
func (h *AdminHandler) GrantRole(c *fiber.Ctx) error {
	id := c.Params("id")
	var req struct {
		Role string `json:"role"`
	}
	if err := c.BodyParser(&req); err != nil || !domain.KnownRole(req.Role) {
		return badRequest(c, "role")
	}
	if _, err := h.Users.ByID(c.UserContext(), id); err != nil {
		return reject(c, fiber.StatusNotFound, services.CodeNotFound, "user not found")
	}
	if err := h.Users.GrantRole(c.UserContext(), id, req.Role); err != nil {
		return fail(c, "admin.users.grant.fail", err, map[string]any{"user_id": id})
	}
	applog.Audit(c, "admin.users.grant", map[string]any{"user_id": id, "role": req.Role})
	return ok(c, nil, "role granted")
}

// DELETE /api/v1/admin/users/:id/roles/:role
func (h *AdminHandler) RevokeRole(c *fiber.Ctx) error {
	id, role := c.Params("id"), c.Params("role")
	if err := h.Users.RevokeRole(c.UserContext(), id, role); err != nil {
		if errors.Is(err, repos.ErrNotFound) {
			return reject(c, fiber.StatusNotFound, services.CodeNotFound, "role not assigned")
		}
		return fail(c, "admin.users.revoke.fail", err, map[string]any{"user_id": id})
	}
	applog.Audit(c, "admin.users.revoke", map[string]any{"user_id": id, "role": role})
	return ok(c, nil, "role revoked")
}

// DELETE /api/v1/admin/users/:id
func (h *AdminHandler) DeleteUser(c *fiber.Ctx) error {
	id, okID := validate.ID(c.Params("id"))
	if !okID {
		return badRequest(c, "id")
	}
	if id == principal(c).UserID() {
		return reject(c, fiber.StatusBadRequest, services.CodeValidation, "you cannot delete yourself")
	}
	err := repos.Tx(c.UserContext(), h.DB, func(tx *sqlx.Tx) error {
		return h.Users.With(tx).DeleteUserCascade(c.UserContext(), id)
	})
	if err != nil {
		if errors.Is(err, repos.ErrNotFound) {
			return reject(c, fiber.StatusNotFound, services.CodeNotFound, "user not found")
		}
		return fail(c, "admin.users.delete.fail", err, map[string]any{"user_id": id})
	}
	applog.Audit(c, "admin.users.delete", map[string]any{"user_id": id})
	return ok(c, nil, "user deleted")
}
