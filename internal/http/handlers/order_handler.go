package handlers

import (
	"github.com/gofiber/fiber/v2"

	"retrocart/internal/domain"
	applog "retrocart/internal/log"
	"retrocart/internal/services"
)

type OrderHandler struct {
	Order    *services.OrderService
	Payments *services.PaymentService
}

type placeRequest struct {
	Shipping domain.ShippingInfo `json:"shipping"`
}

type guestPlaceRequest struct {
	domain.GuestInfo
	Shipping domain.ShippingInfo `json:"shipping"`
}

// POST /api/v1/orders
func (h *OrderHandler) Place(c *fiber.Ctx) error {
	var req placeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "body")
	}
	o, err := h.Order.PlaceForUser(c.UserContext(), principal(c), req.Shipping)
	if err != nil {
		return fail(c, "order.place.fail", err, nil)
	}
	applog.Audit(c, "order.place", map[string]any{"order_id": o.ID, "total": o.TotalAmount.String()})
	return created(c, o, "order placed")
}

// POST /api/v1/orders/guest
func (h *OrderHandler) PlaceGuest(c *fiber.Ctx) error {
	var req guestPlaceRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "body")
	}
	o, err := h.Order.PlaceForGuest(c.UserContext(), principal(c), req.GuestInfo, req.Shipping)
	if err != nil {
		return fail(c, "order.place.fail", err, map[string]any{"guest": true})
	}
	applog.Audit(c, "order.place", map[string]any{"order_id": o.ID, "total": o.TotalAmount.String(), "guest": true})
	return created(c, o, "order placed")
}

// GET /api/v1/orders/:id
func (h *OrderHandler) View(c *fiber.Ctx) error {
	oid := c.Params("id")
	o, err := h.Order.Get(c.UserContext(), principal(c), oid)
	if err != nil {
		return fail(c, "access.denied.order", err, map[string]any{"order_id": oid})
	}
	return ok(c, o, "")
}

// GET /api/v1/orders
func (h *OrderHandler) History(c *fiber.Ctx) error {
	orders, err := h.Order.ListMine(c.UserContext(), principal(c))
	if err != nil {
		return fail(c, "orders.history.fail", err, nil)
	}
	return ok(c, orders, "")
}

// GET /api/v1/orders/:id/payments
func (h *OrderHandler) ListPayments(c *fiber.Ctx) error {
	oid := c.Params("id")
	list, err := h.Payments.List(c.UserContext(), principal(c), oid)
	if err != nil {
		return fail(c, "order.payments.fail", err, map[string]any{"order_id": oid})
	}
	return ok(c, list, "")
}
