package handlers

import (
	"github.com/gofiber/fiber/v2"

	applog "retrocart/internal/log"
	"retrocart/internal/services"
)

type PaymentHandler struct {
	Payments *services.PaymentService
}

type initiateRequest struct {
	OrderID        string `json:"orderId"`
	IdempotencyKey string `json:"idempotencyKey"`
	CallbackURL    string `json:"callbackUrl"`
}

// POST /api/v1/payments/initiate and /api/v1/payments/guest/initiate
func (h *PaymentHandler) Initiate(c *fiber.Ctx) error {
	var req initiateRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "body")
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.Get("Idempotency-Key")
	}
	res, err := h.Payments.Initiate(c.UserContext(), principal(c), req.OrderID, req.IdempotencyKey, req.CallbackURL)
	if err != nil {
		return fail(c, "payment.initiate.fail", err, map[string]any{"order_id": req.OrderID})
	}
	applog.Audit(c, "payment.initiate", map[string]any{
		"order_id":   req.OrderID,
		"payment_id": res.PaymentID,
		"replayed":   res.Replayed,
	})
	return ok(c, res, "redirecting to payment")
}

// POST /api/v1/payments/:id/verify
func (h *PaymentHandler) Verify(c *fiber.Ctx) error {
	pid := c.Params("id")
	res, err := h.Payments.Verify(c.UserContext(), principal(c), pid)
	if err != nil {
		return fail(c, "payment.verify.fail", err, map[string]any{"payment_id": pid})
	}
	applog.Info(c, "payment.verify", map[string]any{"payment_id": pid, "status": string(res.Payment.Status)})
	return ok(c, res, "")
}
