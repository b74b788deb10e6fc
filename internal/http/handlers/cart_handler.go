package handlers

import (
	"github.com/gofiber/fiber/v2"

	applog "retrocart/internal/log"
	"retrocart/internal/services"
)

type CartHandler struct {
	Cart *services.CartService
}

type cartItemRequest struct {
	ProductID       string            `json:"productId"`
	Quantity        int               `json:"quantity"`
	ItemKey         string            `json:"itemKey"`
	SelectedOptions map[string]string `json:"selectedOptions"`
}

// GET /api/v1/cart
func (h *CartHandler) View(c *fiber.Ctx) error {
	cv, err := h.Cart.View(c.UserContext(), principal(c).SessionID)
	if err != nil {
		return fail(c, "cart.view.fail", err, nil)
	}
	return ok(c, cv, "")
}

// POST /api/v1/cart/items
func (h *CartHandler) Add(c *fiber.Ctx) error {
	var req cartItemRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "body")
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	cv, err := h.Cart.Add(c.UserContext(), principal(c).SessionID, req.ProductID, req.Quantity, req.SelectedOptions)
	if err != nil {
		return fail(c, "cart.add.fail", err, map[string]any{"product": req.ProductID})
	}
	applog.Info(c, "cart.add", map[string]any{"product": req.ProductID, "qty": req.Quantity})
	return ok(c, cv, "added to cart")
}

// PATCH /api/v1/cart/items
func (h *CartHandler) Update(c *fiber.Ctx) error {
	var req cartItemRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "body")
	}
	cv, err := h.Cart.UpdateQuantity(c.UserContext(), principal(c).SessionID, req.ProductID, req.Quantity, req.ItemKey, req.SelectedOptions)
	if err != nil {
		return fail(c, "cart.update.fail", err, map[string]any{"product": req.ProductID, "item": req.ItemKey})
	}
	return ok(c, cv, "cart updated")
}

// DELETE /api/v1/cart/items?productId=..&itemKey=..
func (h *CartHandler) Remove(c *fiber.Ctx) error {
	productID := c.Query("productId")
	if productID == "" {
		return badRequest(c, "productId")
	}
	cv, err := h.Cart.Remove(c.UserContext(), principal(c).SessionID, productID, c.Query("itemKey"))
	if err != nil {
		return fail(c, "cart.remove.fail", err, map[string]any{"product": productID})
	}
	return ok(c, cv, "removed from cart")
}
