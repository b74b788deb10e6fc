package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"retrocart/internal/domain"
	"retrocart/internal/services"
)

type InventoryHandler struct {
	Inv *services.InventoryService
}

type stockView struct {
	domain.StockRecord
	Band domain.Band `json:"band"`
}

// GET /api/v1/inventory/:productId
func (h *InventoryHandler) Get(c *fiber.Ctx) error {
	rec, err := h.Inv.Get(c.UserContext(), c.Params("productId"))
	if err != nil {
		return fail(c, "inventory.get.fail", err, map[string]any{"product": c.Params("productId")})
	}
	return ok(c, stockView{StockRecord: rec, Band: rec.Band()}, "")
}

// GET /api/v1/inventory?ids=a,b,c
func (h *InventoryHandler) Batch(c *fiber.Ctx) error {
	raw := strings.TrimSpace(c.Query("ids"))
	if raw == "" {
		return badRequest(c, "ids")
	}
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	recs, err := h.Inv.Batch(c.UserContext(), ids)
	if err != nil {
		return fail(c, "inventory.batch.fail", err, map[string]any{"count": len(ids)})
	}
	out := make(map[string]stockView, len(recs))
	for id, rec := range recs {
		out[id] = stockView{StockRecord: rec, Band: rec.Band()}
	}
	return ok(c, out, "")
}

// GET /api/v1/availability?productId=..
func (h *InventoryHandler) Check(c *fiber.Ctx) error {
	productID := strings.TrimSpace(c.Query("productId"))
	if productID == "" {
		return badRequest(c, "productId")
	}
	avail, err := h.Inv.CheckAvailability(c.UserContext(), productID)
	if err != nil {
		return fail(c, "inventory.check.fail", err, nil)
	}
	return ok(c, avail, "")
}

