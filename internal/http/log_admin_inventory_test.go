package handlers_test

import (
	"net/http"
	"testing"

	"retrocart/internal/http/handlers"
)

func TestAdminInventoryLogs(t *testing.T) {
	h := newHarness(t, handlers.Options{})
	admin := h.as(t, "u-admin")

	st, env := admin.do(t, http.MethodPut, "/api/v1/admin/inventory/snes-001", map[string]int{"stockQuantity": 11})
	if st != http.StatusOK {
		t.Fatalf("save: %d %s", st, env.Message)
	}
	var rec struct {
		StockQuantity     int `json:"stockQuantity"`
		AvailableQuantity int `json:"availableQuantity"`
	}
	env.decode(t, &rec)
	if rec.StockQuantity != 11 || rec.AvailableQuantity != 11 {
		t.Fatalf("record %+v", rec)
	}

	saves := h.logged("admin.inventory.save")
	if len(saves) != 1 {
		t.Fatalf("expected one save entry, got %d", len(saves))
	}
	f := fieldsOf(saves[0])
	if f["product"] != "snes-001" || f["qty"] != 11 {
		t.Fatalf("fields %v", f)
	}
	if saves[0].ContextMap()["audit"] != true {
		t.Fatal("save is not an audit entry")
	}

	if st, _ := admin.do(t, http.MethodPut, "/api/v1/admin/inventory/zzz-404", map[string]int{"stockQuantity": 1}); st != http.StatusNotFound {
		t.Fatalf("unknown product: %d", st)
	}
	if len(h.logged("admin.inventory.save.fail")) != 1 {
		t.Fatal("failed save not logged")
	}
}
