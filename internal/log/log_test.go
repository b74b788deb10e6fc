package log

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	prev := L()
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(prev) })
	return logs
}

func TestRequestScopedEntries(t *testing.T) {
	logs := observe(t)

	app := fiber.New()
	app.Use(requestid.New())
	app.Get("/x", func(c *fiber.Ctx) error {
		Audit(c, "order.place", map[string]any{"order_id": "o-1"})
		Error(c, "payment.verify.fail", errors.New("boom"), nil)
		return c.SendStatus(fiber.StatusNoContent)
	})
	if _, err := app.Test(httptest.NewRequest("GET", "/x", nil)); err != nil {
		t.Fatal(err)
	}

	audit := logs.FilterMessage("order.place").All()
	if len(audit) != 1 {
		t.Fatalf("want 1 audit entry, got %d", len(audit))
	}
	ctx := audit[0].ContextMap()
	if ctx["audit"] != true || ctx["path"] != "/x" || ctx["req_id"] == "" {
		t.Fatalf("missing request fields: %v", ctx)
	}
	fields, _ := ctx["fields"].(map[string]any)
	if fields["order_id"] != "o-1" {
		t.Fatalf("fields not attached: %v", ctx["fields"])
	}

	errs := logs.FilterMessage("payment.verify.fail").All()
	if len(errs) != 1 || errs[0].Level != zapcore.ErrorLevel || errs[0].ContextMap()["error"] != "boom" {
		t.Fatalf("error entry wrong: %+v", errs)
	}
}

func TestNilContextIsAllowed(t *testing.T) {
	logs := observe(t)
	Security(nil, "rate.login.hit", nil)
	if logs.FilterMessage("rate.login.hit").Len() != 1 {
		t.Fatal("expected entry without request context")
	}
}
