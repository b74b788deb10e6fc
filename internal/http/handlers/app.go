package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	applog "retrocart/internal/log"
	"retrocart/internal/services"
)

const maxBody = 1 << 20 // 1 MiB

// NewApp builds the fiber app with the shared middleware chain and every
// route mounted. metricsHandler, when set, is exposed at /metrics.
func NewApp(d *Deps, metricsHandler http.Handler, extra ...fiber.Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: ErrorHandler,
		BodyLimit:    maxBody,
	})

	app.Use(requestid.New())
	for _, h := range extra {
		app.Use(h)
	}
	app.Use(helmet.New())
	app.Use(limiter.New(limiter.Config{
		Max:        d.opts.GlobalLimit,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			p := c.Path()
			return p == "/healthz" || p == "/metrics"
		},
		LimitReached: func(c *fiber.Ctx) error {
			applog.Security(c, "rate.global.hit", nil)
			return reject(c, fiber.StatusTooManyRequests, "", "rate limit exceeded, retry soon")
		},
	}))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return ok(c, fiber.Map{"gateway": d.Gateway.Name()}, "ok")
	})
	if metricsHandler != nil {
		app.Get("/metrics", adaptor.HTTPHandler(metricsHandler))
	}

	d.Mount(app)

	app.Use(func(c *fiber.Ctx) error {
		applog.Info(c, "route.notfound", nil)
		return reject(c, fiber.StatusNotFound, services.CodeNotFound, "not found")
	})
	return app
}
