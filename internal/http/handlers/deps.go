package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/jmoiron/sqlx"

	"retrocart/internal/config"
	"retrocart/internal/events"
	"retrocart/internal/gateway"
	"retrocart/internal/idempotency"
	applog "retrocart/internal/log"
	"retrocart/internal/metrics"
	"retrocart/internal/repos"
	"retrocart/internal/services"
)

// Options carries the pluggable collaborators. Zero values fall back to the
// in-process sandbox gateway, a memory locker, no events and unregistered metrics.
type Options struct {
	Gateway   gateway.Gateway
	Locker    idempotency.Locker
	Publisher events.Publisher
	Metrics   *metrics.Metrics

	GlobalLimit    int // requests per minute per client
	LoginLimit     int // attempts per 10 minutes
	InventoryLimit int // batch lookups per 30 seconds
}

type Deps struct {
	Auth      *services.AuthService
	Inventory *services.InventoryService
	Cart      *services.CartService
	Orders    *services.OrderService
	Payments  *services.PaymentService
	Status    *services.StatusService
	Gateway   gateway.Gateway

	AuthHandler      *AuthHandler
	InventoryHandler *InventoryHandler
	CartHandler      *CartHandler
	OrderHandler     *OrderHandler
	PaymentHandler   *PaymentHandler
	AdminHandler     *AdminHandler

	opts Options
}

func NewDeps(db *sqlx.DB, cfg config.Config, opts Options) *Deps {
	if opts.Gateway == nil {
		opts.Gateway = gateway.NewSandbox(cfg.PublicBaseURL)
	}
	if opts.Locker == nil {
		opts.Locker = idempotency.NewMemoryLocker()
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	if opts.GlobalLimit == 0 {
		opts.GlobalLimit = 120
	}
	if opts.LoginLimit == 0 {
		opts.LoginLimit = 5
	}
	if opts.InventoryLimit == 0 {
		opts.InventoryLimit = 30
	}

	userRepo := repos.NewUserRepo(db)
	authSvc := &services.AuthService{Users: userRepo}
	invSvc := services.NewInventoryService(repos.NewInventoryRepo(db), repos.NewProductRepo(db))
	cartSvc := services.NewCartService(db, opts.Metrics)
	orderSvc := services.NewOrderService(db, authSvc, opts.Publisher, opts.Metrics)
	paySvc := services.NewPaymentService(db, orderSvc, opts.Gateway, opts.Locker, opts.Publisher, opts.Metrics, cfg.PublicBaseURL)
	statusSvc := services.NewStatusService(db, authSvc, opts.Publisher, opts.Metrics)

	return &Deps{
		Auth:      authSvc,
		Inventory: invSvc,
		Cart:      cartSvc,
		Orders:    orderSvc,
		Payments:  paySvc,
		Status:    statusSvc,
		Gateway:   opts.Gateway,

		AuthHandler:      &AuthHandler{Auth: authSvc},
		InventoryHandler: &InventoryHandler{Inv: invSvc},
		CartHandler:      &CartHandler{Cart: cartSvc},
		OrderHandler:     &OrderHandler{Order: orderSvc, Payments: paySvc},
		PaymentHandler:   &PaymentHandler{Payments: paySvc},
		AdminHandler:     &AdminHandler{DB: db, Orders: orderSvc, Status: statusSvc, Inv: invSvc, Users: userRepo},
		opts:             opts,
	}
}

// Mount registers the JSON API under /api/v1 and, in sandbox mode, the
// hosted checkout pages.
func (d *Deps) Mount(app fiber.Router) {
	if sb, ok := d.Gateway.(*gateway.Sandbox); ok {
		sb.Register(app)
	}

	api := app.Group("/api/v1", Session(d.Auth))

	loginLimiter := limiter.New(limiter.Config{
		Max:        d.opts.LoginLimit,
		Expiration: 10 * time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			applog.Security(c, "rate.login.hit", nil)
			return reject(c, fiber.StatusTooManyRequests, "", "Too many attempts. Please try again later.")
		},
	})
	api.Post("/auth/login", loginLimiter, d.AuthHandler.Login)
	api.Post("/auth/logout", d.AuthHandler.Logout)
	api.Get("/auth/me", d.AuthHandler.Me)

	invLimiter := limiter.New(limiter.Config{
		Max:        d.opts.InventoryLimit,
		Expiration: 30 * time.Second,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP() + "|inventory"
		},
		LimitReached: func(c *fiber.Ctx) error {
			applog.Security(c, "rate.inventory.hit", nil)
			return reject(c, fiber.StatusTooManyRequests, "", "rate limit exceeded, retry soon")
		},
	})
	api.Get("/inventory", invLimiter, d.InventoryHandler.Batch)
	api.Get("/inventory/:productId", d.InventoryHandler.Get)
	api.Get("/availability", invLimiter, d.InventoryHandler.Check)

	api.Get("/cart", d.CartHandler.View)
	api.Post("/cart/items", d.CartHandler.Add)
	api.Patch("/cart/items", d.CartHandler.Update)
	api.Delete("/cart/items", d.CartHandler.Remove)

	api.Post("/orders", RequireUser(), d.OrderHandler.Place)
	api.Post("/orders/guest", d.OrderHandler.PlaceGuest)
	api.Get("/orders", d.OrderHandler.History)
	api.Get("/orders/:id", d.OrderHandler.View)
	api.Get("/orders/:id/payments", d.OrderHandler.ListPayments)

	api.Post("/payments/initiate", RequireUser(), d.PaymentHandler.Initiate)
	api.Post("/payments/guest/initiate", d.PaymentHandler.Initiate)
	api.Post("/payments/:id/verify", d.PaymentHandler.Verify)

	admin := api.Group("/admin", RequireOperator(d.Auth))
	admin.Get("/orders", d.AdminHandler.OrdersPage)
	admin.Get("/orders/:id/actions", d.AdminHandler.Actions)
	admin.Get("/orders/:id/history", d.AdminHandler.History)
	admin.Post("/orders/:id/status", d.AdminHandler.UpdateOrderStatus)
	admin.Post("/orders/:id/fulfill", d.AdminHandler.Fulfill)
	admin.Post("/orders/:id/deliver", d.AdminHandler.Deliver)
	admin.Get("/inventory", d.AdminHandler.Inventory)

	root := admin.Group("", RequireAdmin(d.Auth))
	root.Put("/inventory/:productId", d.AdminHandler.UpdateInventory)
	root.Get("/users", d.AdminHandler.UsersPage)
	root.Post("/users/:id/roles", d.AdminHandler.GrantRole)
	root.Delete("/users/:id/roles/:role", d.AdminHandler.RevokeRole)
	root.Delete("/users/:id", d.AdminHandler.DeleteUser)
}
