package gateway

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"retrocart/internal/domain"
	applog "retrocart/internal/log"
)

// Sandbox is an in-process provider used in development and tests. It serves
// its own hosted checkout page under /sandbox/checkout/:ref.
type Sandbox struct {
	baseURL string

	mu       sync.Mutex
	sessions map[string]*sandboxSession
	byKey    map[string]string
	failNext error
}

type sandboxSession struct {
	req    CheckoutRequest
	status domain.PaymentStatus
}

func NewSandbox(baseURL string) *Sandbox {
	return &Sandbox{
		baseURL:  strings.TrimRight(baseURL, "/"),
		sessions: map[string]*sandboxSession{},
		byKey:    map[string]string{},
	}
}

func (s *Sandbox) Name() string { return "sandbox" }

func (s *Sandbox) CreateCheckout(ctx context.Context, req CheckoutRequest) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNext; err != nil {
		s.failNext = nil
		return Session{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ref, ok := s.byKey[req.IdempotencyKey]; ok {
		return s.session(ref), nil
	}
	ref := "sbx_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	s.sessions[ref] = &sandboxSession{req: req, status: domain.PaymentPending}
	s.byKey[req.IdempotencyKey] = ref
	applog.L().Info("sandbox.checkout.created", zap.String("ref", ref), zap.String("order_id", req.OrderID))
	return s.session(ref), nil
}

func (s *Sandbox) session(ref string) Session {
	return Session{Ref: ref, CheckoutURL: s.baseURL + "/sandbox/checkout/" + ref}
}

func (s *Sandbox) Status(ctx context.Context, ref string) (domain.PaymentStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, ok := s.sessions[ref]
	if !ok {
		return "", ErrUnknownSession
	}
	return ss.status, nil
}

// Settle finishes a pending session; settled sessions do not change again.
func (s *Sandbox) Settle(ref string, st domain.PaymentStatus) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, ok := s.sessions[ref]
	if !ok {
		return "", ErrUnknownSession
	}
	if ss.status == domain.PaymentPending {
		ss.status = st
	}
	return ss.req.CallbackURL, nil
}

// Charges counts distinct checkout sessions, i.e. what the shopper could be billed for.
func (s *Sandbox) Charges() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// FailNext makes the next CreateCheckout fail with err.
func (s *Sandbox) FailNext(err error) {
	s.mu.Lock()
	s.failNext = err
	s.mu.Unlock()
}

// Register mounts the hosted checkout page.
func (s *Sandbox) Register(r fiber.Router) {
	r.Get("/sandbox/checkout/:ref", s.page)
	r.Post("/sandbox/checkout/:ref", s.complete)
}

func (s *Sandbox) page(c *fiber.Ctx) error {
	ref := c.Params("ref")
	s.mu.Lock()
	ss, ok := s.sessions[ref]
	s.mu.Unlock()
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "unknown checkout session")
	}
	ref = html.EscapeString(ref)
	c.Type("html")
	return c.SendString(fmt.Sprintf(`<!doctype html><title>Sandbox checkout</title>
<h1>Pay %s for order %s</h1>
<form method="post" action="/sandbox/checkout/%s?outcome=success"><button>Pay</button></form>
<form method="post" action="/sandbox/checkout/%s?outcome=failed"><button>Decline</button></form>
<form method="post" action="/sandbox/checkout/%s?outcome=cancelled"><button>Cancel</button></form>`,
		html.EscapeString(ss.req.Amount.StringFixed(2)), html.EscapeString(ss.req.OrderID), ref, ref, ref))
}

func (s *Sandbox) complete(c *fiber.Ctx) error {
	var st domain.PaymentStatus
	switch c.Query("outcome") {
	case "success":
		st = domain.PaymentSuccess
	case "failed":
		st = domain.PaymentFailed
	case "cancelled":
		st = domain.PaymentCancelled
	default:
		return fiber.NewError(fiber.StatusBadRequest, "unknown outcome")
	}
	cb, err := s.Settle(c.Params("ref"), st)
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, "unknown checkout session")
	}
	return c.Redirect(CallbackWithStatus(cb, st), fiber.StatusSeeOther)
}

// CallbackWithStatus appends the return markers a provider adds to the callback URL.
func CallbackWithStatus(callback string, st domain.PaymentStatus) string {
	u, err := url.Parse(callback)
	if err != nil {
		return callback
	}
	q := u.Query()
	q.Set("verify", "true")
	q.Set("status", strings.ToLower(string(st)))
	u.RawQuery = q.Encode()
	return u.String()
}
