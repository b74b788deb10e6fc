package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"retrocart/internal/domain"
	applog "retrocart/internal/log"
)

// HTTPGateway calls a hosted provider over its REST API.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	timeout time.Duration
}

func NewHTTPGateway(baseURL, apiKey string, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPGateway{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, timeout: timeout}
}

func (g *HTTPGateway) Name() string { return "http" }

type checkoutBody struct {
	Reference   string `json:"reference"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	CallbackURL string `json:"callback_url"`
}

func (g *HTTPGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	a := fiber.Post(g.baseURL + "/v1/checkouts")
	a.Set("Idempotency-Key", req.IdempotencyKey)
	a.Set(fiber.HeaderAuthorization, "Bearer "+g.apiKey)
	a.Timeout(g.timeout)
	a.JSON(checkoutBody{
		Reference:   req.OrderID,
		Amount:      req.Amount.StringFixed(2),
		Currency:    "USD",
		CallbackURL: req.CallbackURL,
	})
	if err := a.Parse(); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var s Session
	code, _, errs := a.Struct(&s)
	if len(errs) > 0 {
		applog.L().Warn("gateway.checkout.fail", zap.String("order_id", req.OrderID), zap.Errors("errors", errs))
		return Session{}, fmt.Errorf("%w: %v", ErrUnavailable, errs[0])
	}
	if code >= 300 || s.Ref == "" || s.CheckoutURL == "" {
		return Session{}, fmt.Errorf("%w: status %d", ErrUnavailable, code)
	}
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	return s, nil
}

func (g *HTTPGateway) Status(ctx context.Context, ref string) (domain.PaymentStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	a := fiber.Get(g.baseURL + "/v1/checkouts/" + ref)
	a.Set(fiber.HeaderAuthorization, "Bearer "+g.apiKey)
	a.Timeout(g.timeout)
	if err := a.Parse(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	code, raw, errs := a.Bytes()
	switch {
	case len(errs) > 0:
		return "", fmt.Errorf("%w: %v", ErrUnavailable, errs[0])
	case code == fiber.StatusNotFound:
		return "", ErrUnknownSession
	case code >= 300:
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, code)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	st, ok := ParseStatus(body.Status)
	if !ok {
		return "", fmt.Errorf("%w: unexpected status %q", ErrUnavailable, body.Status)
	}
	return st, nil
}
