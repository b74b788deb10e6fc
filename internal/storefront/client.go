// Package storefront holds the shopper and operator side of checkout: stock
// banding, the cart mirror, order placement and the payment handshake.
package storefront

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"retrocart/internal/domain"
	applog "retrocart/internal/log"
)

// Checkout is the result of opening a payment attempt.
type Checkout struct {
	PaymentID   string `json:"paymentId"`
	CheckoutURL string `json:"checkoutUrl"`
	Replayed    bool   `json:"replayed"`
}

// Verification is a verified payment together with its refreshed order.
type Verification struct {
	Payment domain.Payment `json:"payment"`
	Order   domain.Order   `json:"order"`
}

type InitiateRequest struct {
	OrderID        string `json:"orderId"`
	IdempotencyKey string `json:"idempotencyKey"`
	CallbackURL    string `json:"callbackUrl"`
}

// API is the slice of the server the storefront consumes.
type API interface {
	Cart(ctx context.Context) (domain.Cart, error)
	AddItem(ctx context.Context, productID string, qty int, options map[string]string) (domain.Cart, error)
	UpdateItem(ctx context.Context, productID string, qty int, itemKey string, options map[string]string) (domain.Cart, error)
	RemoveItem(ctx context.Context, productID, itemKey string) (domain.Cart, error)

	Stock(ctx context.Context, productID string) (domain.StockRecord, error)
	StockBatch(ctx context.Context, ids []string) (map[string]domain.StockRecord, error)

	PlaceOrder(ctx context.Context, ship domain.ShippingInfo) (domain.Order, error)
	PlaceGuestOrder(ctx context.Context, guest domain.GuestInfo, ship domain.ShippingInfo) (domain.Order, error)
	Order(ctx context.Context, id string) (domain.Order, error)
	Payments(ctx context.Context, orderID string) ([]domain.Payment, error)

	InitiatePayment(ctx context.Context, req InitiateRequest, guest bool) (Checkout, error)
	VerifyPayment(ctx context.Context, paymentID string) (Verification, error)
}

// OperatorAPI is what admin tooling calls on top of the shopper API.
type OperatorAPI interface {
	OrderActions(ctx context.Context, orderID string) (OrderActions, error)
	SetStatus(ctx context.Context, orderID string, to domain.OrderStatus) (domain.Order, error)
	Fulfill(ctx context.Context, orderID, trackingRef string) (domain.Order, error)
	Deliver(ctx context.Context, orderID string) (domain.Order, error)
}

// OrderActions mirrors the server's view of what an operator may do next.
type OrderActions struct {
	OrderID      string              `json:"orderId"`
	Status       domain.OrderStatus  `json:"status"`
	Capabilities domain.Capabilities `json:"capabilities"`
	domain.Actions
}

// Client talks to the JSON API. Each client is one browser-like session:
// it mints its own sid cookie and sends it on every call.
type Client struct {
	baseURL string
	sid     string
	timeout time.Duration
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/") + "/api/v1",
		sid:     uuid.NewString(),
		timeout: timeout,
	}
}

// SessionID is the cookie value the server keys carts and guest orders on.
func (c *Client) SessionID() string { return c.sid }

type envelope struct {
	Status    bool            `json:"status"`
	Data      json.RawMessage `json:"data"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorCode"`
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var a *fiber.Agent
	uri := c.baseURL + path
	switch method {
	case fiber.MethodPost:
		a = fiber.Post(uri)
	case fiber.MethodPatch:
		a = fiber.Patch(uri)
	case fiber.MethodPut:
		a = fiber.Put(uri)
	case fiber.MethodDelete:
		a = fiber.Delete(uri)
	default:
		a = fiber.Get(uri)
	}
	a.Cookie("sid", c.sid)
	a.Timeout(c.timeout)
	if body != nil {
		a.JSON(body)
	}
	if err := a.Parse(); err != nil {
		return &ApiError{Err: err}
	}

	code, raw, errs := a.Bytes()
	if len(errs) > 0 {
		applog.L().Warn("storefront.call.fail", zap.String("method", method), zap.String("path", path), zap.Errors("errors", errs))
		return &ApiError{Err: errs[0]}
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &ApiError{HTTPStatus: code, Message: "unreadable response", Err: err}
	}
	if code >= fiber.StatusBadRequest || !env.Status {
		return &ApiError{HTTPStatus: code, Message: env.Message, Code: env.ErrorCode}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &ApiError{HTTPStatus: code, Message: "unreadable response", Err: err}
	}
	return nil
}

// Login binds this client's session to a user.
func (c *Client) Login(ctx context.Context, email, password string) (*domain.User, error) {
	var me struct {
		User *domain.User `json:"user"`
	}
	err := c.call(ctx, fiber.MethodPost, "/auth/login", map[string]string{"email": email, "password": password}, &me)
	return me.User, err
}

func (c *Client) Cart(ctx context.Context) (domain.Cart, error) {
	var cart domain.Cart
	err := c.call(ctx, fiber.MethodGet, "/cart", nil, &cart)
	return cart, err
}

type cartItemBody struct {
	ProductID       string            `json:"productId"`
	Quantity        int               `json:"quantity"`
	ItemKey         string            `json:"itemKey,omitempty"`
	SelectedOptions map[string]string `json:"selectedOptions,omitempty"`
}

func (c *Client) AddItem(ctx context.Context, productID string, qty int, options map[string]string) (domain.Cart, error) {
	var cart domain.Cart
	err := c.call(ctx, fiber.MethodPost, "/cart/items", cartItemBody{ProductID: productID, Quantity: qty, SelectedOptions: options}, &cart)
	return cart, err
}

func (c *Client) UpdateItem(ctx context.Context, productID string, qty int, itemKey string, options map[string]string) (domain.Cart, error) {
	var cart domain.Cart
	err := c.call(ctx, fiber.MethodPatch, "/cart/items", cartItemBody{ProductID: productID, Quantity: qty, ItemKey: itemKey, SelectedOptions: options}, &cart)
	return cart, err
}

func (c *Client) RemoveItem(ctx context.Context, productID, itemKey string) (domain.Cart, error) {
	q := url.Values{}
	q.Set("productId", productID)
	if itemKey != "" {
		q.Set("itemKey", itemKey)
	}
	var cart domain.Cart
	err := c.call(ctx, fiber.MethodDelete, "/cart/items?"+q.Encode(), nil, &cart)
	return cart, err
}

func (c *Client) Stock(ctx context.Context, productID string) (domain.StockRecord, error) {
	var rec domain.StockRecord
	err := c.call(ctx, fiber.MethodGet, "/inventory/"+url.PathEscape(productID), nil, &rec)
	return rec, err
}

func (c *Client) StockBatch(ctx context.Context, ids []string) (map[string]domain.StockRecord, error) {
	out := map[string]domain.StockRecord{}
	err := c.call(ctx, fiber.MethodGet, "/inventory?ids="+url.QueryEscape(strings.Join(ids, ",")), nil, &out)
	return out, err
}

func (c *Client) PlaceOrder(ctx context.Context, ship domain.ShippingInfo) (domain.Order, error) {
	var o domain.Order
	err := c.call(ctx, fiber.MethodPost, "/orders", map[string]any{"shipping": ship}, &o)
	return o, err
}

func (c *Client) PlaceGuestOrder(ctx context.Context, guest domain.GuestInfo, ship domain.ShippingInfo) (domain.Order, error) {
	body := struct {
		domain.GuestInfo
		Shipping domain.ShippingInfo `json:"shipping"`
	}{guest, ship}
	var o domain.Order
	err := c.call(ctx, fiber.MethodPost, "/orders/guest", body, &o)
	return o, err
}

func (c *Client) Order(ctx context.Context, id string) (domain.Order, error) {
	var o domain.Order
	err := c.call(ctx, fiber.MethodGet, "/orders/"+url.PathEscape(id), nil, &o)
	return o, err
}

func (c *Client) Payments(ctx context.Context, orderID string) ([]domain.Payment, error) {
	var out []domain.Payment
	err := c.call(ctx, fiber.MethodGet, "/orders/"+url.PathEscape(orderID)+"/payments", nil, &out)
	return out, err
}

func (c *Client) InitiatePayment(ctx context.Context, req InitiateRequest, guest bool) (Checkout, error) {
	path := "/payments/initiate"
	if guest {
		path = "/payments/guest/initiate"
	}
	var co Checkout
	err := c.call(ctx, fiber.MethodPost, path, req, &co)
	return co, err
}

func (c *Client) VerifyPayment(ctx context.Context, paymentID string) (Verification, error) {
	var v Verification
	err := c.call(ctx, fiber.MethodPost, "/payments/"+url.PathEscape(paymentID)+"/verify", nil, &v)
	return v, err
}

func (c *Client) OrderActions(ctx context.Context, orderID string) (OrderActions, error) {
	var acts OrderActions
	err := c.call(ctx, fiber.MethodGet, "/admin/orders/"+url.PathEscape(orderID)+"/actions", nil, &acts)
	return acts, err
}

func (c *Client) SetStatus(ctx context.Context, orderID string, to domain.OrderStatus) (domain.Order, error) {
	var o domain.Order
	err := c.call(ctx, fiber.MethodPost, "/admin/orders/"+url.PathEscape(orderID)+"/status", map[string]string{"status": string(to)}, &o)
	return o, err
}

func (c *Client) Fulfill(ctx context.Context, orderID, trackingRef string) (domain.Order, error) {
	var o domain.Order
	err := c.call(ctx, fiber.MethodPost, "/admin/orders/"+url.PathEscape(orderID)+"/fulfill", map[string]string{"trackingRef": trackingRef}, &o)
	return o, err
}

func (c *Client) Deliver(ctx context.Context, orderID string) (domain.Order, error) {
	var o domain.Order
	err := c.call(ctx, fiber.MethodPost, "/admin/orders/"+url.PathEscape(orderID)+"/deliver", nil, &o)
	return o, err
}
