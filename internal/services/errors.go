package services

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes shared with API clients through the envelope's errorCode.
const (
	CodeInsufficientStock   = "INSUFFICIENT_STOCK"
	CodeEmptyCart           = "EMPTY_CART"
	CodeValidation          = "VALIDATION_FAILED"
	CodeNotFound            = "NOT_FOUND"
	CodeInvalidTransition   = "INVALID_TRANSITION"
	CodeForbidden           = "FORBIDDEN"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeIdempotencyConflict = "IDEMPOTENCY_CONFLICT"
	CodeOrderAlreadyPaid    = "ORDER_ALREADY_PAID"
	CodeOrderNotPayable     = "ORDER_NOT_PAYABLE"
	CodeGatewayUnavailable  = "GATEWAY_UNAVAILABLE"
	CodeUseDedicatedAction  = "USE_DEDICATED_ACTION"
)

var ErrBadCreds = errors.New("invalid email or password")

// Error is a business failure that is safe to show to the caller.
type Error struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on code so callers can write errors.Is(err, services.ErrInsufficientStock).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newError(status int, code, msg string) *Error {
	return &Error{Code: code, Message: msg, Status: status}
}

// Sentinels for errors.Is; the returned errors carry more specific messages.
var (
	ErrInsufficientStock = newError(http.StatusConflict, CodeInsufficientStock, "not enough stock")
	ErrEmptyCart         = newError(http.StatusBadRequest, CodeEmptyCart, "your cart is empty")
	ErrNotFound          = newError(http.StatusNotFound, CodeNotFound, "not found")
	ErrForbidden         = newError(http.StatusForbidden, CodeForbidden, "you are not allowed to do that")
	ErrUnauthorized      = newError(http.StatusUnauthorized, CodeUnauthorized, "please sign in")
	ErrInvalidTransition = newError(http.StatusConflict, CodeInvalidTransition, "status change not allowed")
)

func validationError(msg string) *Error {
	return newError(http.StatusBadRequest, CodeValidation, msg)
}

func insufficientStock(productID string, available int) *Error {
	if available < 0 {
		available = 0
	}
	return newError(http.StatusConflict, CodeInsufficientStock,
		fmt.Sprintf("only %d left in stock for %s", available, productID))
}

func notFound(what string) *Error {
	return newError(http.StatusNotFound, CodeNotFound, what+" not found")
}

func gatewayUnavailable(err error) *Error {
	e := newError(http.StatusBadGateway, CodeGatewayUnavailable, "the payment provider is unavailable, please try again")
	e.Err = err
	return e
}
