package storefront

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrEmptyCart is returned before any call when checkout starts from an empty cart.
	ErrEmptyCart = errors.New("storefront: cart is empty")
	// ErrLinePending means another mutation of the same cart line is in flight.
	ErrLinePending = errors.New("storefront: cart line is being updated")
	// ErrNotOffered is returned when an operator asks for a move the local gating does not offer.
	ErrNotOffered = errors.New("storefront: transition not offered")
	// ErrNothingToPay means the order has no payable state for the requested action.
	ErrNothingToPay = errors.New("storefront: no payment action available")
)

// ValidationError is raised locally, before any network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// ApiError is any failed API call. HTTPStatus is 0 when no response arrived.
type ApiError struct {
	HTTPStatus int
	Message    string
	Code       string
	Err        error
}

func (e *ApiError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("api: %v", e.Err)
	case e.Code != "":
		return fmt.Sprintf("api: %d %s: %s", e.HTTPStatus, e.Code, e.Message)
	default:
		return fmt.Sprintf("api: %d: %s", e.HTTPStatus, e.Message)
	}
}

func (e *ApiError) Unwrap() error { return e.Err }

// VerificationError means the verify call itself failed. It says nothing
// about whether the payment succeeded.
type VerificationError struct {
	PaymentID string
	Err       error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verify payment %s: %v", e.PaymentID, e.Err)
}

func (e *VerificationError) Unwrap() error { return e.Err }

var codeMessages = map[string]string{
	"INSUFFICIENT_STOCK":   "Sorry, there is not enough stock for that quantity.",
	"EMPTY_CART":           "Your cart is empty.",
	"IDEMPOTENCY_CONFLICT": "This payment is already being processed.",
	"ORDER_ALREADY_PAID":   "This order has already been paid.",
	"ORDER_NOT_PAYABLE":    "This order can no longer be paid.",
	"GATEWAY_UNAVAILABLE":  "The payment provider is unavailable. Please try again shortly.",
	"NOT_FOUND":            "We could not find that item.",
	"UNAUTHORIZED":         "Please sign in to continue.",
	"FORBIDDEN":            "You are not allowed to do that.",
	"INVALID_TRANSITION":   "That status change is not possible any more.",
}

// UserMessage turns any storefront error into a short message for the shopper.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Message
	}
	var vfe *VerificationError
	if errors.As(err, &vfe) {
		return "We could not check your payment status. Please try again."
	}
	switch {
	case errors.Is(err, ErrEmptyCart):
		return "Your cart is empty."
	case errors.Is(err, ErrLinePending):
		return "Please wait for the previous update to finish."
	}
	var ae *ApiError
	if errors.As(err, &ae) {
		if msg, ok := codeMessages[ae.Code]; ok {
			return msg
		}
		if ae.HTTPStatus >= http.StatusBadRequest && ae.HTTPStatus < http.StatusInternalServerError && ae.Message != "" {
			return ae.Message
		}
	}
	return "Something went wrong. Please try again."
}

// IsCode reports whether err is an ApiError with the given errorCode.
func IsCode(err error, code string) bool {
	var ae *ApiError
	return errors.As(err, &ae) && ae.Code == code
}
