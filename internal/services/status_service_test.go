package services_test

import (
	"context"
	"errors"
	"testing"

	"retrocart/internal/domain"
	"retrocart/internal/services"
)

func TestStatus_FulfillmentWithoutCancel(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o := e.placeGuestOrder(t, "s1", "gbc-001", 1)
	fran := e.user(t, "u-fran")

	acts, err := e.status.Actions(ctx, fran, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(acts.Transitions) != 1 || acts.Transitions[0] != domain.StatusConfirmed {
		t.Fatalf("want only CONFIRMED offered, got %v", acts.Transitions)
	}
	if acts.Fulfill || acts.Deliver || acts.Capabilities.CanCancelOrders {
		t.Fatalf("unexpected actions %+v", acts)
	}

	// the server re-checks even if a client offers the button anyway
	_, err = e.status.Transition(ctx, fran, o.ID, "CANCELLED")
	wantCode(t, err, services.CodeForbidden)
}

func TestStatus_ShoppersHaveNoActions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o := e.placeGuestOrder(t, "s1", "gbc-001", 1)

	_, err := e.status.Actions(ctx, e.user(t, "u-alice"), o.ID)
	if !errors.Is(err, services.ErrForbidden) {
		t.Fatalf("want ErrForbidden, got %v", err)
	}
	_, err = e.status.Transition(ctx, guest("s1"), o.ID, "CONFIRMED")
	if !errors.Is(err, services.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
}

func TestStatus_Lifecycle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o := e.placeGuestOrder(t, "s1", "gbc-001", 1)
	admin := e.user(t, "u-admin")

	_, err := e.status.Transition(ctx, admin, o.ID, "SHIPPED")
	wantCode(t, err, services.CodeUseDedicatedAction)
	_, err = e.status.Transition(ctx, admin, o.ID, "PROCESSING")
	wantCode(t, err, services.CodeInvalidTransition)
	_, err = e.status.Transition(ctx, admin, o.ID, "LOST")
	wantCode(t, err, services.CodeValidation)
	_, err = e.status.Fulfill(ctx, admin, o.ID, "1Z999")
	wantCode(t, err, services.CodeInvalidTransition)

	for _, to := range []string{"CONFIRMED", "processing"} {
		if _, err := e.status.Transition(ctx, admin, o.ID, to); err != nil {
			t.Fatalf("%s: %v", to, err)
		}
	}
	acts, err := e.status.Actions(ctx, admin, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !acts.Fulfill || acts.Deliver {
		t.Fatalf("PROCESSING offers fulfill only: %+v", acts)
	}

	got, err := e.status.Fulfill(ctx, admin, o.ID, "1Z999")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusShipped || got.TrackingRef != "1Z999" {
		t.Fatalf("unexpected %+v", got)
	}
	got, err = e.status.Deliver(ctx, admin, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusDelivered {
		t.Fatalf("want DELIVERED, got %s", got.Status)
	}
	_, err = e.status.Deliver(ctx, admin, o.ID)
	wantCode(t, err, services.CodeInvalidTransition)

	hist, err := e.orders.History(ctx, admin, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 4 || hist[3].To != "DELIVERED" || hist[0].Actor != "user:u-admin" {
		t.Fatalf("unexpected history %+v", hist)
	}
}

func TestStatus_CancelReleasesReservation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o := e.placeGuestOrder(t, "s1", "radio-001", 2)
	if rec := e.stock(t, "radio-001"); rec.AvailableQuantity != 0 {
		t.Fatalf("radios should be held: %+v", rec)
	}

	if _, err := e.status.Transition(ctx, e.user(t, "u-olly"), o.ID, "CANCELLED"); err != nil {
		t.Fatal(err)
	}
	rec := e.stock(t, "radio-001")
	if rec.ReservedQuantity != 0 || rec.AvailableQuantity != 2 {
		t.Fatalf("cancel should release the hold: %+v", rec)
	}

	// order managers cannot refund
	_, err := e.status.Transition(ctx, e.user(t, "u-olly"), o.ID, "REFUNDED")
	wantCode(t, err, services.CodeForbidden)

	// a cancelled order cannot be paid
	_, err = e.payments.Initiate(ctx, guest("s1"), o.ID, "key-late-00001", callback(o.ID))
	wantCode(t, err, services.CodeOrderNotPayable)
}

func TestStatus_RefundMarksPayment(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o := e.placeGuestOrder(t, "s1", "gbc-001", 1)
	res, err := e.payments.Initiate(ctx, guest("s1"), o.ID, "key-refund-001", callback(o.ID))
	if err != nil {
		t.Fatal(err)
	}
	got, _ := e.orders.Get(ctx, guest("s1"), o.ID)
	if _, err := e.sandbox.Settle(got.CurrentPayment.TransactionRef, domain.PaymentSuccess); err != nil {
		t.Fatal(err)
	}
	if _, err := e.payments.Verify(ctx, guest("s1"), res.PaymentID); err != nil {
		t.Fatal(err)
	}

	sam := e.user(t, "u-sam")
	if _, err := e.status.Transition(ctx, sam, o.ID, "CANCELLED"); err != nil {
		t.Fatal(err)
	}
	got, err = e.status.Transition(ctx, sam, o.ID, "REFUNDED")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusRefunded || got.PaymentStatus != domain.OrderRefunded {
		t.Fatalf("unexpected order %+v", got)
	}
	if got.CurrentPayment == nil || got.CurrentPayment.Status != domain.PaymentRefunded {
		t.Fatalf("payment should be refunded: %+v", got.CurrentPayment)
	}
	// paid stock was sold, cancelling afterwards does not return it
	if rec := e.stock(t, "gbc-001"); rec.StockQuantity != 7 || rec.ReservedQuantity != 0 {
		t.Fatalf("unexpected stock %+v", rec)
	}
}
