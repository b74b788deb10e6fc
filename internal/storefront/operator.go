package storefront

import (
	"context"

	"retrocart/internal/domain"
)

// OfferedActions is the advisory gating admin tooling renders. The server
// checks adjacency and capabilities again on every request.
func OfferedActions(status domain.OrderStatus, caps domain.Capabilities) domain.Actions {
	return domain.ActionsFor(status, caps)
}

// Operator routes status changes to the generic transition or to the
// dedicated fulfill and deliver actions.
type Operator struct {
	API OperatorAPI
}

// Move asks the server to move the order to "to". Moves the local gating does
// not offer fail with ErrNotOffered and make no call.
func (op *Operator) Move(ctx context.Context, from, to domain.OrderStatus, caps domain.Capabilities, orderID, trackingRef string) (domain.Order, error) {
	acts := OfferedActions(from, caps)
	switch to {
	case domain.StatusShipped:
		if !acts.Fulfill {
			return domain.Order{}, ErrNotOffered
		}
		return op.API.Fulfill(ctx, orderID, trackingRef)
	case domain.StatusDelivered:
		if !acts.Deliver {
			return domain.Order{}, ErrNotOffered
		}
		return op.API.Deliver(ctx, orderID)
	}
	for _, t := range acts.Transitions {
		if t == to {
			return op.API.SetStatus(ctx, orderID, to)
		}
	}
	return domain.Order{}, ErrNotOffered
}

// Actions fetches the server's own answer for one order.
func (op *Operator) Actions(ctx context.Context, orderID string) (OrderActions, error) {
	return op.API.OrderActions(ctx, orderID)
}
