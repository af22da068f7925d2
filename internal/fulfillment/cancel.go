package fulfillment

import (
	"context"
	"errors"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/shipping"
)

const opCancel = "cancel_order"

// errCarrierPending means the reloaded order carries a shipment the carrier
// has not been asked to cancel yet.
var errCarrierPending = errors.New("carrier shipment not cancelled")

// CancelOrder cancels the carrier shipment, if there is one, and only then
// marks the order Cancelled. Cancelling a cancelled order is a no-op.
func (s *Service) CancelOrder(ctx context.Context, orderID string) (*orders.Order, error) {
	o, err := s.cancelOrder(ctx, orderID)
	step("cancel", err)
	return o, err
}

func (s *Service) cancelOrder(ctx context.Context, orderID string) (*orders.Order, error) {
	o, err := s.loadOrder(ctx, opCancel, orderID)
	if err != nil {
		return nil, err
	}
	log := s.log.With("order_id", o.OrderID)

	var cancelledAt int64 // carrier order id already cancelled upstream

	// Once the carrier has cancelled, recording it must outlive the caller.
	mctx := ctx
	var release context.CancelFunc
	defer func() {
		if release != nil {
			release()
		}
	}()

	for {
		if o.Stage == orders.StageCancelled {
			return o, nil
		}
		if o.Stage == orders.StageCompleted {
			return o, newError(KindConflict, opCancel, "order is already completed", nil).withOrder(o)
		}

		if o.HasShipment() && o.ShipmentDetails.CarrierOrderID != cancelledAt {
			id := o.ShipmentDetails.CarrierOrderID
			res, err := s.carrier.CancelShipment(ctx, id)
			if err != nil {
				log.Warn("carrier cancellation failed", "carrier_order_id", id, "err", err)
				kind := KindUpstreamUnavailable
				if errors.Is(err, shipping.ErrCarrierRejected) {
					kind = KindUpstreamRejected
				}
				return o, newError(kind, opCancel, "carrier cancellation failed", err).withOrder(o)
			}
			log.Info("carrier shipment cancelled", "carrier_order_id", id, "result", res.String())
			cancelledAt = id
			if release == nil {
				mctx, release = s.detached(ctx)
			}
		}

		next, err := s.mutate(mctx, opCancel, o, func(n *orders.Order) error {
			if n.Stage.Terminal() {
				return errSuperseded
			}
			if n.HasShipment() && n.ShipmentDetails.CarrierOrderID != cancelledAt {
				return errCarrierPending
			}
			if n.HasShipment() {
				n.ShipmentDetails.Status = orders.ShipmentCancelled
			}
			return n.Advance(orders.StageCancelled)
		})
		switch {
		case err == nil:
			log.Info("order cancelled", "previous_stage", o.Stage)
			s.notify(ctx, orders.EventOrderCancelled, next)
			return next, nil
		case errors.Is(err, errSuperseded), errors.Is(err, errCarrierPending):
			// reloaded order moved on; go round again with it
			o = next
		case errors.Is(err, orders.ErrInvalidTransition):
			return next, newError(KindConflict, opCancel, "order cannot be cancelled", err).withOrder(next)
		default:
			return next, err
		}
	}
}
