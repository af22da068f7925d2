package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/shipping"
)

// LastError prefixes; the reconciler only retries unavailable failures.
const (
	lastErrUnavailable = "carrier_unavailable: "
	lastErrRejected    = "carrier_rejected: "
)

func (s *Service) shipmentRequest(o *orders.Order) shipping.ShipmentRequest {
	items := make([]shipping.Item, 0, len(o.Products))
	for _, it := range o.Products {
		items = append(items, shipping.Item{
			Name:         it.Name,
			SKU:          it.ProductID,
			Units:        it.Quantity,
			SellingPrice: it.Price,
		})
	}
	return shipping.ShipmentRequest{
		OrderID:        o.OrderID,
		OrderDate:      o.CreatedAt,
		PickupLocation: s.opts.PickupLocation,
		CustomerName:   o.CustomerName,
		Street:         o.ShippingAddress.Street,
		City:           o.ShippingAddress.City,
		PostalCode:     o.ShippingAddress.PostalCode,
		State:          o.ShippingAddress.State,
		Country:        o.ShippingAddress.Country,
		Email:          o.CustomerEmail,
		Phone:          o.CustomerPhone,
		Items:          items,
		PaymentMethod:  o.PaymentMethod.CarrierCode(),
		SubTotal:       o.TotalAmount,
	}
}

// ship creates the carrier shipment for an order in ShipmentPending and
// records the outcome. If the order was cancelled while the carrier call was
// in flight, the new carrier order is cancelled again and the local order is
// left Cancelled without shipment details.
func (s *Service) ship(ctx context.Context, op string, o *orders.Order) (*orders.Order, error) {
	log := s.log.With("order_id", o.OrderID)
	if o.Stage != orders.StageShipmentPending {
		return o, newError(KindConflict, op, fmt.Sprintf("cannot ship order in stage %s", o.Stage), nil).withOrder(o)
	}

	shp, cerr := s.carrier.CreateShipment(ctx, s.shipmentRequest(o))

	// From here on the carrier has acted; the outcome is recorded even if the
	// caller has gone away.
	rctx, done := s.detached(ctx)
	defer done()

	if cerr != nil {
		kerr := carrierErr(op, cerr)
		step("create_shipment", kerr)
		prefix := lastErrUnavailable
		if kerr.Kind == KindUpstreamRejected {
			prefix = lastErrRejected
		}
		log.Warn("shipment creation failed", "err", cerr, "retryable", kerr.Kind == KindUpstreamUnavailable)

		cur, err := s.mutate(rctx, op, o, func(n *orders.Order) error {
			if n.Stage != orders.StageShipmentPending {
				return errSuperseded
			}
			n.LastError = prefix + cerr.Error()
			return n.Advance(orders.StageShipmentFailed)
		})
		if err != nil && !errors.Is(err, errSuperseded) {
			log.Error("recording shipment failure", "err", err)
		}
		return cur, kerr.withOrder(cur)
	}

	cur, err := s.mutate(rctx, op, o, func(n *orders.Order) error {
		if n.Stage != orders.StageShipmentPending {
			return errSuperseded
		}
		n.ShipmentDetails = &orders.ShipmentDetails{
			CarrierOrderID: shp.CarrierOrderID,
			ShipmentID:     shp.ShipmentID,
			TrackingID:     shp.TrackingID,
			Status:         orders.ShipmentProcessing,
		}
		n.LastError = ""
		return n.Advance(orders.StageShipmentCreated)
	})
	if err == nil {
		step("create_shipment", nil)
		log.Info("shipment created", "carrier_order_id", shp.CarrierOrderID, "tracking_id", shp.TrackingID)
		return cur, nil
	}
	if !errors.Is(err, errSuperseded) {
		// The carrier has the shipment but we could not record it. Leave the
		// order in ShipmentPending so the reconciler sees it.
		log.Error("recording shipment failed", "carrier_order_id", shp.CarrierOrderID, "err", err)
		return cur, err
	}

	log.Info("order changed during shipment creation, cancelling carrier order",
		"stage", cur.Stage, "carrier_order_id", shp.CarrierOrderID)
	if _, cancelErr := s.carrier.CancelShipment(rctx, shp.CarrierOrderID); cancelErr != nil {
		log.Error("compensating carrier cancellation failed", "carrier_order_id", shp.CarrierOrderID, "err", cancelErr)
		cur, _ = s.mutate(rctx, op, cur, func(n *orders.Order) error {
			n.LastError = fmt.Sprintf("orphan carrier order %d: %v", shp.CarrierOrderID, cancelErr)
			return nil
		})
	}
	return cur, newError(KindConflict, op, fmt.Sprintf("order became %s during shipment creation", cur.Stage), nil).withOrder(cur)
}

func carrierErr(op string, err error) *Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, shipping.ErrCarrierRejected) {
		return newError(KindUpstreamRejected, op, "carrier rejected shipment", err)
	}
	return newError(KindUpstreamUnavailable, op, "carrier unavailable", err)
}

const opRetry = "retry_shipment"

// RetryShipment re-runs shipment creation for an order whose payment is
// settled but which has no shipment yet. An order that already has one is
// returned unchanged.
func (s *Service) RetryShipment(ctx context.Context, orderID string) (*orders.Order, error) {
	o, err := s.retryShipment(ctx, orderID)
	step("retry_shipment", err)
	return o, err
}

func (s *Service) retryShipment(ctx context.Context, orderID string) (*orders.Order, error) {
	o, err := s.loadOrder(ctx, opRetry, orderID)
	if err != nil {
		return nil, err
	}
	if o.HasShipment() {
		return o, nil
	}

	o, err = s.mutate(ctx, opRetry, o, func(n *orders.Order) error {
		switch {
		case n.Stage == orders.StagePaymentVerified, n.Stage == orders.StageShipmentFailed:
			return n.Advance(orders.StageShipmentPending)
		case n.Stage == orders.StageShipmentPending && s.stale(n):
			// claim it: the write refreshes UpdatedAt, so a concurrent retry
			// reloads a fresh order and backs off
			return nil
		}
		return errSuperseded
	})
	if errors.Is(err, errSuperseded) {
		if o.HasShipment() {
			return o, nil
		}
		return o, newError(KindConflict, opRetry, fmt.Sprintf("shipment cannot be retried in stage %s", o.Stage), nil).withOrder(o)
	}
	if err != nil {
		return o, err
	}
	return s.ship(ctx, opRetry, o)
}

// stale reports whether a ShipmentPending order has waited long enough that
// whoever moved it there is presumed gone.
func (s *Service) stale(o *orders.Order) bool {
	return s.opts.Now().Sub(o.UpdatedAt) >= s.opts.StaleAfter
}

const opShipmentStatus = "update_shipment_status"

// UpdateShipmentStatus applies a carrier-reported status. Delivered completes
// the order; Cancelled cancels it.
func (s *Service) UpdateShipmentStatus(ctx context.Context, orderID, status string) (*orders.Order, error) {
	st, err := orders.ParseShipmentStatus(status)
	if err != nil {
		return nil, newError(KindValidation, opShipmentStatus, "status", err)
	}
	o, err := s.loadOrder(ctx, opShipmentStatus, orderID)
	if err != nil {
		return nil, err
	}

	o, err = s.mutate(ctx, opShipmentStatus, o, func(n *orders.Order) error {
		if !n.HasShipment() {
			return newError(KindConflict, opShipmentStatus, "order has no shipment", nil)
		}
		if n.ShipmentDetails.Status == st {
			return errSuperseded
		}
		if !orders.CanAdvanceShipment(n.ShipmentDetails.Status, st) {
			return newError(KindConflict, opShipmentStatus,
				fmt.Sprintf("shipment status %s cannot become %s", n.ShipmentDetails.Status, st), nil)
		}
		n.ShipmentDetails.Status = st
		switch st {
		case orders.ShipmentDelivered:
			return n.Advance(orders.StageCompleted)
		case orders.ShipmentCancelled:
			return n.Advance(orders.StageCancelled)
		}
		return nil
	})
	if errors.Is(err, errSuperseded) {
		return o, nil
	}
	if errors.Is(err, orders.ErrInvalidTransition) {
		return o, newError(KindConflict, opShipmentStatus, "order stage does not allow this status", err).withOrder(o)
	}
	var e *Error
	if errors.As(err, &e) && e.Order == nil {
		e.Order = o
	}
	if err != nil {
		return o, err
	}
	s.log.Info("shipment status updated", "order_id", o.OrderID, "status", st, "stage", o.Stage)
	if st == orders.ShipmentCancelled {
		s.notify(ctx, orders.EventOrderCancelled, o)
	}
	return o, nil
}

type ReconcileReport struct {
	Scanned int      `json:"scanned"`
	Retried int      `json:"retried"`
	Shipped []string `json:"shipped"`
	Failed  []string `json:"failed"`
	Skipped []string `json:"skipped"`
}

// Reconcile retries shipment creation for orders that have been waiting for
// one longer than StaleAfter. Rejected shipments are left for an operator.
func (s *Service) Reconcile(ctx context.Context, limit int) (*ReconcileReport, error) {
	if limit <= 0 {
		limit = 50
	}
	stages := []orders.Stage{orders.StageShipmentFailed, orders.StageShipmentPending}
	if s.opts.ShipPrepaidImmediately {
		stages = append(stages, orders.StagePaymentVerified)
	}
	list, err := s.store.ListStale(ctx, stages, s.opts.Now().Add(-s.opts.StaleAfter), limit)
	if err != nil {
		return nil, newError(KindPersistence, "reconcile", "list stale orders", err)
	}

	rep := &ReconcileReport{Scanned: len(list)}
	for _, o := range list {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if o.Stage == orders.StageShipmentFailed && strings.HasPrefix(o.LastError, lastErrRejected) {
			rep.Skipped = append(rep.Skipped, o.OrderID)
			continue
		}
		rep.Retried++
		if _, err := s.RetryShipment(ctx, o.OrderID); err != nil {
			s.log.Warn("reconcile retry failed", "order_id", o.OrderID, "err", err)
			rep.Failed = append(rep.Failed, o.OrderID)
			continue
		}
		rep.Shipped = append(rep.Shipped, o.OrderID)
	}
	s.log.Info("reconcile finished", "scanned", rep.Scanned, "retried", rep.Retried,
		"shipped", len(rep.Shipped), "failed", len(rep.Failed), "skipped", len(rep.Skipped))
	return rep, nil
}
