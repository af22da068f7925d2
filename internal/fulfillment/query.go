package fulfillment

import (
	"context"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

func (s *Service) GetOrder(ctx context.Context, orderID string) (*orders.Order, error) {
	if s.cache != nil && orderID != "" {
		if o, ok, err := s.cache.Get(ctx, orderID); err != nil {
			s.log.Warn("status cache read failed", "order_id", orderID, "err", err)
		} else if ok {
			return o, nil
		}
	}
	o, err := s.loadOrder(ctx, "get_order", orderID)
	if err != nil {
		return nil, err
	}
	s.cacheOrder(ctx, o)
	return o, nil
}

// ExportProcessing pages through orders still in Processing, newest first.
func (s *Service) ExportProcessing(ctx context.Context, cursor string, limit int) (*orders.Page, error) {
	if _, err := orders.DecodeCursor(cursor); err != nil {
		return nil, newError(KindValidation, "export_orders", "invalid cursor", err)
	}
	page, err := s.store.ListByStatus(ctx, orders.StatusProcessing, cursor, limit)
	if err != nil {
		return nil, newError(KindPersistence, "export_orders", "list orders", err)
	}
	return page, nil
}
