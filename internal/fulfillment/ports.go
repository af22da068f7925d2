package fulfillment

import (
	"context"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/payment"
	"github.com/ariefcatur/go-order-fulfillment/internal/shipping"
)

// Store is implemented by *orders.Repo.
type Store interface {
	Insert(ctx context.Context, o *orders.Order) error
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*orders.Order, error)
	Update(ctx context.Context, o *orders.Order) error
	ListByStatus(ctx context.Context, status orders.Status, cursor string, limit int) (*orders.Page, error)
	ListStale(ctx context.Context, stages []orders.Stage, before time.Time, limit int) ([]*orders.Order, error)
}

type Directory interface {
	FindUser(ctx context.Context, userID string) (orders.Customer, error)
}

type Catalog interface {
	FindProducts(ctx context.Context, ids []string) (map[string]orders.Product, error)
}

type Gateway interface {
	CreateIntent(ctx context.Context, amountMinor int64, currency, receipt string, notes map[string]string) (payment.Intent, error)
	VerifySignature(gatewayOrderID, paymentID, signature string) bool
}

type Carrier interface {
	CreateShipment(ctx context.Context, req shipping.ShipmentRequest) (shipping.Shipment, error)
	CancelShipment(ctx context.Context, carrierOrderID int64) (shipping.CancelResult, error)
}

// Notifier must not block; delivery happens out of band.
type Notifier interface {
	Notify(ctx context.Context, eventType string, o *orders.Order)
}

type IdempotencyIndex interface {
	Lookup(ctx context.Context, key string) (string, error)
	Remember(ctx context.Context, key, orderID string) error
}

// StatusCache is implemented by *redisx.StatusCache. Set must ignore a
// version older than the one already cached.
type StatusCache interface {
	Get(ctx context.Context, orderID string) (*orders.Order, bool, error)
	Set(ctx context.Context, orderID string, version int64, o *orders.Order) error
	Invalidate(ctx context.Context, orderID string) error
}
