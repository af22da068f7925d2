// Package fulfillment runs the order saga: an order is persisted first, then
// payment is verified and a shipment created, each step recorded as a stage
// on the order so a failed or interrupted saga can be picked up again.
package fulfillment

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ariefcatur/go-order-fulfillment/internal/metrics"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

type Deps struct {
	Store     Store
	Directory Directory
	Catalog   Catalog
	Gateway   Gateway
	Carrier   Carrier

	// optional
	Notifier    Notifier
	Idempotency IdempotencyIndex
	Cache       StatusCache
	Logger      *slog.Logger
}

type Options struct {
	DefaultCurrency        string
	DefaultCountry         string
	PickupLocation         string
	ShipPrepaidImmediately bool
	// MaxUpdateAttempts bounds reload-and-retry on version conflicts.
	MaxUpdateAttempts int
	// StaleAfter is how long an order may sit in ShipmentPending before a
	// retry may take it over.
	StaleAfter time.Duration
	// RecordTimeout bounds the writes that record an upstream call's outcome.
	// They run detached from the caller's context.
	RecordTimeout time.Duration
	Now           func() time.Time
	NewOrderID    func() string
}

type Service struct {
	store       Store
	directory   Directory
	catalog     Catalog
	gateway     Gateway
	carrier     Carrier
	notifier    Notifier
	idempotency IdempotencyIndex
	cache       StatusCache
	log         *slog.Logger
	opts        Options
}

func NewService(d Deps, opts Options) *Service {
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = "INR"
	}
	if opts.DefaultCountry == "" {
		opts.DefaultCountry = "India"
	}
	if opts.PickupLocation == "" {
		opts.PickupLocation = "Default Pickup"
	}
	if opts.MaxUpdateAttempts <= 0 {
		opts.MaxUpdateAttempts = 5
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 10 * time.Minute
	}
	if opts.RecordTimeout <= 0 {
		opts.RecordTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewOrderID == nil {
		opts.NewOrderID = NewOrderID
	}
	s := &Service{
		store:       d.Store,
		directory:   d.Directory,
		catalog:     d.Catalog,
		gateway:     d.Gateway,
		carrier:     d.Carrier,
		notifier:    d.Notifier,
		idempotency: d.Idempotency,
		cache:       d.Cache,
		log:         d.Logger,
		opts:        opts,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// NewOrderID returns "ORDER-" followed by a ULID: sortable by creation time
// and unique without a lookup.
func NewOrderID() string {
	return "ORDER-" + ulid.Make().String()
}

// errSuperseded aborts a mutation whose precondition no longer holds after reload.
var errSuperseded = errors.New("order state changed underneath")

// mutate applies fn to a copy of o and writes it with an optimistic version
// check. On a conflict the order is reloaded and fn runs again against the
// fresh copy, so fn must re-check its own preconditions. The returned order
// is the latest known state whether or not the write happened.
func (s *Service) mutate(ctx context.Context, op string, o *orders.Order, fn func(*orders.Order) error) (*orders.Order, error) {
	cur := o
	for attempt := 0; attempt < s.opts.MaxUpdateAttempts; attempt++ {
		next := cur.Clone()
		if err := fn(next); err != nil {
			return cur, err
		}
		err := s.store.Update(ctx, next)
		if err == nil {
			s.cacheOrder(ctx, next)
			return next, nil
		}
		if !errors.Is(err, orders.ErrVersionConflict) {
			if errors.Is(err, orders.ErrOrderNotFound) {
				return cur, newError(KindNotFound, op, "order "+cur.OrderID, err).withOrder(cur)
			}
			return cur, newError(KindPersistence, op, "update order", err).withOrder(cur)
		}

		s.log.Debug("order version conflict, reloading", "order_id", cur.OrderID, "op", op, "attempt", attempt+1)
		fresh, err := s.store.Get(ctx, cur.OrderID)
		if err != nil {
			return cur, newError(KindPersistence, op, "reload order", err).withOrder(cur)
		}
		cur = fresh
	}
	return cur, newError(KindConflict, op, "too many concurrent updates", orders.ErrVersionConflict).withOrder(cur)
}

// detached is for recording what an upstream has already done: the carrier
// or gateway acted, so the write must not die with the caller's request.
func (s *Service) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.opts.RecordTimeout)
}

// cacheOrder writes the snapshot through to the status cache. The cache keeps
// the highest version it has seen, so a slow reader cannot put back an older
// row. If the write fails the entry is dropped instead.
func (s *Service) cacheOrder(ctx context.Context, o *orders.Order) {
	if s.cache == nil {
		return
	}
	err := s.cache.Set(ctx, o.OrderID, int64(o.Version), o)
	if err == nil {
		return
	}
	s.log.Warn("status cache write failed", "order_id", o.OrderID, "err", err)
	if err := s.cache.Invalidate(ctx, o.OrderID); err != nil {
		s.log.Warn("status cache invalidate failed", "order_id", o.OrderID, "err", err)
	}
}

func (s *Service) notify(ctx context.Context, eventType string, o *orders.Order) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, eventType, o)
}

func (s *Service) loadOrder(ctx context.Context, op, orderID string) (*orders.Order, error) {
	if orderID == "" {
		return nil, validationf(op, "orderId is required")
	}
	o, err := s.store.Get(ctx, orderID)
	if errors.Is(err, orders.ErrOrderNotFound) {
		return nil, newError(KindNotFound, op, "order "+orderID, err)
	}
	if err != nil {
		return nil, newError(KindPersistence, op, "load order", err)
	}
	return o, nil
}

func step(name string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = KindOf(err).String()
	}
	metrics.SagaStep(name, outcome)
}
