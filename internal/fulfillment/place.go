package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

type LineRequest struct {
	ProductID string
	Quantity  int
	// Name and Price are optional; when given they must match the catalog.
	Name  string
	Price *decimal.Decimal
}

type PlaceRequest struct {
	IdempotencyKey string
	UserID         string
	// Exactly one of Address and RawAddress is used; Address wins.
	Address       *orders.Address
	RawAddress    string
	Items         []LineRequest
	TotalAmount   *decimal.Decimal
	Currency      string
	PaymentMethod string
	// Payment is the checkout triple, required for prepaid orders.
	Payment *orders.PaymentDetails
}

type PlaceResult struct {
	Order *orders.Order
	// Replayed is true when the idempotency key matched an earlier order.
	Replayed bool
}

const opPlace = "place_order"

// PlaceOrder validates the request, persists the order and then runs the
// payment and shipment steps. Once the order is stored every later failure
// is returned as an *Error carrying the stored order.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceRequest) (*PlaceResult, error) {
	res, err := s.placeOrder(ctx, req)
	step("place", err)
	return res, err
}

func (s *Service) placeOrder(ctx context.Context, req PlaceRequest) (*PlaceResult, error) {
	method, addr, phone, err := s.validatePlace(req)
	if err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		if prev, err := s.findReplay(ctx, req.IdempotencyKey); err != nil {
			return nil, err
		} else if prev != nil {
			return s.replay(prev)
		}
	}

	o, err := s.buildOrder(ctx, req, method, addr, phone)
	if err != nil {
		return nil, err
	}

	if err := s.store.Insert(ctx, o); err != nil {
		if errors.Is(err, orders.ErrDuplicateOrder) && req.IdempotencyKey != "" {
			// lost a race with a concurrent request carrying the same key
			prev, ferr := s.store.GetByIdempotencyKey(ctx, req.IdempotencyKey)
			if ferr == nil {
				return s.replay(prev)
			}
			return nil, newError(KindPersistence, opPlace, "load order for idempotency key", ferr)
		}
		return nil, newError(KindPersistence, opPlace, "insert order", err)
	}
	log := s.log.With("order_id", o.OrderID)
	log.Info("order persisted", "stage", o.Stage, "payment_method", o.PaymentMethod, "total", o.TotalAmount.String())

	if req.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.Remember(ctx, req.IdempotencyKey, o.OrderID); err != nil {
			log.Warn("idempotency index write failed", "err", err)
		}
	}

	if o.PaymentMethod == orders.PaymentPrepaid {
		o, err = s.verifyOrderPayment(ctx, o)
		if err != nil {
			return &PlaceResult{Order: OrderOf(err)}, err
		}
		if !s.opts.ShipPrepaidImmediately {
			s.notify(ctx, orders.EventOrderPlaced, o)
			return &PlaceResult{Order: o}, nil
		}
		o, err = s.mutate(ctx, opPlace, o, func(n *orders.Order) error {
			if n.Stage != orders.StagePaymentVerified {
				return errSuperseded
			}
			return n.Advance(orders.StageShipmentPending)
		})
		if err != nil {
			return s.afterSuperseded(ctx, opPlace, o, err)
		}
	}

	o, err = s.ship(ctx, opPlace, o)
	if o != nil && o.Status == orders.StatusProcessing {
		s.notify(ctx, orders.EventOrderPlaced, o)
	}
	if err != nil {
		return &PlaceResult{Order: o}, err
	}
	return &PlaceResult{Order: o}, nil
}

func (s *Service) validatePlace(req PlaceRequest) (orders.PaymentMethod, orders.Address, string, error) {
	var (
		addr  orders.Address
		phone string
	)
	if strings.TrimSpace(req.UserID) == "" {
		return "", addr, "", validationf(opPlace, "userId is required")
	}
	if len(req.Items) == 0 {
		return "", addr, "", validationf(opPlace, "at least one product is required")
	}
	for i, it := range req.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			return "", addr, "", validationf(opPlace, "products[%d]: productId is required", i)
		}
		if it.Quantity < 1 {
			return "", addr, "", validationf(opPlace, "products[%d]: quantity must be at least 1", i)
		}
		if it.Price != nil && it.Price.IsNegative() {
			return "", addr, "", validationf(opPlace, "products[%d]: price must not be negative", i)
		}
	}

	method, err := orders.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		return "", addr, "", newError(KindValidation, opPlace, "paymentMethod", err)
	}
	if method == orders.PaymentPrepaid {
		p := req.Payment
		if p == nil || p.GatewayOrderID == "" || p.PaymentID == "" || p.Signature == "" {
			return "", addr, "", validationf(opPlace, "prepaid orders need gatewayOrderId, paymentId and signature")
		}
	}

	switch {
	case req.Address != nil:
		addr = *req.Address
		if addr.Country == "" {
			addr.Country = s.opts.DefaultCountry
		}
		err = addr.Validate()
	case strings.TrimSpace(req.RawAddress) != "":
		addr, phone, err = orders.ParseAddress(req.RawAddress, s.opts.DefaultCountry)
	default:
		err = orders.ErrInvalidAddress
	}
	if err != nil {
		return "", addr, "", newError(KindValidation, opPlace, "shipping address", err)
	}
	return method, addr, phone, nil
}

func (s *Service) findReplay(ctx context.Context, key string) (*orders.Order, error) {
	if s.idempotency != nil {
		id, err := s.idempotency.Lookup(ctx, key)
		if err != nil {
			s.log.Warn("idempotency index lookup failed", "err", err)
		} else if id != "" {
			o, err := s.store.Get(ctx, id)
			if err == nil {
				return o, nil
			}
			if !errors.Is(err, orders.ErrOrderNotFound) {
				return nil, newError(KindPersistence, opPlace, "load replayed order", err)
			}
		}
	}
	o, err := s.store.GetByIdempotencyKey(ctx, key)
	if errors.Is(err, orders.ErrOrderNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, newError(KindPersistence, opPlace, "load order for idempotency key", err)
	}
	return o, nil
}

// replay answers a retried request with the stored order and never re-runs a side effect.
func (s *Service) replay(o *orders.Order) (*PlaceResult, error) {
	s.log.Info("idempotent replay", "order_id", o.OrderID, "stage", o.Stage)
	res := &PlaceResult{Order: o, Replayed: true}
	if o.Stage == orders.StagePaymentFailed {
		return res, newError(KindPaymentVerification, opPlace, "payment signature mismatch", nil).withOrder(o)
	}
	return res, nil
}

func (s *Service) buildOrder(ctx context.Context, req PlaceRequest, method orders.PaymentMethod, addr orders.Address, phone string) (*orders.Order, error) {
	cust, err := s.directory.FindUser(ctx, req.UserID)
	if errors.Is(err, orders.ErrUserNotFound) {
		return nil, newError(KindNotFound, opPlace, "user "+req.UserID, err)
	}
	if err != nil {
		return nil, newError(KindPersistence, opPlace, "find user", err)
	}

	ids := make([]string, 0, len(req.Items))
	for _, it := range req.Items {
		ids = append(ids, it.ProductID)
	}
	catalog, err := s.catalog.FindProducts(ctx, ids)
	if err != nil {
		return nil, newError(KindPersistence, opPlace, "find products", err)
	}

	items := make([]orders.LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		p, ok := catalog[it.ProductID]
		if !ok {
			return nil, newError(KindNotFound, opPlace, "product "+it.ProductID, orders.ErrProductNotFound)
		}
		if it.Price != nil && !it.Price.Equal(p.Price) {
			return nil, validationf(opPlace, "product %s: price %s does not match catalog price %s", it.ProductID, it.Price, p.Price)
		}
		items = append(items, orders.LineItem{
			ProductID: p.ProductID,
			Name:      p.Name,
			Quantity:  it.Quantity,
			Price:     p.Price,
		})
	}

	total := orders.SumLineItems(items)
	if req.TotalAmount != nil && !req.TotalAmount.Equal(total) {
		return nil, validationf(opPlace, "totalAmount %s does not match line items total %s", req.TotalAmount, total)
	}

	if phone == "" {
		phone = cust.Phone
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.opts.DefaultCurrency
	}

	o := &orders.Order{
		OrderID:         s.opts.NewOrderID(),
		IdempotencyKey:  req.IdempotencyKey,
		UserID:          cust.UserID,
		CustomerName:    cust.Name,
		CustomerPhone:   phone,
		CustomerEmail:   cust.Email,
		ShippingAddress: addr,
		Products:        items,
		TotalAmount:     total,
		Currency:        currency,
		PaymentMethod:   method,
		Stage:           orders.StageCreated,
		CreatedAt:       s.opts.Now().UTC(),
	}
	first := orders.StageShipmentPending
	if method == orders.PaymentPrepaid {
		first = orders.StagePendingPayment
		o.PaymentStatus = orders.PaymentPending
		pd := *req.Payment
		o.PaymentDetails = &pd
	}
	if err := o.Advance(first); err != nil {
		return nil, newError(KindInternal, opPlace, "initial stage", err)
	}
	if err := o.Validate(); err != nil {
		return nil, newError(KindValidation, opPlace, "order", err)
	}
	return o, nil
}

func (s *Service) verifyOrderPayment(ctx context.Context, o *orders.Order) (*orders.Order, error) {
	pd := o.PaymentDetails
	ok := s.gateway.VerifySignature(pd.GatewayOrderID, pd.PaymentID, pd.Signature)

	rctx, done := s.detached(ctx)
	defer done()
	o, err := s.mutate(rctx, opPlace, o, func(n *orders.Order) error {
		if n.Stage != orders.StagePendingPayment {
			return errSuperseded
		}
		if ok {
			n.PaymentStatus = orders.PaymentSuccess
			n.LastError = ""
			return n.Advance(orders.StagePaymentVerified)
		}
		n.PaymentStatus = orders.PaymentFailed
		n.LastError = "payment signature mismatch"
		return n.Advance(orders.StagePaymentFailed)
	})
	if err != nil {
		_, err = s.afterSuperseded(rctx, opPlace, o, err)
		return nil, err
	}
	if !ok {
		s.log.Warn("payment signature mismatch", "order_id", o.OrderID, "gateway_order_id", pd.GatewayOrderID)
		return nil, newError(KindPaymentVerification, opPlace, "payment signature mismatch", nil).withOrder(o)
	}
	s.log.Info("payment verified", "order_id", o.OrderID)
	return o, nil
}

// afterSuperseded turns a mutation that found the order moved on (usually a
// concurrent cancel) into a conflict carrying the current order.
func (s *Service) afterSuperseded(ctx context.Context, op string, o *orders.Order, err error) (*PlaceResult, error) {
	if errors.Is(err, errSuperseded) {
		s.log.Info("saga step superseded", "order_id", o.OrderID, "stage", o.Stage, "op", op)
		return &PlaceResult{Order: o}, newError(KindConflict, op, fmt.Sprintf("order is %s", o.Stage), nil).withOrder(o)
	}
	var e *Error
	if errors.As(err, &e) {
		return &PlaceResult{Order: o}, e
	}
	return &PlaceResult{Order: o}, newError(KindInternal, op, "", err).withOrder(o)
}
