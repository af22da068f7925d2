package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-order-fulfillment/internal/postgres"
)

const idempotencyConstraint = "orders_idempotency_key_key"

type Repo struct{ DB *pgxpool.Pool }

const orderColumns = `
	order_id, COALESCE(idempotency_key, ''), user_id, customer_name, customer_phone, customer_email,
	ship_street, ship_city, ship_state, ship_country, ship_postal_code,
	total_amount::text, currency, payment_method, payment_status,
	gateway_order_id, gateway_payment_id, gateway_signature,
	carrier_order_id, carrier_shipment_id, tracking_id, shipment_status,
	status, stage, last_error, version, created_at, updated_at`

// Insert persists a new order together with its line items. A reused
// idempotency key surfaces as ErrDuplicateOrder.
func (r *Repo) Insert(ctx context.Context, o *Order) error {
	if err := o.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = o.CreatedAt
	o.Version = 1

	err := postgres.WithRetry(ctx, r.DB, postgres.DefaultTxOptions(), func(tx pgx.Tx) error {
		pd, sd := o.PaymentDetails, o.ShipmentDetails
		_, err := tx.Exec(ctx, `
			INSERT INTO orders(
				order_id, idempotency_key, user_id, customer_name, customer_phone, customer_email,
				ship_street, ship_city, ship_state, ship_country, ship_postal_code,
				total_amount, currency, payment_method, payment_status,
				gateway_order_id, gateway_payment_id, gateway_signature,
				carrier_order_id, carrier_shipment_id, tracking_id, shipment_status,
				status, stage, last_error, version, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12::numeric,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$27)`,
			o.OrderID, nullString(o.IdempotencyKey), o.UserID, o.CustomerName, o.CustomerPhone, o.CustomerEmail,
			o.ShippingAddress.Street, o.ShippingAddress.City, o.ShippingAddress.State, o.ShippingAddress.Country, o.ShippingAddress.PostalCode,
			o.TotalAmount.String(), o.Currency, string(o.PaymentMethod), nullString(string(o.PaymentStatus)),
			paymentField(pd, func(p *PaymentDetails) string { return p.GatewayOrderID }),
			paymentField(pd, func(p *PaymentDetails) string { return p.PaymentID }),
			paymentField(pd, func(p *PaymentDetails) string { return p.Signature }),
			shipmentID(sd, func(s *ShipmentDetails) int64 { return s.CarrierOrderID }),
			shipmentID(sd, func(s *ShipmentDetails) int64 { return s.ShipmentID }),
			shipmentField(sd, func(s *ShipmentDetails) string { return s.TrackingID }),
			shipmentField(sd, func(s *ShipmentDetails) string { return string(s.Status) }),
			string(o.Status), string(o.Stage), o.LastError, o.Version, o.CreatedAt,
		)
		if err != nil {
			return err
		}

		for i, it := range o.Products {
			if _, err := tx.Exec(ctx, `
				INSERT INTO order_items(order_id, position, product_id, name, quantity, price)
				VALUES ($1,$2,$3,$4,$5,$6::numeric)`,
				o.OrderID, i, it.ProductID, it.Name, it.Quantity, it.Price.String(),
			); err != nil {
				return err
			}
		}
		return nil
	})
	if postgres.IsUniqueViolation(err, idempotencyConstraint) {
		return ErrDuplicateOrder
	}
	return err
}

func (r *Repo) Get(ctx context.Context, orderID string) (*Order, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id=$1`, orderID)
	return r.loadOne(ctx, row)
}

func (r *Repo) GetByIdempotencyKey(ctx context.Context, key string) (*Order, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE idempotency_key=$1`, key)
	return r.loadOne(ctx, row)
}

// Update writes the mutable part of an order (payment, shipment, status,
// stage, last error) if the stored version still equals o.Version. Identity
// and line items are never rewritten. On success o carries the new version.
func (r *Repo) Update(ctx context.Context, o *Order) error {
	pd, sd := o.PaymentDetails, o.ShipmentDetails
	err := r.DB.QueryRow(ctx, `
		UPDATE orders SET
			payment_status=$3, gateway_order_id=$4, gateway_payment_id=$5, gateway_signature=$6,
			carrier_order_id=$7, carrier_shipment_id=$8, tracking_id=$9, shipment_status=$10,
			status=$11, stage=$12, last_error=$13,
			version=version+1, updated_at=NOW()
		WHERE order_id=$1 AND version=$2
		RETURNING version, updated_at`,
		o.OrderID, o.Version,
		nullString(string(o.PaymentStatus)),
		paymentField(pd, func(p *PaymentDetails) string { return p.GatewayOrderID }),
		paymentField(pd, func(p *PaymentDetails) string { return p.PaymentID }),
		paymentField(pd, func(p *PaymentDetails) string { return p.Signature }),
		shipmentID(sd, func(s *ShipmentDetails) int64 { return s.CarrierOrderID }),
		shipmentID(sd, func(s *ShipmentDetails) int64 { return s.ShipmentID }),
		shipmentField(sd, func(s *ShipmentDetails) string { return s.TrackingID }),
		shipmentField(sd, func(s *ShipmentDetails) string { return string(s.Status) }),
		string(o.Status), string(o.Stage), o.LastError,
	).Scan(&o.Version, &o.UpdatedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	var exists bool
	if err := r.DB.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE order_id=$1)`, o.OrderID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrOrderNotFound
	}
	return ErrVersionConflict
}

// ListByStatus pages through orders with the given status, newest first.
func (r *Repo) ListByStatus(ctx context.Context, status Status, cursor string, limit int) (*Page, error) {
	c, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := r.DB.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status=$1 AND (created_at, order_id) < ($2, $3)
		ORDER BY created_at DESC, order_id DESC
		LIMIT $4`, string(status), c.CreatedAt, c.OrderID, limit+1)
	if err != nil {
		return nil, err
	}
	list, err := r.loadMany(ctx, rows)
	if err != nil {
		return nil, err
	}

	page := &Page{Items: list}
	if len(list) > limit {
		page.Items = list[:limit]
		page.HasMore = true
		last := page.Items[limit-1]
		page.NextCursor = EncodeCursor(Cursor{CreatedAt: last.CreatedAt, OrderID: last.OrderID})
	}
	return page, nil
}

// ListStale returns up to limit orders sitting in one of the given stages
// since before the cutoff, oldest first.
func (r *Repo) ListStale(ctx context.Context, stages []Stage, before time.Time, limit int) ([]*Order, error) {
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = string(s)
	}
	rows, err := r.DB.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE stage = ANY($1) AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3`, names, before, limit)
	if err != nil {
		return nil, err
	}
	return r.loadMany(ctx, rows)
}

func (r *Repo) loadOne(ctx context.Context, row pgx.Row) (*Order, error) {
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.attachItems(ctx, []*Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *Repo) loadMany(ctx context.Context, rows pgx.Rows) ([]*Order, error) {
	defer rows.Close()
	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}
	return out, r.attachItems(ctx, out)
}

func (r *Repo) attachItems(ctx context.Context, list []*Order) error {
	byID := make(map[string]*Order, len(list))
	ids := make([]string, 0, len(list))
	for _, o := range list {
		byID[o.OrderID] = o
		ids = append(ids, o.OrderID)
	}

	rows, err := r.DB.Query(ctx, `
		SELECT order_id, product_id, name, quantity, price::text
		FROM order_items WHERE order_id = ANY($1)
		ORDER BY order_id, position`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID, price string
			it             LineItem
		)
		if err := rows.Scan(&orderID, &it.ProductID, &it.Name, &it.Quantity, &price); err != nil {
			return err
		}
		if it.Price, err = decimal.NewFromString(price); err != nil {
			return fmt.Errorf("order %s item %s price: %w", orderID, it.ProductID, err)
		}
		if o := byID[orderID]; o != nil {
			o.Products = append(o.Products, it)
		}
	}
	return rows.Err()
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o                                    Order
		total, method, status, stage         string
		paymentStatus                        *string
		gatewayOrderID, paymentID, signature *string
		carrierOrderID, carrierShipmentID    *int64
		trackingID, shipmentStatus           *string
	)
	err := row.Scan(
		&o.OrderID, &o.IdempotencyKey, &o.UserID, &o.CustomerName, &o.CustomerPhone, &o.CustomerEmail,
		&o.ShippingAddress.Street, &o.ShippingAddress.City, &o.ShippingAddress.State, &o.ShippingAddress.Country, &o.ShippingAddress.PostalCode,
		&total, &o.Currency, &method, &paymentStatus,
		&gatewayOrderID, &paymentID, &signature,
		&carrierOrderID, &carrierShipmentID, &trackingID, &shipmentStatus,
		&status, &stage, &o.LastError, &o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if o.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("order %s total: %w", o.OrderID, err)
	}
	o.PaymentMethod = PaymentMethod(method)
	o.Status = Status(status)
	o.Stage = Stage(stage)
	if paymentStatus != nil {
		o.PaymentStatus = PaymentStatus(*paymentStatus)
	}
	if gatewayOrderID != nil || paymentID != nil || signature != nil {
		o.PaymentDetails = &PaymentDetails{
			GatewayOrderID: deref(gatewayOrderID),
			PaymentID:      deref(paymentID),
			Signature:      deref(signature),
		}
	}
	if carrierOrderID != nil {
		o.ShipmentDetails = &ShipmentDetails{
			CarrierOrderID: *carrierOrderID,
			TrackingID:     deref(trackingID),
			Status:         ShipmentStatus(deref(shipmentStatus)),
		}
		if carrierShipmentID != nil {
			o.ShipmentDetails.ShipmentID = *carrierShipmentID
		}
	}
	return &o, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func paymentField(p *PaymentDetails, get func(*PaymentDetails) string) *string {
	if p == nil {
		return nil
	}
	return nullString(get(p))
}

func shipmentField(s *ShipmentDetails, get func(*ShipmentDetails) string) *string {
	if s == nil {
		return nil
	}
	return nullString(get(s))
}

func shipmentID(s *ShipmentDetails, get func(*ShipmentDetails) int64) *int64 {
	if s == nil {
		return nil
	}
	v := get(s)
	if v == 0 {
		return nil
	}
	return &v
}
