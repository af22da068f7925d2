package orders

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentPrepaid        PaymentMethod = "Prepaid"
	PaymentCashOnDelivery PaymentMethod = "CashOnDelivery"
)

// ParsePaymentMethod accepts the spellings clients have historically sent
// ("Prepaid", "COD", "CashOnDelivery", any case).
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", "")) {
	case "prepaid":
		return PaymentPrepaid, nil
	case "cod", "cashondelivery":
		return PaymentCashOnDelivery, nil
	}
	return "", fmt.Errorf("unknown payment method %q", s)
}

// CarrierCode is the payment method label the carrier expects.
func (m PaymentMethod) CarrierCode() string {
	if m == PaymentCashOnDelivery {
		return "COD"
	}
	return "Prepaid"
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "Pending"
	PaymentSuccess PaymentStatus = "Success"
	PaymentFailed  PaymentStatus = "Failed"
)

type ShipmentStatus string

const (
	ShipmentPending    ShipmentStatus = "Pending"
	ShipmentProcessing ShipmentStatus = "Processing"
	ShipmentShipped    ShipmentStatus = "Shipped"
	ShipmentDelivered  ShipmentStatus = "Delivered"
	ShipmentCancelled  ShipmentStatus = "Cancelled"
)

func ParseShipmentStatus(s string) (ShipmentStatus, error) {
	for _, st := range []ShipmentStatus{ShipmentPending, ShipmentProcessing, ShipmentShipped, ShipmentDelivered, ShipmentCancelled} {
		if strings.EqualFold(string(st), strings.TrimSpace(s)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown shipment status %q", s)
}

type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	Country    string `json:"country"`
	PostalCode string `json:"postalCode"`
}

type LineItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"` // unit price at order time
}

func (li LineItem) Subtotal() decimal.Decimal {
	return li.Price.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

type PaymentDetails struct {
	GatewayOrderID string `json:"gatewayOrderId"`
	PaymentID      string `json:"paymentId"`
	Signature      string `json:"signature"`
}

type ShipmentDetails struct {
	CarrierOrderID int64          `json:"carrierOrderId"`
	ShipmentID     int64          `json:"shipmentId,omitempty"`
	TrackingID     string         `json:"trackingId,omitempty"`
	Status         ShipmentStatus `json:"status"`
}

type Order struct {
	OrderID         string           `json:"orderId"`
	IdempotencyKey  string           `json:"idempotencyKey,omitempty"`
	UserID          string           `json:"userId"`
	CustomerName    string           `json:"customerName"`
	CustomerPhone   string           `json:"customerPhone"`
	CustomerEmail   string           `json:"customerEmail"`
	ShippingAddress Address          `json:"shippingAddress"`
	Products        []LineItem       `json:"products"`
	TotalAmount     decimal.Decimal  `json:"totalAmount"`
	Currency        string           `json:"currency"`
	PaymentMethod   PaymentMethod    `json:"paymentMethod"`
	PaymentStatus   PaymentStatus    `json:"paymentStatus,omitempty"`
	PaymentDetails  *PaymentDetails  `json:"paymentDetails,omitempty"`
	ShipmentDetails *ShipmentDetails `json:"shipmentDetails,omitempty"`
	Status          Status           `json:"status"`
	Stage           Stage            `json:"stage"`
	LastError       string           `json:"lastError,omitempty"` // last failed step, kept for reconciliation
	Version         int              `json:"version"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// Customer is the purchaser snapshot taken from the user directory.
type Customer struct {
	UserID string
	Name   string
	Email  string
	Phone  string
}

type Product struct {
	ProductID string
	Name      string
	Price     decimal.Decimal
}

func SumLineItems(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// Advance moves the order to the given saga stage and keeps the top-level
// status in step with it.
func (o *Order) Advance(to Stage) error {
	if !CanTransition(o.Stage, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Stage, to)
	}
	o.Stage = to
	o.Status = to.OrderStatus()
	return nil
}

func (o *Order) HasShipment() bool {
	return o.ShipmentDetails != nil && o.ShipmentDetails.CarrierOrderID != 0
}

func (o *Order) TrackingID() string {
	if o.ShipmentDetails == nil {
		return ""
	}
	return o.ShipmentDetails.TrackingID
}

// Validate checks the invariants every persisted order must hold.
func (o *Order) Validate() error {
	if len(o.Products) == 0 {
		return fmt.Errorf("order %s has no line items", o.OrderID)
	}
	for _, it := range o.Products {
		if it.Quantity < 1 {
			return fmt.Errorf("line item %s: quantity must be at least 1", it.ProductID)
		}
		if it.Price.IsNegative() {
			return fmt.Errorf("line item %s: negative price", it.ProductID)
		}
	}
	if sum := SumLineItems(o.Products); !sum.Equal(o.TotalAmount) {
		return fmt.Errorf("total %s does not match line items %s", o.TotalAmount, sum)
	}
	return nil
}

// Clone returns a deep copy so a mutation can be discarded on a failed write.
func (o *Order) Clone() *Order {
	c := *o
	c.Products = append([]LineItem(nil), o.Products...)
	if o.PaymentDetails != nil {
		pd := *o.PaymentDetails
		c.PaymentDetails = &pd
	}
	if o.ShipmentDetails != nil {
		sd := *o.ShipmentDetails
		c.ShipmentDetails = &sd
	}
	return &c
}

// MinorUnits converts an amount to the smallest currency unit (paise, cents).
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
