package shipping

import (
	"time"

	"github.com/shopspring/decimal"
)

type Credentials struct {
	Email    string
	Password string
}

type Item struct {
	Name         string          `json:"name"`
	SKU          string          `json:"sku"`
	Units        int             `json:"units"`
	SellingPrice decimal.Decimal `json:"selling_price"`
}

// ShipmentRequest is built entirely from a persisted order.
type ShipmentRequest struct {
	OrderID        string          `json:"order_id"`
	OrderDate      time.Time       `json:"-"`
	PickupLocation string          `json:"pickup_location"`
	CustomerName   string          `json:"billing_customer_name"`
	Street         string          `json:"billing_address"`
	City           string          `json:"billing_city"`
	PostalCode     string          `json:"billing_pincode"`
	State          string          `json:"billing_state"`
	Country        string          `json:"billing_country"`
	Email          string          `json:"billing_email"`
	Phone          string          `json:"billing_phone"`
	Items          []Item          `json:"order_items"`
	PaymentMethod  string          `json:"payment_method"` // "COD" or "Prepaid"
	SubTotal       decimal.Decimal `json:"sub_total"`
}

type Shipment struct {
	CarrierOrderID int64
	ShipmentID     int64
	TrackingID     string
	Status         string
}

type CancelResult int

const (
	CancelOK CancelResult = iota
	CancelAlreadyCancelled
)

func (r CancelResult) String() string {
	if r == CancelAlreadyCancelled {
		return "already_cancelled"
	}
	return "cancelled"
}

// Parcel holds the package dimensions sent with every shipment (cm, kg).
type Parcel struct {
	Length  float64
	Breadth float64
	Height  float64
	Weight  float64
}

var DefaultParcel = Parcel{Length: 10, Breadth: 10, Height: 10, Weight: 0.5}
