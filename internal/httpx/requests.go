package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-order-fulfillment/internal/fulfillment"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

type CreateIntentReq struct {
	Amount   int64  `json:"amount"` // minor units
	Currency string `json:"currency"`
	UserID   string `json:"userId"`
	Receipt  string `json:"receipt"`
}

// PaymentProofReq accepts both our field names and the gateway's checkout names.
type PaymentProofReq struct {
	GatewayOrderID  string `json:"gatewayOrderId"`
	PaymentID       string `json:"paymentId"`
	Signature       string `json:"signature"`
	RazorpayOrderID string `json:"razorpay_order_id"`
	RazorpayPayID   string `json:"razorpay_payment_id"`
	RazorpaySig     string `json:"razorpay_signature"`
}

func (p PaymentProofReq) proof() fulfillment.PaymentProof {
	return fulfillment.PaymentProof{
		GatewayOrderID: firstNonEmpty(p.GatewayOrderID, p.RazorpayOrderID),
		PaymentID:      firstNonEmpty(p.PaymentID, p.RazorpayPayID),
		Signature:      firstNonEmpty(p.Signature, p.RazorpaySig),
	}
}

func (p PaymentProofReq) empty() bool {
	pp := p.proof()
	return pp.GatewayOrderID == "" && pp.PaymentID == "" && pp.Signature == ""
}

type LineReq struct {
	ProductID  string           `json:"productId"`
	Quantity   int              `json:"quantity"`
	ProductQty int              `json:"productQty"`
	Name       string           `json:"name"`
	Price      *decimal.Decimal `json:"price"`
}

type PlaceOrderReq struct {
	IdempotencyKey  string           `json:"idempotencyKey"`
	UserID          string           `json:"userId"`
	Address         json.RawMessage  `json:"address"`
	ShippingAddress json.RawMessage  `json:"shippingAddress"`
	Products        []LineReq        `json:"products"`
	ProductsOrdered []LineReq        `json:"productsOrdered"`
	TotalAmount     *decimal.Decimal `json:"totalAmount"`
	Price           *decimal.Decimal `json:"price"`
	Currency        string           `json:"currency"`
	PaymentMethod   string           `json:"paymentMethod"`
	PaymentDetails  *PaymentProofReq `json:"paymentDetails"`
	PaymentProofReq
}

// toPlaceRequest collapses the aliases clients send into one request.
func (r PlaceOrderReq) toPlaceRequest(headerKey string) (fulfillment.PlaceRequest, error) {
	out := fulfillment.PlaceRequest{
		IdempotencyKey: firstNonEmpty(headerKey, r.IdempotencyKey),
		UserID:         r.UserID,
		Currency:       r.Currency,
		PaymentMethod:  r.PaymentMethod,
		TotalAmount:    r.TotalAmount,
	}
	if out.TotalAmount == nil {
		out.TotalAmount = r.Price
	}

	raw := r.ShippingAddress
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		raw = r.Address
	}
	raw = bytes.TrimSpace(raw)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
	case raw[0] == '"':
		if err := json.Unmarshal(raw, &out.RawAddress); err != nil {
			return out, fmt.Errorf("address: %w", err)
		}
	case raw[0] == '{':
		var a orders.Address
		if err := json.Unmarshal(raw, &a); err != nil {
			return out, fmt.Errorf("address: %w", err)
		}
		out.Address = &a
	default:
		return out, errors.New("address must be a string or an object")
	}

	lines := r.Products
	if len(lines) == 0 {
		lines = r.ProductsOrdered
	}
	for _, l := range lines {
		qty := l.Quantity
		if qty == 0 {
			qty = l.ProductQty
		}
		out.Items = append(out.Items, fulfillment.LineRequest{
			ProductID: l.ProductID,
			Quantity:  qty,
			Name:      l.Name,
			Price:     l.Price,
		})
	}

	proof := r.PaymentProofReq
	if r.PaymentDetails != nil && !r.PaymentDetails.empty() {
		proof = *r.PaymentDetails
	}
	if !proof.empty() {
		pp := proof.proof()
		out.Payment = &orders.PaymentDetails{
			GatewayOrderID: pp.GatewayOrderID,
			PaymentID:      pp.PaymentID,
			Signature:      pp.Signature,
		}
	}
	return out, nil
}

type OrderIDReq struct {
	OrderID string `json:"orderId"`
}

type ShipmentStatusReq struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
