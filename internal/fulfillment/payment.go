package fulfillment

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/payment"
)

type IntentRequest struct {
	UserID   string
	Amount   decimal.Decimal // major units, e.g. rupees
	Currency string
	Receipt  string
}

const opIntent = "create_payment_intent"

// CreatePaymentIntent opens a gateway order for a prepaid checkout. Nothing
// is persisted; the order is stored later by PlaceOrder.
func (s *Service) CreatePaymentIntent(ctx context.Context, req IntentRequest) (payment.Intent, error) {
	intent, err := s.createPaymentIntent(ctx, req)
	step("create_intent", err)
	return intent, err
}

func (s *Service) createPaymentIntent(ctx context.Context, req IntentRequest) (payment.Intent, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return payment.Intent{}, validationf(opIntent, "userId is required")
	}
	if !req.Amount.IsPositive() {
		return payment.Intent{}, validationf(opIntent, "amount must be positive")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.opts.DefaultCurrency
	}
	receipt := req.Receipt
	if receipt == "" {
		receipt = "rcpt_" + uuid.NewString()
	}

	intent, err := s.gateway.CreateIntent(ctx, orders.MinorUnits(req.Amount), currency, receipt, map[string]string{"user": req.UserID})
	switch {
	case err == nil:
		s.log.Info("payment intent created", "gateway_order_id", intent.ID, "user_id", req.UserID)
		return intent, nil
	case errors.Is(err, payment.ErrGatewayRejected):
		return payment.Intent{}, newError(KindUpstreamRejected, opIntent, "gateway rejected intent", err)
	default:
		return payment.Intent{}, newError(KindUpstreamUnavailable, opIntent, "gateway unavailable", err)
	}
}

type PaymentProof struct {
	GatewayOrderID string
	PaymentID      string
	Signature      string
}

// VerifyPayment checks a checkout signature without touching any order.
func (s *Service) VerifyPayment(_ context.Context, p PaymentProof) (bool, error) {
	if p.GatewayOrderID == "" || p.PaymentID == "" || p.Signature == "" {
		return false, validationf("verify_payment", "gatewayOrderId, paymentId and signature are required")
	}
	ok := s.gateway.VerifySignature(p.GatewayOrderID, p.PaymentID, p.Signature)
	if !ok {
		s.log.Warn("payment signature mismatch", "gateway_order_id", p.GatewayOrderID)
	}
	return ok, nil
}
