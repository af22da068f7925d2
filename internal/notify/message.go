package notify

import (
	"fmt"
	"strings"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

// Compose renders the plain-text subject and body for an event.
func Compose(eventType string, p orders.NotificationPayload) (subject, body string, err error) {
	var b strings.Builder
	name := p.CustomerName
	if name == "" {
		name = "customer"
	}
	fmt.Fprintf(&b, "Hello %s,\n\n", name)

	switch eventType {
	case orders.EventOrderPlaced:
		subject = fmt.Sprintf("Order %s confirmed", p.OrderID)
		fmt.Fprintf(&b, "Thank you for your order %s.\n\n", p.OrderID)
		for _, it := range p.Items {
			fmt.Fprintf(&b, "  %d x %s @ %s %s\n", it.Quantity, it.Name, it.Price.StringFixed(2), p.Currency)
		}
		fmt.Fprintf(&b, "\nTotal: %s %s\n", p.TotalAmount.StringFixed(2), p.Currency)
		if p.PaymentMethod == orders.PaymentCashOnDelivery {
			b.WriteString("Payment: cash on delivery\n")
		}
		if p.TrackingID != "" {
			fmt.Fprintf(&b, "Tracking number: %s\n", p.TrackingID)
		}
	case orders.EventOrderCancelled:
		subject = fmt.Sprintf("Order %s cancelled", p.OrderID)
		fmt.Fprintf(&b, "Your order %s has been cancelled.\n", p.OrderID)
	default:
		return "", "", fmt.Errorf("unknown event type %q", eventType)
	}
	b.WriteString("\nThanks for shopping with us.\n")
	return subject, b.String(), nil
}
