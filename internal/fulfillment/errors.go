package fulfillment

import (
	"errors"
	"fmt"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindPaymentVerification
	KindUpstreamUnavailable
	KindUpstreamRejected
	KindPersistence
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindPaymentVerification:
		return "payment_verification_failed"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	case KindUpstreamRejected:
		return "upstream_rejected"
	case KindPersistence:
		return "persistence"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is returned by every Service operation. Order is set when the order
// exists in the store, so callers can see where the saga stopped.
type Error struct {
	Kind  Kind
	Op    string
	Msg   string
	Err   error
	Order *orders.Order
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

func (e *Error) withOrder(o *orders.Order) *Error {
	e.Order = o
	return e
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// OrderOf returns the order attached to err, if any.
func OrderOf(err error) *orders.Order {
	var e *Error
	if errors.As(err, &e) {
		return e.Order
	}
	return nil
}

// IsRetryable reports whether the failed step may be retried as is.
func IsRetryable(err error) bool {
	return KindOf(err) == KindUpstreamUnavailable
}

func validationf(op, format string, args ...any) *Error {
	return newError(KindValidation, op, fmt.Sprintf(format, args...), nil)
}
