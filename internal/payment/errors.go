package payment

import (
	"errors"
	"fmt"
)

var (
	// ErrGatewayUnavailable covers network failures, timeouts and 5xx answers.
	// The caller may retry with the same idempotency key.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrGatewayRejected    = errors.New("payment gateway rejected request")
)

type RejectedError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("payment gateway rejected request (%d %s): %s", e.StatusCode, e.Code, e.Description)
}

func (e *RejectedError) Is(target error) bool { return target == ErrGatewayRejected }
