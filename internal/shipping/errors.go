package shipping

import (
	"errors"
	"fmt"
)

var (
	// ErrCarrierUnavailable covers network failures, timeouts and 5xx answers. Retryable.
	ErrCarrierUnavailable = errors.New("carrier unavailable")
	// ErrCarrierRejected is matched by every *RejectedError. Terminal for the attempt.
	ErrCarrierRejected = errors.New("carrier rejected request")
)

type RejectedError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("carrier rejected %s (%d): %s", e.Op, e.StatusCode, e.Message)
}

func (e *RejectedError) Is(target error) bool { return target == ErrCarrierRejected }
