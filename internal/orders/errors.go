package orders

import "errors"

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrUserNotFound      = errors.New("user not found")
	ErrProductNotFound   = errors.New("product not found")
	ErrVersionConflict   = errors.New("order was modified concurrently")
	ErrDuplicateOrder    = errors.New("idempotency key already used")
	ErrInvalidTransition = errors.New("invalid stage transition")
	ErrInvalidAddress    = errors.New("invalid shipping address")
)
