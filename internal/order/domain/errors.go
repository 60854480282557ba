package domain

import "errors"

var (
	ErrBookNotFound           = errors.New("book_not_found")
	ErrAlreadyPurchased       = errors.New("already_purchased")
	ErrDuplicateOrder         = errors.New("duplicate_order")
	ErrRateLimited            = errors.New("rate_limited")
	ErrOrderNotFound          = errors.New("order_not_found")
	ErrOrderNotPending        = errors.New("order_not_pending")
	ErrIdempotencyKeyConflict = errors.New("idempotency_key_conflict")
	ErrInvalidAmount          = errors.New("invalid_amount")
	ErrInvalidRequest         = errors.New("invalid_request")
)
