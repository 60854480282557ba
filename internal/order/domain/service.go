package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type CreateOrderRequest struct {
	UserID         snowflake.ID `json:"-"`
	BookID         snowflake.ID `json:"book_id"`
	PaymentMethod  string       `json:"payment_method"`
	IdempotencyKey string       `json:"idempotency_key"`
}

// CreateOrderResult carries the order plus whether this call replayed an
// earlier creation instead of producing a new row.
type CreateOrderResult struct {
	Order    *Order
	Replayed bool
}

type ListOrdersRequest struct {
	UserID snowflake.ID
	Page   int
	Limit  int
}

type Service interface {
	Create(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error)
	GetByOrderNumber(ctx context.Context, userID snowflake.ID, orderNumber string) (*Order, error)
	ListByUser(ctx context.Context, req ListOrdersRequest) ([]Order, int64, error)
	// Cancel performs a user-initiated pending -> cancelled transition.
	Cancel(ctx context.Context, userID snowflake.ID, orderNumber string) (*Order, error)
	// ExpireDue sweeps pending orders past their deadline into expired,
	// one guarded transition per order. Returns the number expired.
	ExpireDue(ctx context.Context, limit int) (int, error)
}
