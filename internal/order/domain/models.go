package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Status is the order lifecycle state. The literal values are part of the
// stored data contract and must not change.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	StatusRefunded  Status = "refunded"
)

// Terminal reports whether no further transition is allowed from s other
// than paid -> refunded.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// Order is one purchase attempt. user_id and book_id are nullable so the
// row survives user/book deletion for audit.
type Order struct {
	ID              snowflake.ID  `json:"id" gorm:"primaryKey"`
	UserID          *snowflake.ID `json:"user_id" gorm:"index"`
	BookID          *snowflake.ID `json:"book_id"`
	OrderNumber     string        `json:"order_number" gorm:"type:text;not null;uniqueIndex:uq_orders_order_number"`
	Amount          int64         `json:"amount" gorm:"not null"`
	Status          Status        `json:"status" gorm:"type:text;not null;default:pending"`
	PaymentMethod   string        `json:"payment_method" gorm:"type:text;not null"`
	GatewayOrderRef *string       `json:"gateway_order_ref" gorm:"uniqueIndex:uq_orders_gateway_order_ref"`
	PaymentURL      *string       `json:"payment_url"`
	IdempotencyKey  *string       `json:"idempotency_key,omitempty" gorm:"uniqueIndex:uq_orders_idempotency_key"`
	PaidAt          *time.Time    `json:"paid_at"`
	ExpiresAt       time.Time     `json:"expires_at" gorm:"not null"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

func (Order) TableName() string { return "orders" }

// Purchase is proof of completed ownership: one row per (user, book),
// created in the same transaction as the pending -> paid transition.
type Purchase struct {
	ID               snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID           snowflake.ID `json:"user_id" gorm:"not null;uniqueIndex:uq_user_purchases_user_book,priority:1"`
	BookID           snowflake.ID `json:"book_id" gorm:"not null;uniqueIndex:uq_user_purchases_user_book,priority:2"`
	OrderID          snowflake.ID `json:"order_id" gorm:"not null;index"`
	PurchasedAt      time.Time    `json:"purchased_at" gorm:"not null"`
	DownloadCount    int          `json:"download_count" gorm:"not null;default:0"`
	LastDownloadedAt *time.Time   `json:"last_downloaded_at"`
}

func (Purchase) TableName() string { return "user_purchases" }

// RateLimitBucket is the per-user token bucket governing order creation
// attempts. It is refilled on a fixed window and decremented transactionally
// on every attempt regardless of outcome.
type RateLimitBucket struct {
	UserID     snowflake.ID `gorm:"primaryKey;column:user_id"`
	Tokens     int          `gorm:"not null"`
	RefilledAt time.Time    `gorm:"not null"`
}

func (RateLimitBucket) TableName() string { return "user_order_buckets" }
