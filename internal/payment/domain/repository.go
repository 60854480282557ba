package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// InsertEvent appends to the dedup ledger. Returns inserted=false when a
	// row for (transaction_ref, event_type) already exists.
	InsertEvent(ctx context.Context, db *gorm.DB, event *WebhookEvent) (inserted bool, err error)
	FindEvent(ctx context.Context, db *gorm.DB, transactionRef string, eventType EventType) (*WebhookEvent, error)
	// MarkEventProcessed stamps processed_at after the event's effect has
	// been committed.
	MarkEventProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error

	InsertPaymentLog(ctx context.Context, tx *gorm.DB, log *PaymentLog) error
	ListPaymentLogs(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]PaymentLog, error)

	InsertRefund(ctx context.Context, tx *gorm.DB, refund *Refund) error
	FindRefundByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*Refund, error)
	// ResolveRefund moves a pending refund to its terminal status. Returns
	// false when the refund was not pending.
	ResolveRefund(ctx context.Context, tx *gorm.DB, id snowflake.ID, status RefundStatus, at time.Time) (bool, error)
}
