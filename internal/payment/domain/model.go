package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// WebhookEvent is the deduplication ledger: one row per
// (transaction_ref, event_type) pair ever received. processed_at is set only
// after the event's effect has been committed, which is how a replayed
// delivery is told apart from a retry of one that died mid-flight.
type WebhookEvent struct {
	ID             snowflake.ID   `json:"id" gorm:"primaryKey"`
	TransactionRef string         `json:"transaction_ref" gorm:"type:text;not null;uniqueIndex:uq_webhook_events_tx_event,priority:1"`
	EventType      EventType      `json:"event_type" gorm:"type:text;not null;uniqueIndex:uq_webhook_events_tx_event,priority:2"`
	OrderNumber    string         `json:"order_number" gorm:"type:text;not null;index"`
	Payload        datatypes.JSON `json:"payload"`
	ReceivedAt     time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt    *time.Time     `json:"processed_at"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }

// PaymentLog is the append-only audit record written in the same transaction
// as a successful settlement.
type PaymentLog struct {
	ID             snowflake.ID   `json:"id" gorm:"primaryKey"`
	OrderID        snowflake.ID   `json:"order_id" gorm:"not null;index"`
	TransactionRef string         `json:"transaction_ref" gorm:"type:text;not null"`
	EventType      EventType      `json:"event_type" gorm:"type:text;not null"`
	GrossAmount    int64          `json:"gross_amount" gorm:"not null"`
	RawPayload     datatypes.JSON `json:"raw_payload"`
	CreatedAt      time.Time      `json:"created_at"`
}

func (PaymentLog) TableName() string { return "payment_logs" }

type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundCompleted RefundStatus = "completed"
	RefundFailed    RefundStatus = "failed"
)

// Refund tracks the single allowed refund per order. The order stays paid
// while the refund is pending and moves to refunded only on completion.
type Refund struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	OrderID     snowflake.ID `json:"order_id" gorm:"not null;uniqueIndex:uq_refunds_order_id"`
	OrderNumber string       `json:"order_number" gorm:"type:text;not null"`
	Amount      int64        `json:"amount" gorm:"not null"`
	Reason      string       `json:"reason" gorm:"type:text"`
	Status      RefundStatus `json:"status" gorm:"type:text;not null;default:pending"`
	RequestedBy snowflake.ID `json:"requested_by" gorm:"not null"`
	CreatedAt   time.Time    `json:"created_at"`
	ResolvedAt  *time.Time   `json:"resolved_at"`
}

func (Refund) TableName() string { return "refunds" }
