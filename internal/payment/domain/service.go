package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// IngestOutcome tells the webhook handler how to respond.
type IngestOutcome string

const (
	// OutcomeApplied means the event changed order state in this call.
	OutcomeApplied IngestOutcome = "applied"
	// OutcomeDuplicate means the event was fully processed by an earlier
	// delivery.
	OutcomeDuplicate IngestOutcome = "duplicate"
	// OutcomeNoEffect means the event was valid but the order had already
	// left the state the event applies to.
	OutcomeNoEffect IngestOutcome = "no_effect"
	// OutcomeIgnored means the transaction status is not one we act on.
	OutcomeIgnored IngestOutcome = "ignored"
)

type IngestResult struct {
	Outcome     IngestOutcome
	EventType   EventType
	OrderNumber string
}

type RefundRequest struct {
	OrderNumber string       `json:"-"`
	UserID      snowflake.ID `json:"-"`
	// Amount of zero means a full refund; partial amounts must not exceed
	// the order amount.
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

type Service interface {
	// IngestWebhook verifies, dedups and applies one gateway notification.
	IngestWebhook(ctx context.Context, n Notification) (*IngestResult, error)
	RequestRefund(ctx context.Context, req RefundRequest) (*Refund, error)
	// ResolveRefund finalizes a pending refund; on success the order moves
	// to refunded.
	ResolveRefund(ctx context.Context, orderNumber string, success bool) (*Refund, error)
}
