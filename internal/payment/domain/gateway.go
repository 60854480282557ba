package domain

import "context"

type ChargeRequest struct {
	OrderNumber   string
	Amount        int64
	PaymentMethod string
	CustomerID    string
	ItemName      string
}

type ChargeResponse struct {
	// GatewayRef is the gateway's identifier for the created transaction.
	GatewayRef string
	// PaymentURL is where the customer completes the payment.
	PaymentURL string
}

type RefundRequestGateway struct {
	OrderNumber string
	Amount      int64
	Reason      string
}

// Gateway abstracts the payment provider. Charge is retried internally on
// transient failures; a returned error is final.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResponse, error)
	// Refund asks the gateway to return money for a settled transaction.
	// Confirmation arrives asynchronously through the webhook.
	Refund(ctx context.Context, req RefundRequestGateway) error
	// VerifySignature checks the webhook signature field against the
	// shared server key.
	VerifySignature(n Notification) bool
}
