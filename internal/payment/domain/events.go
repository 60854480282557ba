package domain

// EventType is the normalized meaning of a gateway notification after
// status mapping.
type EventType string

const (
	EventSettlement EventType = "settlement"
	EventPending    EventType = "pending"
	EventFailure    EventType = "failure"
	EventCancel     EventType = "cancel"
	EventExpire     EventType = "expire"
	EventRefund     EventType = "refund"
)

// Notification is the decoded webhook body from the payment gateway.
// OrderRef carries the gateway-side order identifier, which is our
// order_number.
type Notification struct {
	OrderRef          string `json:"order_id"`
	TransactionID     string `json:"transaction_id"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	PaymentType       string `json:"payment_type"`

	// Raw is the verbatim request body, persisted into the dedup ledger
	// and the audit log.
	Raw []byte `json:"-"`
}

// Event maps transaction_status (and fraud_status for card captures) onto
// the normalized event type. Unrecognized statuses return ok=false and are
// acknowledged without effect.
func (n Notification) Event() (EventType, bool) {
	switch n.TransactionStatus {
	case "capture":
		switch n.FraudStatus {
		case "accept":
			return EventSettlement, true
		case "challenge":
			return EventPending, true
		}
		return "", false
	case "settlement":
		return EventSettlement, true
	case "pending":
		return EventPending, true
	case "deny", "failure":
		return EventFailure, true
	case "cancel":
		return EventCancel, true
	case "expire":
		return EventExpire, true
	case "refund", "partial_refund":
		return EventRefund, true
	}
	return "", false
}
