package domain

import "errors"

var (
	ErrSignatureInvalid   = errors.New("signature_invalid")
	ErrEventUnsupported   = errors.New("event_unsupported")
	ErrAmountMismatch     = errors.New("amount_mismatch")
	ErrRefundNotAllowed   = errors.New("refund_not_allowed")
	ErrRefundExists       = errors.New("refund_exists")
	ErrRefundNotFound     = errors.New("refund_not_found")
	ErrRefundNotPending   = errors.New("refund_not_pending")
	ErrGatewayUnavailable = errors.New("gateway_unavailable")
)
