package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	orderdomain "github.com/smallbiznis/bookvault/internal/order/domain"
	paymentdomain "github.com/smallbiznis/bookvault/internal/payment/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

func respondError(c *gin.Context, err error) {
	status, payload := mapError(err)
	c.AbortWithStatusJSON(status, errorResponse{Error: payload})
}

func mapError(err error) (int, errorPayload) {
	switch {
	case err == nil:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	case errors.Is(err, orderdomain.ErrInvalidRequest),
		errors.Is(err, orderdomain.ErrInvalidAmount),
		errors.Is(err, paymentdomain.ErrEventUnsupported),
		errors.Is(err, paymentdomain.ErrAmountMismatch):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_request",
			Message: err.Error(),
		}
	case errors.Is(err, paymentdomain.ErrSignatureInvalid):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: err.Error(),
		}
	case errors.Is(err, orderdomain.ErrOrderNotFound),
		errors.Is(err, orderdomain.ErrBookNotFound),
		errors.Is(err, paymentdomain.ErrRefundNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: err.Error(),
		}
	case errors.Is(err, orderdomain.ErrAlreadyPurchased),
		errors.Is(err, orderdomain.ErrDuplicateOrder),
		errors.Is(err, orderdomain.ErrOrderNotPending),
		errors.Is(err, orderdomain.ErrIdempotencyKeyConflict),
		errors.Is(err, paymentdomain.ErrRefundExists),
		errors.Is(err, paymentdomain.ErrRefundNotAllowed),
		errors.Is(err, paymentdomain.ErrRefundNotPending):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case errors.Is(err, orderdomain.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: err.Error(),
		}
	case errors.Is(err, paymentdomain.ErrGatewayUnavailable):
		return http.StatusBadGateway, errorPayload{
			Type:    "gateway_unavailable",
			Message: err.Error(),
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}
