package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	orderdomain "github.com/smallbiznis/bookvault/internal/order/domain"
	paymentdomain "github.com/smallbiznis/bookvault/internal/payment/domain"
	"go.uber.org/zap"
)

// paymentWebhook receives gateway notifications. Replays and events for
// already-settled orders are acknowledged with 200 so the gateway stops
// retrying; transient failures return 5xx to request a redelivery.
func (s *Server) paymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		respondError(c, orderdomain.ErrInvalidRequest)
		return
	}

	var n paymentdomain.Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		respondError(c, orderdomain.ErrInvalidRequest)
		return
	}
	n.Raw = payload

	result, err := s.paymentSvc.IngestWebhook(c.Request.Context(), n)
	if err != nil {
		respondError(c, err)
		return
	}

	s.log.Info("webhook processed",
		zap.String("order_number", result.OrderNumber),
		zap.String("event_type", string(result.EventType)),
		zap.String("outcome", string(result.Outcome)),
	)
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"outcome": result.Outcome,
	})
}
