package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	orderdomain "github.com/smallbiznis/bookvault/internal/order/domain"
	paymentdomain "github.com/smallbiznis/bookvault/internal/payment/domain"
)

type createOrderRequest struct {
	BookID         string `json:"book_id" binding:"required"`
	PaymentMethod  string `json:"payment_method" binding:"required"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (s *Server) createOrder(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, orderdomain.ErrInvalidRequest)
		return
	}
	bookID, err := snowflake.ParseString(strings.TrimSpace(req.BookID))
	if err != nil {
		respondError(c, orderdomain.ErrInvalidRequest)
		return
	}
	key := req.IdempotencyKey
	if header := strings.TrimSpace(c.GetHeader("Idempotency-Key")); header != "" {
		key = header
	}

	result, err := s.orderSvc.Create(c.Request.Context(), orderdomain.CreateOrderRequest{
		UserID:         uid,
		BookID:         bookID,
		PaymentMethod:  req.PaymentMethod,
		IdempotencyKey: key,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"order":    result.Order,
		"replayed": result.Replayed,
	})
}

func (s *Server) getOrder(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}

	order, err := s.orderSvc.GetByOrderNumber(c.Request.Context(), uid, c.Param("order_number"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

func (s *Server) listOrders(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	orders, total, err := s.orderSvc.ListByUser(c.Request.Context(), orderdomain.ListOrdersRequest{
		UserID: uid,
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"total":  total,
		"page":   page,
		"limit":  limit,
	})
}

func (s *Server) cancelOrder(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}

	order, err := s.orderSvc.Cancel(c.Request.Context(), uid, c.Param("order_number"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

type refundRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

func (s *Server) requestRefund(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}

	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		respondError(c, orderdomain.ErrInvalidRequest)
		return
	}

	refund, err := s.paymentSvc.RequestRefund(c.Request.Context(), paymentdomain.RefundRequest{
		OrderNumber: c.Param("order_number"),
		UserID:      uid,
		Amount:      req.Amount,
		Reason:      req.Reason,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"refund": refund})
}

type resolveRefundRequest struct {
	Success bool `json:"success"`
}

func (s *Server) resolveRefund(c *gin.Context) {
	var req resolveRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, orderdomain.ErrInvalidRequest)
		return
	}

	refund, err := s.paymentSvc.ResolveRefund(c.Request.Context(), c.Param("order_number"), req.Success)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"refund": refund})
}

// streamOrderEvents returns the buffered transition history for an order.
// Live delivery goes through the hub subscription used by the monitor.
func (s *Server) streamOrderEvents(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	orderNumber := c.Param("order_number")
	if _, err := s.orderSvc.GetByOrderNumber(c.Request.Context(), uid, orderNumber); err != nil {
		respondError(c, err)
		return
	}

	sub, backlog, err := s.hub.Subscribe(orderNumber)
	if err != nil {
		respondError(c, orderdomain.ErrInvalidRequest)
		return
	}
	defer sub.Close()

	c.JSON(http.StatusOK, gin.H{"events": backlog})
}
