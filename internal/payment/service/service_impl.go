package service

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/bookvault/internal/clock"
	obsmetrics "github.com/smallbiznis/bookvault/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/bookvault/internal/order/domain"
	"github.com/smallbiznis/bookvault/internal/order/event"
	paymentdomain "github.com/smallbiznis/bookvault/internal/payment/domain"
	"github.com/smallbiznis/bookvault/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       paymentdomain.Repository
	OrderRepo  orderdomain.Repository
	Gateway    paymentdomain.Gateway
	Hub        *event.Hub
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       paymentdomain.Repository
	orderRepo  orderdomain.Repository
	gateway    paymentdomain.Gateway
	hub        *event.Hub
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		orderRepo:  p.OrderRepo,
		gateway:    p.Gateway,
		hub:        p.Hub,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) IngestWebhook(ctx context.Context, n paymentdomain.Notification) (*paymentdomain.IngestResult, error) {
	n.OrderRef = strings.TrimSpace(n.OrderRef)
	n.TransactionID = strings.TrimSpace(n.TransactionID)
	if n.OrderRef == "" || n.TransactionID == "" {
		return nil, paymentdomain.ErrEventUnsupported
	}
	if !s.gateway.VerifySignature(n) {
		s.log.Warn("webhook signature rejected", zap.String("order_number", n.OrderRef))
		return nil, paymentdomain.ErrSignatureInvalid
	}

	eventType, ok := n.Event()
	if !ok {
		s.log.Info("ignoring unsupported transaction status",
			zap.String("order_number", n.OrderRef),
			zap.String("transaction_status", n.TransactionStatus),
		)
		s.obsMetrics.IncWebhookEvent(n.TransactionStatus, string(paymentdomain.OutcomeIgnored))
		return &paymentdomain.IngestResult{
			Outcome:     paymentdomain.OutcomeIgnored,
			OrderNumber: n.OrderRef,
		}, nil
	}

	now := s.clock.Now()
	received := paymentdomain.WebhookEvent{
		ID:             s.genID.Generate(),
		TransactionRef: n.TransactionID,
		EventType:      eventType,
		OrderNumber:    n.OrderRef,
		Payload:        datatypes.JSON(n.Raw),
		ReceivedAt:     now,
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &received)
	if err != nil {
		return nil, err
	}
	stored := &received
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, n.TransactionID, eventType)
		if err != nil {
			return nil, err
		}
		if stored == nil {
			return nil, paymentdomain.ErrEventUnsupported
		}
		if stored.ProcessedAt != nil {
			// Fully handled by an earlier delivery.
			s.obsMetrics.IncWebhookEvent(string(eventType), string(paymentdomain.OutcomeDuplicate))
			return &paymentdomain.IngestResult{
				Outcome:     paymentdomain.OutcomeDuplicate,
				EventType:   eventType,
				OrderNumber: n.OrderRef,
			}, nil
		}
		// Ledger row exists but processed_at is unset: the previous attempt
		// died before commit, so reapplying is safe.
	}

	applied, err := s.apply(ctx, eventType, n)
	if err != nil {
		return nil, err
	}

	if err := s.repo.MarkEventProcessed(ctx, s.db, stored.ID, s.clock.Now()); err != nil {
		return nil, err
	}

	outcome := paymentdomain.OutcomeApplied
	if !applied {
		outcome = paymentdomain.OutcomeNoEffect
	}
	s.obsMetrics.IncWebhookEvent(string(eventType), string(outcome))
	return &paymentdomain.IngestResult{
		Outcome:     outcome,
		EventType:   eventType,
		OrderNumber: n.OrderRef,
	}, nil
}

func (s *Service) apply(ctx context.Context, eventType paymentdomain.EventType, n paymentdomain.Notification) (bool, error) {
	switch eventType {
	case paymentdomain.EventSettlement:
		return s.settle(ctx, n)
	case paymentdomain.EventPending:
		// The order is already pending; the ledger row is the only effect.
		return false, nil
	case paymentdomain.EventFailure:
		return s.transition(ctx, n, orderdomain.StatusFailed)
	case paymentdomain.EventCancel:
		return s.transition(ctx, n, orderdomain.StatusCancelled)
	case paymentdomain.EventExpire:
		return s.transition(ctx, n, orderdomain.StatusExpired)
	case paymentdomain.EventRefund:
		return s.refundFromGateway(ctx, n)
	}
	return false, paymentdomain.ErrEventUnsupported
}

// settle performs the pending -> paid transition, grants ownership and writes
// the audit log in one transaction. A crash after commit leaves the ledger
// row unprocessed; the redelivery then finds the purchase and reports success
// without reapplying.
func (s *Service) settle(ctx context.Context, n paymentdomain.Notification) (bool, error) {
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.orderRepo.FindByOrderNumberForUpdate(ctx, tx, n.OrderRef)
		if err != nil {
			return err
		}
		if order == nil {
			s.log.Warn("settlement for unknown order", zap.String("order_number", n.OrderRef))
			return orderdomain.ErrOrderNotFound
		}

		amount, err := parseGrossAmount(n.GrossAmount)
		if err != nil || amount != order.Amount {
			s.log.Error("settlement amount mismatch",
				zap.String("order_number", n.OrderRef),
				zap.String("gross_amount", n.GrossAmount),
				zap.Int64("expected", order.Amount),
			)
			return paymentdomain.ErrAmountMismatch
		}

		if order.Status == orderdomain.StatusPaid {
			purchase, err := s.orderRepo.FindPurchaseByOrder(ctx, tx, order.ID)
			if err != nil {
				return err
			}
			if purchase != nil {
				// Earlier settlement committed; nothing left to do.
				return nil
			}
			// Paid without ownership should not happen; repair it below by
			// granting the purchase.
		} else if order.Status != orderdomain.StatusPending {
			// An expiry sweep or cancellation won the race; the order cannot
			// be re-settled.
			s.log.Warn("settlement for order in terminal status",
				zap.String("order_number", order.OrderNumber),
				zap.String("status", string(order.Status)),
			)
			return orderdomain.ErrOrderNotPending
		}

		now := s.clock.Now()
		if order.Status == orderdomain.StatusPending {
			if order.UserID != nil && order.BookID != nil {
				owned, err := s.orderRepo.HasPurchase(ctx, tx, *order.UserID, *order.BookID)
				if err != nil {
					return err
				}
				if owned {
					// A different order for the same book settled first. At
					// most one paid order per (user, book); this one stays
					// pending for the sweep.
					s.log.Warn("settlement for already-owned book",
						zap.String("order_number", order.OrderNumber),
					)
					return nil
				}
			}
			ok, err := s.orderRepo.MarkPaid(ctx, tx, order.ID, now)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
		}

		if order.UserID != nil && order.BookID != nil {
			purchase := &orderdomain.Purchase{
				ID:          s.genID.Generate(),
				UserID:      *order.UserID,
				BookID:      *order.BookID,
				OrderID:     order.ID,
				PurchasedAt: now,
			}
			if err := s.orderRepo.InsertPurchase(ctx, tx, purchase); err != nil {
				if !db.IsDuplicateKeyErr(err) {
					return err
				}
			}
		}

		amountLogged := order.Amount
		if err := s.repo.InsertPaymentLog(ctx, tx, &paymentdomain.PaymentLog{
			ID:             s.genID.Generate(),
			OrderID:        order.ID,
			TransactionRef: n.TransactionID,
			EventType:      paymentdomain.EventSettlement,
			GrossAmount:    amountLogged,
			RawPayload:     datatypes.JSON(n.Raw),
			CreatedAt:      now,
		}); err != nil {
			return err
		}

		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if applied {
		now := s.clock.Now()
		s.hub.Publish(event.Transition{
			OrderNumber: n.OrderRef,
			From:        orderdomain.StatusPending,
			To:          orderdomain.StatusPaid,
			At:          now,
		})
		s.obsMetrics.IncOrderTransition(string(orderdomain.StatusPending), string(orderdomain.StatusPaid))
		s.log.Info("order settled", zap.String("order_number", n.OrderRef))
	}
	return applied, nil
}

// transition applies a terminal non-paid status from a gateway event. Orders
// that already left pending are untouched.
func (s *Service) transition(ctx context.Context, n paymentdomain.Notification, to orderdomain.Status) (bool, error) {
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.orderRepo.FindByOrderNumberForUpdate(ctx, tx, n.OrderRef)
		if err != nil {
			return err
		}
		if order == nil {
			s.log.Warn("event for unknown order",
				zap.String("order_number", n.OrderRef),
				zap.String("to", string(to)),
			)
			return orderdomain.ErrOrderNotFound
		}
		if order.Status != orderdomain.StatusPending {
			return nil
		}
		ok, err := s.orderRepo.TransitionFromPending(ctx, tx, order.ID, to)
		if err != nil {
			return err
		}
		applied = ok
		return nil
	})
	if err != nil {
		return false, err
	}

	if applied {
		s.hub.Publish(event.Transition{
			OrderNumber: n.OrderRef,
			From:        orderdomain.StatusPending,
			To:          to,
			At:          s.clock.Now(),
		})
		s.obsMetrics.IncOrderTransition(string(orderdomain.StatusPending), string(to))
		s.log.Info("order transitioned",
			zap.String("order_number", n.OrderRef),
			zap.String("to", string(to)),
		)
	}
	return applied, nil
}

// refundFromGateway confirms a refund reported by the gateway. A pending
// refund row is resolved; a refund initiated on the gateway's side without a
// local request gets a completed row created for it.
func (s *Service) refundFromGateway(ctx context.Context, n paymentdomain.Notification) (bool, error) {
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.orderRepo.FindByOrderNumberForUpdate(ctx, tx, n.OrderRef)
		if err != nil {
			return err
		}
		if order == nil {
			return orderdomain.ErrOrderNotFound
		}

		now := s.clock.Now()
		refund, err := s.repo.FindRefundByOrder(ctx, tx, order.ID)
		if err != nil {
			return err
		}

		switch {
		case refund != nil && refund.Status == paymentdomain.RefundPending:
			ok, err := s.repo.ResolveRefund(ctx, tx, refund.ID, paymentdomain.RefundCompleted, now)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
		case refund != nil:
			// Already resolved by an earlier delivery or operator action.
			return nil
		case order.Status == orderdomain.StatusPaid:
			// Refund initiated on the gateway dashboard; record it.
			created := &paymentdomain.Refund{
				ID:          s.genID.Generate(),
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				Amount:      order.Amount,
				Reason:      "gateway_initiated",
				Status:      paymentdomain.RefundCompleted,
				CreatedAt:   now,
				ResolvedAt:  &now,
			}
			if err := s.repo.InsertRefund(ctx, tx, created); err != nil {
				return err
			}
		default:
			s.log.Warn("refund event for order that is not paid",
				zap.String("order_number", order.OrderNumber),
				zap.String("status", string(order.Status)),
			)
			return nil
		}

		if order.Status == orderdomain.StatusPaid {
			if _, err := s.orderRepo.MarkRefunded(ctx, tx, order.ID); err != nil {
				return err
			}
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if applied {
		s.hub.Publish(event.Transition{
			OrderNumber: n.OrderRef,
			From:        orderdomain.StatusPaid,
			To:          orderdomain.StatusRefunded,
			At:          s.clock.Now(),
		})
		s.obsMetrics.IncOrderTransition(string(orderdomain.StatusPaid), string(orderdomain.StatusRefunded))
		s.obsMetrics.IncRefund(string(paymentdomain.RefundCompleted))
		s.log.Info("refund confirmed by gateway", zap.String("order_number", n.OrderRef))
	}
	return applied, nil
}

func (s *Service) RequestRefund(ctx context.Context, req paymentdomain.RefundRequest) (*paymentdomain.Refund, error) {
	req.OrderNumber = strings.TrimSpace(req.OrderNumber)
	if req.OrderNumber == "" || req.UserID == 0 {
		return nil, orderdomain.ErrInvalidRequest
	}

	var refund *paymentdomain.Refund
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.orderRepo.FindByOrderNumberForUpdate(ctx, tx, req.OrderNumber)
		if err != nil {
			return err
		}
		if order == nil || order.UserID == nil || *order.UserID != req.UserID {
			return orderdomain.ErrOrderNotFound
		}
		if order.Status != orderdomain.StatusPaid {
			return paymentdomain.ErrRefundNotAllowed
		}

		existing, err := s.repo.FindRefundByOrder(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return paymentdomain.ErrRefundExists
		}

		amount := req.Amount
		if amount == 0 {
			amount = order.Amount
		}
		if amount < 0 || amount > order.Amount {
			return orderdomain.ErrInvalidAmount
		}

		refund = &paymentdomain.Refund{
			ID:          s.genID.Generate(),
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			Amount:      amount,
			Reason:      strings.TrimSpace(req.Reason),
			Status:      paymentdomain.RefundPending,
			RequestedBy: req.UserID,
			CreatedAt:   s.clock.Now(),
		}
		if err := s.repo.InsertRefund(ctx, tx, refund); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return paymentdomain.ErrRefundExists
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// The gateway call stays outside the transaction; the refund row is
	// already durable and the webhook confirms the outcome.
	if err := s.gateway.Refund(ctx, paymentdomain.RefundRequestGateway{
		OrderNumber: refund.OrderNumber,
		Amount:      refund.Amount,
		Reason:      refund.Reason,
	}); err != nil {
		s.log.Warn("gateway refund request failed, awaiting manual resolution",
			zap.String("order_number", refund.OrderNumber),
			zap.Error(err),
		)
	}

	s.obsMetrics.IncRefund(string(paymentdomain.RefundPending))
	s.log.Info("refund requested", zap.String("order_number", refund.OrderNumber))
	return refund, nil
}

func (s *Service) ResolveRefund(ctx context.Context, orderNumber string, success bool) (*paymentdomain.Refund, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return nil, orderdomain.ErrInvalidRequest
	}

	status := paymentdomain.RefundFailed
	if success {
		status = paymentdomain.RefundCompleted
	}

	var refund *paymentdomain.Refund
	var refunded bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.orderRepo.FindByOrderNumberForUpdate(ctx, tx, orderNumber)
		if err != nil {
			return err
		}
		if order == nil {
			return orderdomain.ErrOrderNotFound
		}

		refund, err = s.repo.FindRefundByOrder(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if refund == nil {
			return paymentdomain.ErrRefundNotFound
		}

		now := s.clock.Now()
		ok, err := s.repo.ResolveRefund(ctx, tx, refund.ID, status, now)
		if err != nil {
			return err
		}
		if !ok {
			return paymentdomain.ErrRefundNotPending
		}
		refund.Status = status
		refund.ResolvedAt = &now

		if success {
			ok, err := s.orderRepo.MarkRefunded(ctx, tx, order.ID)
			if err != nil {
				return err
			}
			refunded = ok
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if refunded {
		s.hub.Publish(event.Transition{
			OrderNumber: orderNumber,
			From:        orderdomain.StatusPaid,
			To:          orderdomain.StatusRefunded,
			At:          s.clock.Now(),
		})
		s.obsMetrics.IncOrderTransition(string(orderdomain.StatusPaid), string(orderdomain.StatusRefunded))
	}
	s.obsMetrics.IncRefund(string(status))
	s.log.Info("refund resolved",
		zap.String("order_number", orderNumber),
		zap.String("status", string(status)),
	)
	return refund, nil
}

// parseGrossAmount reads the gateway's decimal string ("290000.00") into
// whole currency units.
func parseGrossAmount(raw string) (int64, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, err
	}
	return int64(math.Round(value)), nil
}
