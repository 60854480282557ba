package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	bookdomain "github.com/smallbiznis/bookvault/internal/book/domain"
	"github.com/smallbiznis/bookvault/internal/clock"
	"github.com/smallbiznis/bookvault/internal/config"
	obsmetrics "github.com/smallbiznis/bookvault/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/bookvault/internal/order/domain"
	"github.com/smallbiznis/bookvault/internal/order/event"
	paymentdomain "github.com/smallbiznis/bookvault/internal/payment/domain"
	"github.com/smallbiznis/bookvault/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     config.Config
	Repo       orderdomain.Repository
	BookRepo   bookdomain.Repository
	Gateway    paymentdomain.Gateway
	Hub        *event.Hub
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	cfg        config.OrderConfig
	repo       orderdomain.Repository
	bookRepo   bookdomain.Repository
	gateway    paymentdomain.Gateway
	hub        *event.Hub
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) orderdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("order.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		cfg:        p.Config.Orders,
		repo:       p.Repo,
		bookRepo:   p.BookRepo,
		gateway:    p.Gateway,
		hub:        p.Hub,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Create(ctx context.Context, req orderdomain.CreateOrderRequest) (*orderdomain.CreateOrderResult, error) {
	if req.UserID == 0 || req.BookID == 0 {
		return nil, orderdomain.ErrInvalidRequest
	}
	req.PaymentMethod = strings.TrimSpace(req.PaymentMethod)
	if req.PaymentMethod == "" {
		return nil, orderdomain.ErrInvalidRequest
	}
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)

	now := s.clock.Now()

	// Every attempt spends a token, including ones that fail validation
	// further down.
	allowed, err := s.repo.ConsumeToken(ctx, s.db, req.UserID, s.cfg.RateLimitTokens, s.cfg.RateLimitWindow, now)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, orderdomain.ErrRateLimited
	}

	if req.IdempotencyKey != "" {
		existing, err := s.repo.FindByIdempotencyKey(ctx, s.db, req.UserID, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return s.replay(existing, req)
		}
	}

	book, err := s.bookRepo.FindByID(ctx, s.db, req.BookID)
	if err != nil {
		return nil, err
	}
	if book == nil || !book.IsActive {
		return nil, orderdomain.ErrBookNotFound
	}
	if book.Price <= 0 {
		return nil, orderdomain.ErrInvalidAmount
	}

	owned, err := s.repo.HasPurchase(ctx, s.db, req.UserID, req.BookID)
	if err != nil {
		return nil, err
	}
	if owned {
		return nil, orderdomain.ErrAlreadyPurchased
	}

	order := &orderdomain.Order{
		ID:            s.genID.Generate(),
		UserID:        &req.UserID,
		BookID:        &req.BookID,
		OrderNumber:   number(now),
		Amount:        book.Price,
		Status:        orderdomain.StatusPending,
		PaymentMethod: req.PaymentMethod,
		ExpiresAt:     now.Add(s.cfg.ExpiryHorizon),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		order.IdempotencyKey = &key
	}

	if err := s.insertWithRetry(ctx, order, now); err != nil {
		if !db.IsDuplicateKeyErr(err) {
			return nil, err
		}
		// The driver may have collapsed the violation into a bare
		// duplicate-key error, so re-query the key to find out which
		// constraint fired. A stored row means a concurrent request with
		// the same key won the insert race.
		if req.IdempotencyKey != "" {
			existing, ferr := s.repo.FindByIdempotencyKey(ctx, s.db, req.UserID, req.IdempotencyKey)
			if ferr != nil {
				return nil, ferr
			}
			if existing != nil {
				return s.replay(existing, req)
			}
		}
		return nil, orderdomain.ErrDuplicateOrder
	}

	if err := s.charge(ctx, order, book.Title); err != nil {
		return nil, err
	}

	s.publish(order.OrderNumber, "", orderdomain.StatusPending, now)
	s.obsMetrics.IncOrderCreated(false)
	s.log.Info("order created",
		zap.String("order_number", order.OrderNumber),
		zap.Int64("amount", order.Amount),
	)
	return &orderdomain.CreateOrderResult{Order: order}, nil
}

// replay returns the stored order for a repeated idempotency key, or rejects
// the request when the key is being reused for different parameters.
func (s *Service) replay(existing *orderdomain.Order, req orderdomain.CreateOrderRequest) (*orderdomain.CreateOrderResult, error) {
	if existing.BookID == nil || *existing.BookID != req.BookID ||
		!strings.EqualFold(existing.PaymentMethod, req.PaymentMethod) {
		return nil, orderdomain.ErrIdempotencyKeyConflict
	}
	s.obsMetrics.IncOrderCreated(true)
	return &orderdomain.CreateOrderResult{Order: existing, Replayed: true}, nil
}

// insertWithRetry retries once with fresh entropy when the generated order
// number collides. Idempotency-key collisions are the caller's problem. The
// translated duplicate error carries no constraint name, so the key is
// re-queried to tell the two apart.
func (s *Service) insertWithRetry(ctx context.Context, order *orderdomain.Order, now time.Time) error {
	err := s.repo.Insert(ctx, s.db, order)
	if err == nil || !db.IsDuplicateKeyErr(err) {
		return err
	}
	if order.IdempotencyKey != nil && order.UserID != nil {
		existing, ferr := s.repo.FindByIdempotencyKey(ctx, s.db, *order.UserID, *order.IdempotencyKey)
		if ferr != nil {
			return ferr
		}
		if existing != nil {
			return err
		}
	}
	order.OrderNumber = number(now)
	return s.repo.Insert(ctx, s.db, order)
}

// charge calls the gateway for the freshly inserted order. A final gateway
// failure moves the order to failed so the user can retry with a new order.
func (s *Service) charge(ctx context.Context, order *orderdomain.Order, itemName string) error {
	resp, err := s.gateway.Charge(ctx, paymentdomain.ChargeRequest{
		OrderNumber:   order.OrderNumber,
		Amount:        order.Amount,
		PaymentMethod: order.PaymentMethod,
		CustomerID:    order.UserID.String(),
		ItemName:      itemName,
	})
	if err != nil {
		s.obsMetrics.IncGatewayCharge("error")
		s.log.Error("gateway charge failed",
			zap.String("order_number", order.OrderNumber),
			zap.Error(err),
		)
		now := s.clock.Now()
		if ok, terr := s.repo.TransitionFromPending(ctx, s.db, order.ID, orderdomain.StatusFailed); terr != nil {
			s.log.Error("failed to mark order failed after charge error",
				zap.String("order_number", order.OrderNumber),
				zap.Error(terr),
			)
		} else if ok {
			s.publish(order.OrderNumber, orderdomain.StatusPending, orderdomain.StatusFailed, now)
		}
		return paymentdomain.ErrGatewayUnavailable
	}

	s.obsMetrics.IncGatewayCharge("ok")
	if err := s.repo.SetGatewayRef(ctx, s.db, order.ID, resp.GatewayRef, resp.PaymentURL); err != nil {
		return err
	}
	order.GatewayOrderRef = &resp.GatewayRef
	order.PaymentURL = &resp.PaymentURL
	return nil
}

func (s *Service) GetByOrderNumber(ctx context.Context, userID snowflake.ID, orderNumber string) (*orderdomain.Order, error) {
	order, err := s.repo.FindByOrderNumber(ctx, s.db, strings.TrimSpace(orderNumber))
	if err != nil {
		return nil, err
	}
	if order == nil || order.UserID == nil || *order.UserID != userID {
		return nil, orderdomain.ErrOrderNotFound
	}
	return order, nil
}

func (s *Service) ListByUser(ctx context.Context, req orderdomain.ListOrdersRequest) ([]orderdomain.Order, int64, error) {
	if req.UserID == 0 {
		return nil, 0, orderdomain.ErrInvalidRequest
	}
	if req.Limit <= 0 || req.Limit > 100 {
		req.Limit = 20
	}
	if req.Page < 1 {
		req.Page = 1
	}
	offset := (req.Page - 1) * req.Limit
	return s.repo.ListByUser(ctx, s.db, req.UserID, offset, req.Limit)
}

func (s *Service) Cancel(ctx context.Context, userID snowflake.ID, orderNumber string) (*orderdomain.Order, error) {
	var cancelled *orderdomain.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.repo.FindByOrderNumberForUpdate(ctx, tx, strings.TrimSpace(orderNumber))
		if err != nil {
			return err
		}
		if order == nil || order.UserID == nil || *order.UserID != userID {
			return orderdomain.ErrOrderNotFound
		}
		if order.Status != orderdomain.StatusPending {
			return orderdomain.ErrOrderNotPending
		}
		ok, err := s.repo.TransitionFromPending(ctx, tx, order.ID, orderdomain.StatusCancelled)
		if err != nil {
			return err
		}
		if !ok {
			return orderdomain.ErrOrderNotPending
		}
		order.Status = orderdomain.StatusCancelled
		cancelled = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	s.publish(cancelled.OrderNumber, orderdomain.StatusPending, orderdomain.StatusCancelled, now)
	s.obsMetrics.IncOrderTransition(string(orderdomain.StatusPending), string(orderdomain.StatusCancelled))
	s.log.Info("order cancelled", zap.String("order_number", cancelled.OrderNumber))
	return cancelled, nil
}

func (s *Service) ExpireDue(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = s.cfg.SweepBatchSize
	}
	now := s.clock.Now()

	due, err := s.repo.ListExpiredPending(ctx, s.db, now, limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range due {
		order := &due[i]
		// Guarded per order: a settlement that lands between the list and
		// this update wins and the transition is skipped.
		ok, err := s.repo.TransitionFromPending(ctx, s.db, order.ID, orderdomain.StatusExpired)
		if err != nil {
			return expired, err
		}
		if !ok {
			continue
		}
		expired++
		s.publish(order.OrderNumber, orderdomain.StatusPending, orderdomain.StatusExpired, now)
		s.obsMetrics.IncOrderTransition(string(orderdomain.StatusPending), string(orderdomain.StatusExpired))
	}

	if expired > 0 {
		s.log.Info("expired pending orders", zap.Int("count", expired))
	}
	return expired, nil
}

func (s *Service) publish(orderNumber string, from, to orderdomain.Status, at time.Time) {
	s.hub.Publish(event.Transition{
		OrderNumber: orderNumber,
		From:        from,
		To:          to,
		At:          at,
	})
}
