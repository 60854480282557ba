package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	bookdomain "github.com/smallbiznis/bookvault/internal/book/domain"
	bookrepo "github.com/smallbiznis/bookvault/internal/book/repository"
	"github.com/smallbiznis/bookvault/internal/clock"
	"github.com/smallbiznis/bookvault/internal/config"
	orderdomain "github.com/smallbiznis/bookvault/internal/order/domain"
	"github.com/smallbiznis/bookvault/internal/order/event"
	orderrepo "github.com/smallbiznis/bookvault/internal/order/repository"
	orderservice "github.com/smallbiznis/bookvault/internal/order/service"
	paymentdomain "github.com/smallbiznis/bookvault/internal/payment/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubGateway struct {
	chargeErr error
	calls     int
}

func (g *stubGateway) Charge(ctx context.Context, req paymentdomain.ChargeRequest) (*paymentdomain.ChargeResponse, error) {
	g.calls++
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	return &paymentdomain.ChargeResponse{
		GatewayRef: "snap-" + req.OrderNumber,
		PaymentURL: "https://pay.example/" + req.OrderNumber,
	}, nil
}

func (g *stubGateway) Refund(ctx context.Context, req paymentdomain.RefundRequestGateway) error {
	return nil
}

func (g *stubGateway) VerifySignature(n paymentdomain.Notification) bool { return true }

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_order_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE books (
			id BIGINT PRIMARY KEY,
			title TEXT NOT NULL,
			author TEXT NOT NULL,
			price BIGINT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at DATETIME,
			updated_at DATETIME
		)`,
		`CREATE TABLE orders (
			id BIGINT PRIMARY KEY,
			user_id BIGINT,
			book_id BIGINT,
			order_number TEXT NOT NULL,
			amount BIGINT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			payment_method TEXT NOT NULL,
			gateway_order_ref TEXT,
			payment_url TEXT,
			idempotency_key TEXT,
			paid_at DATETIME,
			expires_at DATETIME NOT NULL,
			created_at DATETIME,
			updated_at DATETIME
		)`,
		`CREATE UNIQUE INDEX uq_orders_order_number ON orders(order_number)`,
		`CREATE UNIQUE INDEX uq_orders_idempotency_key ON orders(idempotency_key)`,
		`CREATE TABLE user_purchases (
			id BIGINT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			book_id BIGINT NOT NULL,
			order_id BIGINT NOT NULL,
			purchased_at DATETIME NOT NULL,
			download_count INTEGER NOT NULL DEFAULT 0,
			last_downloaded_at DATETIME
		)`,
		`CREATE UNIQUE INDEX uq_user_purchases_user_book ON user_purchases(user_id, book_id)`,
		`CREATE TABLE user_order_buckets (
			user_id BIGINT PRIMARY KEY,
			tokens INTEGER NOT NULL,
			refilled_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("schema exec failed: %v", err)
		}
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		Orders: config.OrderConfig{
			ExpiryHorizon:   24 * time.Hour,
			SweepBatchSize:  100,
			RateLimitTokens: 5,
			RateLimitWindow: time.Hour,
		},
	}
}

func newTestService(t *testing.T, db *gorm.DB, clk clock.Clock, gw paymentdomain.Gateway) (orderdomain.Service, *snowflake.Node) {
	t.Helper()
	node, err := snowflake.NewNode(7)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	svc := orderservice.NewService(orderservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Config:   testConfig(),
		Repo:     orderrepo.Provide(),
		BookRepo: bookrepo.Provide(),
		Gateway:  gw,
		Hub:      event.NewHub(),
	})
	return svc, node
}

func seedBook(t *testing.T, db *gorm.DB, node *snowflake.Node, price int64, active bool) snowflake.ID {
	t.Helper()
	book := bookdomain.Book{
		ID:       node.Generate(),
		Title:    "Distributed Systems Field Guide",
		Author:   "R. Tan",
		Price:    price,
		IsActive: active,
	}
	if err := db.Create(&book).Error; err != nil {
		t.Fatalf("seed book: %v", err)
	}
	return book.ID
}

func TestCreateOrder(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	gw := &stubGateway{}
	svc, node := newTestService(t, db, clk, gw)

	bookID := seedBook(t, db, node, 290000, true)
	userID := node.Generate()

	result, err := svc.Create(ctx, orderdomain.CreateOrderRequest{
		UserID:        userID,
		BookID:        bookID,
		PaymentMethod: "qris",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	order := result.Order
	if result.Replayed {
		t.Fatal("fresh order reported as replayed")
	}
	if order.Status != orderdomain.StatusPending {
		t.Fatalf("status = %s, want pending", order.Status)
	}
	if order.Amount != 290000 {
		t.Fatalf("amount = %d, want book price 290000", order.Amount)
	}
	if !strings.HasPrefix(order.OrderNumber, "ORD-20260310-") {
		t.Fatalf("order number %q lacks date prefix", order.OrderNumber)
	}
	if order.GatewayOrderRef == nil || *order.GatewayOrderRef == "" {
		t.Fatal("gateway ref not recorded")
	}
	if want := clk.Now().Add(24 * time.Hour); !order.ExpiresAt.Equal(want) {
		t.Fatalf("expires_at = %v, want %v", order.ExpiresAt, want)
	}
	if gw.calls != 1 {
		t.Fatalf("gateway calls = %d, want 1", gw.calls)
	}
}

func TestCreateOrderIdempotentReplay(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	gw := &stubGateway{}
	svc, node := newTestService(t, db, clk, gw)

	bookID := seedBook(t, db, node, 150000, true)
	userID := node.Generate()

	first, err := svc.Create(ctx, orderdomain.CreateOrderRequest{
		UserID:         userID,
		BookID:         bookID,
		PaymentMethod:  "qris",
		IdempotencyKey: "order-attempt-1",
	})
	if err != nil {
		t.Fatalf("first create: %v", err)
	}

	second, err := svc.Create(ctx, orderdomain.CreateOrderRequest{
		UserID:         userID,
		BookID:         bookID,
		PaymentMethod:  "qris",
		IdempotencyKey: "order-attempt-1",
	})
	if err != nil {
		t.Fatalf("replay create: %v", err)
	}
	if !second.Replayed {
		t.Fatal("replay not flagged")
	}
	if second.Order.ID != first.Order.ID {
		t.Fatalf("replay returned different order: %v vs %v", second.Order.ID, first.Order.ID)
	}

	var count int64
	if err := db.Model(&orderdomain.Order{}).Count(&count).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if count != 1 {
		t.Fatalf("orders = %d, want 1", count)
	}
	if gw.calls != 1 {
		t.Fatalf("gateway calls = %d, want 1 (replay must not re-charge)", gw.calls)
	}
}

// racingRepo simulates a concurrent creator winning the insert race: the
// replay pre-check misses once, and insert errors come back as the bare
// translated sentinel the way production drivers report them, with the
// violated constraint's name gone.
type racingRepo struct {
	orderdomain.Repository
	misses int
}

func (r *racingRepo) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, userID snowflake.ID, key string) (*orderdomain.Order, error) {
	if r.misses > 0 {
		r.misses--
		return nil, nil
	}
	return r.Repository.FindByIdempotencyKey(ctx, db, userID, key)
}

func (r *racingRepo) Insert(ctx context.Context, db *gorm.DB, order *orderdomain.Order) error {
	if err := r.Repository.Insert(ctx, db, order); err != nil {
		return gorm.ErrDuplicatedKey
	}
	return nil
}

func TestCreateOrderIdempotencyInsertRace(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	gw := &stubGateway{}
	svc, node := newTestService(t, db, clk, gw)

	bookID := seedBook(t, db, node, 175000, true)
	userID := node.Generate()

	first, err := svc.Create(ctx, orderdomain.CreateOrderRequest{
		UserID:         userID,
		BookID:         bookID,
		PaymentMethod:  "qris",
		IdempotencyKey: "raced-key",
	})
	if err != nil {
		t.Fatalf("first create: %v", err)
	}

	racedSvc := orderservice.NewService(orderservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Config:   testConfig(),
		Repo:     &racingRepo{Repository: orderrepo.Provide(), misses: 1},
		BookRepo: bookrepo.Provide(),
		Gateway:  gw,
		Hub:      event.NewHub(),
	})

	second, err := racedSvc.Create(ctx, orderdomain.CreateOrderRequest{
		UserID:         userID,
		BookID:         bookID,
		PaymentMethod:  "qris",
		IdempotencyKey: "raced-key",
	})
	if err != nil {
		t.Fatalf("raced create: %v", err)
	}
	if !second.Replayed {
		t.Fatal("raced create must replay the winner's order")
	}
	if second.Order.ID != first.Order.ID {
		t.Fatalf("raced create returned different order: %v vs %v", second.Order.ID, first.Order.ID)
	}

	var count int64
	if err := db.Model(&orderdomain.Order{}).Count(&count).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if count != 1 {
		t.Fatalf("orders = %d, want 1", count)
	}
	if gw.calls != 1 {
		t.Fatalf("gateway calls = %d, want 1", gw.calls)
	}
}

func TestCreateOrderIdempotencyKeyConflict(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc, node := newTestService(t, db, clk, &stubGateway{})

	bookA := seedBook(t, db, node, 100000, true)
	bookB := seedBook(t, db, node, 200000, true)
	userID := node.Generate()

	if _, err := svc.Create(ctx, orderdomain.CreateOrderRequest{
		UserID:         userID,
		BookID:         bookA,
		PaymentMethod:  "qris",
		IdempotencyKey: "shared-key",
	}); err != nil {
		t.Fatalf("first create: %v", err)
	}

	_, err := svc.Create(ctx, orderdomain.CreateOrderRequest{
		UserID:         userID,
		BookID:         bookB,
		PaymentMethod:  "qris",
		IdempotencyKey: "shared-key",
	})
	if !errors.Is(err, orderdomain.ErrIdempotencyKeyConflict) {
		t.Fatalf("err = %v, want idempotency_key_conflict", err)
	}
}

func TestCreateOrderAlreadyPurchased(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc, node := newTestService(t, db, clk, &stubGateway{})

	bookID := seedBook(t, db, node, 100000, true)
	userID := node.Generate()

	purchase := orderdomain.Purchase{
		ID:          node.Generate(),
		UserID:      userID,
		BookID:      bookID,
		OrderID:     node.Generate(),
		PurchasedAt: clk.Now(),
	}
	if err := db.Create(&purchase).Error; err != nil {
		t.Fatalf("seed purchase: %v", err)
	}

	_, err := svc.Create(ctx, orderdomain.CreateOrderRequest{
		UserID:        userID,
		BookID:        bookID,
		PaymentMethod: "qris",
	})
	if !errors.Is(err, orderdomain.ErrAlreadyPurchased) {
		t.Fatalf("err = %v, want already_purchased", err)
	}
}

func TestCreateOrderInactiveBook(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc, node := newTestService(t, db, clk, &stubGateway{})

	bookID := seedBook(t, db, node, 100000, false)

	_, err := svc.Create(ctx, orderdomain.CreateOrderRequest{
		UserID:        node.Generate(),
		BookID:        bookID,
		PaymentMethod: "qris",
	})
	if !errors.Is(err, orderdomain.ErrBookNotFound) {
		t.Fatalf("err = %v, want book_not_found", err)
	}
}

func TestCreateOrderRateLimited(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc, node := newTestService(t, db, clk, &stubGateway{})

	userID := node.Generate()
	missingBook := node.Generate()

	// Failed attempts still burn tokens.
	for i := 0; i < 5; i++ {
		_, err := svc.Create(ctx, orderdomain.CreateOrderRequest{
			UserID:        userID,
			BookID:        missingBook,
			PaymentMethod: "qris",
		})
		if !errors.Is(err, orderdomain.ErrBookNotFound) {
			t.Fatalf("attempt %d: err = %v, want book_not_found", i, err)
		}
	}

	_, err := svc.Create(ctx, orderdomain.CreateOrderRequest{
		UserID:        userID,
		BookID:        missingBook,
		PaymentMethod: "qris",
	})
	if !errors.Is(err, orderdomain.ErrRateLimited) {
		t.Fatalf("err = %v, want rate_limited", err)
	}

	// The window elapsing refills the bucket.
	clk.Advance(time.Hour)
	_, err = svc.Create(ctx, orderdomain.CreateOrderRequest{
		UserID:        userID,
		BookID:        missingBook,
		PaymentMethod: "qris",
	})
	if !errors.Is(err, orderdomain.ErrBookNotFound) {
		t.Fatalf("after refill: err = %v, want book_not_found", err)
	}
}

func TestCreateOrderGatewayFailure(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	gw := &stubGateway{chargeErr: errors.New("connection refused")}
	svc, node := newTestService(t, db, clk, gw)

	bookID := seedBook(t, db, node, 100000, true)
	userID := node.Generate()

	_, err := svc.Create(ctx, orderdomain.CreateOrderRequest{
		UserID:        userID,
		BookID:        bookID,
		PaymentMethod: "qris",
	})
	if !errors.Is(err, paymentdomain.ErrGatewayUnavailable) {
		t.Fatalf("err = %v, want gateway_unavailable", err)
	}

	var order orderdomain.Order
	if err := db.First(&order).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if order.Status != orderdomain.StatusFailed {
		t.Fatalf("status = %s, want failed after charge error", order.Status)
	}
}

func TestCancelOrder(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc, node := newTestService(t, db, clk, &stubGateway{})

	bookID := seedBook(t, db, node, 100000, true)
	userID := node.Generate()

	created, err := svc.Create(ctx, orderdomain.CreateOrderRequest{
		UserID:        userID,
		BookID:        bookID,
		PaymentMethod: "qris",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	cancelled, err := svc.Cancel(ctx, userID, created.Order.OrderNumber)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != orderdomain.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", cancelled.Status)
	}

	if _, err := svc.Cancel(ctx, userID, created.Order.OrderNumber); !errors.Is(err, orderdomain.ErrOrderNotPending) {
		t.Fatalf("second cancel err = %v, want order_not_pending", err)
	}

	otherUser := node.Generate()
	if _, err := svc.Cancel(ctx, otherUser, created.Order.OrderNumber); !errors.Is(err, orderdomain.ErrOrderNotFound) {
		t.Fatalf("foreign cancel err = %v, want order_not_found", err)
	}
}

func TestExpireDue(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc, node := newTestService(t, db, clk, &stubGateway{})

	bookID := seedBook(t, db, node, 100000, true)
	userID := node.Generate()

	created, err := svc.Create(ctx, orderdomain.CreateOrderRequest{
		UserID:        userID,
		BookID:        bookID,
		PaymentMethod: "qris",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Not yet due.
	expired, err := svc.ExpireDue(ctx, 100)
	if err != nil {
		t.Fatalf("expire due: %v", err)
	}
	if expired != 0 {
		t.Fatalf("expired = %d, want 0 before horizon", expired)
	}

	clk.Advance(24*time.Hour + time.Minute)
	expired, err = svc.ExpireDue(ctx, 100)
	if err != nil {
		t.Fatalf("expire due: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expired = %d, want 1", expired)
	}

	var order orderdomain.Order
	if err := db.Where("order_number = ?", created.Order.OrderNumber).First(&order).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if order.Status != orderdomain.StatusExpired {
		t.Fatalf("status = %s, want expired", order.Status)
	}

	// A second sweep finds nothing.
	expired, err = svc.ExpireDue(ctx, 100)
	if err != nil {
		t.Fatalf("expire due: %v", err)
	}
	if expired != 0 {
		t.Fatalf("expired = %d, want 0 on rerun", expired)
	}
}

func TestExpireDueSkipsPaidOrders(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc, node := newTestService(t, db, clk, &stubGateway{})

	bookID := seedBook(t, db, node, 100000, true)
	userID := node.Generate()

	created, err := svc.Create(ctx, orderdomain.CreateOrderRequest{
		UserID:        userID,
		BookID:        bookID,
		PaymentMethod: "qris",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := db.Model(&orderdomain.Order{}).
		Where("id = ?", created.Order.ID).
		Update("status", orderdomain.StatusPaid).Error; err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	clk.Advance(48 * time.Hour)
	expired, err := svc.ExpireDue(ctx, 100)
	if err != nil {
		t.Fatalf("expire due: %v", err)
	}
	if expired != 0 {
		t.Fatalf("expired = %d, want 0 for settled order", expired)
	}
}
