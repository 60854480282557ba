package scheduler_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/bookvault/internal/clock"
	orderdomain "github.com/smallbiznis/bookvault/internal/order/domain"
	"github.com/smallbiznis/bookvault/internal/scheduler"
	"go.uber.org/zap"
)

// fakeOrderService scripts ExpireDue batch results for the sweep loop.
type fakeOrderService struct {
	batches []int
	calls   int
	err     error
}

func (f *fakeOrderService) Create(ctx context.Context, req orderdomain.CreateOrderRequest) (*orderdomain.CreateOrderResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeOrderService) GetByOrderNumber(ctx context.Context, userID snowflake.ID, orderNumber string) (*orderdomain.Order, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeOrderService) ListByUser(ctx context.Context, req orderdomain.ListOrdersRequest) ([]orderdomain.Order, int64, error) {
	return nil, 0, errors.New("not implemented")
}

func (f *fakeOrderService) Cancel(ctx context.Context, userID snowflake.ID, orderNumber string) (*orderdomain.Order, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeOrderService) ExpireDue(ctx context.Context, limit int) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	if f.calls >= len(f.batches) {
		return 0, nil
	}
	n := f.batches[f.calls]
	f.calls++
	return n, nil
}

func newScheduler(t *testing.T, svc orderdomain.Service, cfg scheduler.Config) *scheduler.Scheduler {
	t.Helper()
	s, err := scheduler.New(scheduler.Params{
		Log:      zap.NewNop(),
		Clock:    clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)),
		OrderSvc: svc,
		Config:   cfg,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return s
}

func TestSweepDrainsInBatches(t *testing.T) {
	svc := &fakeOrderService{batches: []int{2, 2, 1}}
	s := newScheduler(t, svc, scheduler.Config{BatchSize: 2, JobTimeout: time.Second})

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	// Two full batches then a short one ends the drain.
	if svc.calls != 3 {
		t.Fatalf("ExpireDue calls = %d, want 3", svc.calls)
	}
}

func TestSweepStopsOnEmptyBatch(t *testing.T) {
	svc := &fakeOrderService{batches: []int{0}}
	s := newScheduler(t, svc, scheduler.Config{BatchSize: 100, JobTimeout: time.Second})

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if svc.calls != 1 {
		t.Fatalf("ExpireDue calls = %d, want 1", svc.calls)
	}
}

func TestSweepPropagatesServiceError(t *testing.T) {
	svc := &fakeOrderService{err: errors.New("db gone")}
	s := newScheduler(t, svc, scheduler.Config{BatchSize: 10, JobTimeout: time.Second})

	err := s.RunOnce(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "sweep_expired_orders") {
		t.Fatalf("err = %v, want job name in wrap", err)
	}
}

func TestSweepTimeoutIsSoft(t *testing.T) {
	svc := &fakeOrderService{err: context.DeadlineExceeded}
	s := newScheduler(t, svc, scheduler.Config{BatchSize: 10, JobTimeout: time.Second})

	// Deadline errors are logged, not surfaced.
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := scheduler.New(scheduler.Params{Log: zap.NewNop()})
	if !errors.Is(err, scheduler.ErrInvalidConfig) {
		t.Fatalf("err = %v, want scheduler_invalid_config", err)
	}
}
