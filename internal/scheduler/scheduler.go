package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/bookvault/internal/clock"
	obsmetrics "github.com/smallbiznis/bookvault/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/bookvault/internal/order/domain"
	"github.com/smallbiznis/bookvault/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

const sweepLockKey = "bookvault:sweep:expired_orders"

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	OrderSvc   orderdomain.Service
	Locker     *ratelimit.Locker   `optional:"true"`
	Config     Config              `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Scheduler drives the expiry sweep. The sweep is idempotent and guarded per
// order, so overlapping runs across instances are safe; the optional lock
// just keeps it single-flight.
type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	orderSvc   orderdomain.Service
	locker     *ratelimit.Locker
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.OrderSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		clock:      p.Clock,
		orderSvc:   p.OrderSvc,
		locker:     p.Locker,
		obsMetrics: p.ObsMetrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	err := fn(ctx)
	elapsed := time.Since(start)
	if err == nil {
		s.log.Debug("job finished",
			zap.String("job", name),
			zap.Duration("elapsed", elapsed),
		)
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	return s.runJob(parent, "sweep_expired_orders", s.cfg.JobTimeout, s.SweepExpiredOrdersJob)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SweepExpiredOrdersJob expires pending orders past their deadline, draining
// in batches until nothing is due.
func (s *Scheduler) SweepExpiredOrdersJob(ctx context.Context) error {
	release, acquired, err := s.tryLock(ctx)
	if err != nil {
		s.log.Warn("sweep lock unavailable, proceeding unlocked", zap.Error(err))
	} else if !acquired {
		return nil
	}
	if release != nil {
		defer release()
	}

	total := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		expired, err := s.orderSvc.ExpireDue(ctx, s.cfg.BatchSize)
		if err != nil {
			s.obsMetrics.AddSweepExpired(total)
			return err
		}
		total += expired
		if expired < s.cfg.BatchSize {
			break
		}
	}

	s.obsMetrics.AddSweepExpired(total)
	if total > 0 {
		s.log.Info("sweep expired orders", zap.Int("count", total))
	}
	return nil
}

func (s *Scheduler) tryLock(ctx context.Context) (func(), bool, error) {
	if s.locker == nil {
		return nil, true, nil
	}
	token, ok, err := s.locker.TryLock(ctx, sweepLockKey, s.cfg.LockTTL)
	if err != nil {
		return nil, true, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.locker.Release(releaseCtx, sweepLockKey, token); err != nil {
			s.log.Warn("failed to release sweep lock", zap.Error(err))
		}
	}
	return release, true, nil
}
