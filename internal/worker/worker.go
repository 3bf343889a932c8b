package worker

import (
	"context"
	"errors"
	"time"

	"RampEngine/internal/errs"
	"RampEngine/internal/lifecycle"
	"RampEngine/internal/models"
	"RampEngine/internal/store"

	"go.uber.org/zap"
)

const (
	DefaultInterval     = time.Minute
	DefaultStuckAfter   = time.Hour
	DefaultBatchSize    = 100
	StuckFailureMessage = "Order stuck in processing for over 1 hour"
)

// Retrier re-runs a failed order, e.g. the order service.
type Retrier interface {
	RetryOrder(ctx context.Context, businessID, orderID string) (*models.Order, error)
}

// SweepObserver is told the outcome of every sweep.
type SweepObserver interface {
	SweepCompleted(sweep string, changed, failed int)
}

type SweepReport struct {
	Expired    int
	Stuck      int
	Retried    int
	Errors     int
	ExpiredIDs []string
	StuckIDs   []string
	RetriedIDs []string
}

// Monitor reconciles orders that expired or stalled. Every change goes
// through the lifecycle manager so the owning business is notified.
type Monitor struct {
	Store      store.Repository
	Lifecycle  *lifecycle.Manager
	Retrier    Retrier
	AutoRetry  bool
	Observer   SweepObserver
	Logger     *zap.Logger
	Interval   time.Duration
	StuckAfter time.Duration
	BatchSize  int
	Now        func() time.Time
}

func (w *Monitor) Run(ctx context.Context) {
	interval := w.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger().Info("reconciliation monitor started",
		zap.Duration("interval", interval),
		zap.Bool("auto_retry", w.AutoRetry),
	)
	for {
		rep := w.SweepOnce(ctx)
		if rep.Expired+rep.Stuck+rep.Retried+rep.Errors > 0 {
			w.logger().Info("reconciliation sweep",
				zap.Int("expired", rep.Expired),
				zap.Int("stuck", rep.Stuck),
				zap.Int("retried", rep.Retried),
				zap.Int("errors", rep.Errors),
			)
		}
		select {
		case <-ctx.Done():
			w.logger().Info("reconciliation monitor stopped")
			return
		case <-ticker.C:
		}
	}
}

// SweepOnce runs the expiry, stuck and (when enabled) retry sweeps once.
func (w *Monitor) SweepOnce(ctx context.Context) SweepReport {
	var rep SweepReport
	now := w.now()

	expired, failed := w.sweepExpired(ctx, now)
	rep.ExpiredIDs, rep.Expired = expired, len(expired)
	rep.Errors += failed
	w.observe("expiry", len(expired), failed)

	stuck, failed := w.sweepStuck(ctx, now)
	rep.StuckIDs, rep.Stuck = stuck, len(stuck)
	rep.Errors += failed
	w.observe("stuck", len(stuck), failed)

	if w.AutoRetry && w.Retrier != nil {
		retried, failed := w.sweepRetryable(ctx, now)
		rep.RetriedIDs, rep.Retried = retried, len(retried)
		rep.Errors += failed
		w.observe("retry", len(retried), failed)
	}
	return rep
}

func (w *Monitor) sweepExpired(ctx context.Context, now time.Time) ([]string, int) {
	orders, err := w.Store.FindExpired(ctx, now, w.batchSize())
	if err != nil {
		w.logger().Error("find expired orders failed", zap.Error(err))
		return nil, 1
	}
	var done []string
	failed := 0
	for _, o := range orders {
		_, err := w.Lifecycle.Transition(ctx, o.OrderID, models.EventExpired, models.Details{FailureReason: lifecycle.ExpiredReason})
		if w.skip(err) {
			continue
		}
		if err != nil {
			failed++
			w.logger().Error("expire order failed", zap.String("order_id", o.OrderID), zap.Error(err))
			continue
		}
		done = append(done, o.OrderID)
		w.logger().Info("order expired", zap.String("order_id", o.OrderID), zap.String("from", string(o.Status)))
	}
	return done, failed
}

func (w *Monitor) sweepStuck(ctx context.Context, now time.Time) ([]string, int) {
	cutoff := now.Add(-w.stuckAfter())
	orders, err := w.Store.FindStuck(ctx, cutoff, w.batchSize())
	if err != nil {
		w.logger().Error("find stuck orders failed", zap.Error(err))
		return nil, 1
	}
	var done []string
	failed := 0
	for _, o := range orders {
		_, err := w.Lifecycle.Transition(ctx, o.OrderID, models.EventFailed, models.Details{
			FailureReason: StuckFailureMessage,
			FailureStage:  models.StageStuckProcessing,
			StaleBefore:   cutoff,
			Metadata:      map[string]string{"stuck_status": string(o.Status)},
		})
		if w.skip(err) {
			continue
		}
		if err != nil {
			failed++
			w.logger().Error("fail stuck order failed", zap.String("order_id", o.OrderID), zap.Error(err))
			continue
		}
		done = append(done, o.OrderID)
		w.logger().Warn("stuck order failed",
			zap.String("order_id", o.OrderID),
			zap.String("status", string(o.Status)),
			zap.Time("updated_at", o.UpdatedAt),
		)
	}
	return done, failed
}

func (w *Monitor) sweepRetryable(ctx context.Context, now time.Time) ([]string, int) {
	orders, err := w.Store.FindRetryable(ctx, now, w.batchSize())
	if err != nil {
		w.logger().Error("find retryable orders failed", zap.Error(err))
		return nil, 1
	}
	var done []string
	failed := 0
	for _, o := range orders {
		if !lifecycle.CanRetry(o, now) {
			continue
		}
		_, err := w.Retrier.RetryOrder(ctx, o.BusinessID, o.OrderID)
		if w.skip(err) {
			continue
		}
		if err != nil {
			failed++
			w.logger().Error("auto retry failed", zap.String("order_id", o.OrderID), zap.Error(err))
			continue
		}
		done = append(done, o.OrderID)
	}
	return done, failed
}

// skip reports errors caused by the order moving on between the query and
// the transition; they are not sweep failures.
func (w *Monitor) skip(err error) bool {
	return errors.Is(err, errs.ErrInvalidTransition) ||
		errors.Is(err, errs.ErrInvalidOrderStatus) ||
		errors.Is(err, errs.ErrRetryExhausted) ||
		errors.Is(err, errs.ErrOrderExpired)
}

func (w *Monitor) observe(sweep string, changed, failed int) {
	if w.Observer != nil {
		w.Observer.SweepCompleted(sweep, changed, failed)
	}
}

func (w *Monitor) batchSize() int {
	if w.BatchSize > 0 {
		return w.BatchSize
	}
	return DefaultBatchSize
}

func (w *Monitor) stuckAfter() time.Duration {
	if w.StuckAfter > 0 {
		return w.StuckAfter
	}
	return DefaultStuckAfter
}

func (w *Monitor) now() time.Time {
	if w.Now != nil {
		return w.Now().UTC()
	}
	return time.Now().UTC()
}

func (w *Monitor) logger() *zap.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return zap.NewNop()
}
