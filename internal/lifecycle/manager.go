package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"RampEngine/internal/errs"
	"RampEngine/internal/models"
	"RampEngine/internal/store"

	"go.uber.org/zap"
)

const defaultMaxAttempts = 5

// Observer is told about every persisted transition. OrderChanged must not
// block; slow work belongs in the observer's own goroutine.
type Observer interface {
	OrderChanged(ctx context.Context, change models.Change)
}

type ObserverFunc func(ctx context.Context, change models.Change)

func (f ObserverFunc) OrderChanged(ctx context.Context, change models.Change) {
	f(ctx, change)
}

// Manager is the only writer of order status.
type Manager struct {
	Store       store.Repository
	Observers   []Observer
	Logger      *zap.Logger
	Now         func() time.Time
	MaxAttempts int
}

// Transition applies event to the order. Concurrent writers are resolved by
// a compare-and-set on the status read; the loser reloads and re-evaluates.
func (m *Manager) Transition(ctx context.Context, orderID string, event models.Event, d models.Details) (*models.Order, error) {
	o, _, err := m.Fire(ctx, orderID, event, d)
	return o, err
}

// Fire is Transition that also reports whether this call applied the event.
// Callers use it to run follow-up work exactly once.
func (m *Manager) Fire(ctx context.Context, orderID string, event models.Event, d models.Details) (*models.Order, bool, error) {
	return m.mutate(ctx, orderID, event, func(cur *models.Order, now time.Time) (*models.Order, bool, error) {
		return Apply(cur, event, d, now)
	})
}

// Retry resets a failed order to the status preceding its failure stage.
func (m *Manager) Retry(ctx context.Context, orderID string) (*models.Order, error) {
	o, _, err := m.mutate(ctx, orderID, models.EventRetried, func(cur *models.Order, now time.Time) (*models.Order, bool, error) {
		if cur.Status != models.OrderFailed {
			return nil, false, errs.Wrap(errs.CodeInvalidOrderStatus,
				fmt.Sprintf("only failed orders can be retried, order is %s", cur.Status), errs.ErrInvalidOrderStatus)
		}
		if cur.RetryCount >= models.MaxRetries {
			return nil, false, errs.ErrRetryExhausted
		}
		if !now.Before(cur.ExpiresAt) {
			return nil, false, errs.ErrOrderExpired
		}
		if !cur.Wallet.TokensReceived {
			return nil, false, errs.Wrap(errs.CodeInvalidOrderStatus,
				"order has no recorded deposit to resume from", errs.ErrInvalidOrderStatus)
		}
		if cur.Underpaid() {
			return nil, false, errs.Wrap(errs.CodeInvalidOrderStatus,
				"underpaid deposit is held for manual review", errs.ErrInvalidOrderStatus)
		}
		next := cur.Clone()
		next.RetryCount++
		next.SetMeta("retry_"+strconv.Itoa(next.RetryCount)+"_failure", string(cur.FailureStage)+": "+cur.FailureReason)
		next.Status = ResumeStatus(cur.FailureStage)
		next.FailureReason = ""
		next.FailureStage = ""
		next.FailedAt = nil
		next.UpdatedAt = now
		return next, true, nil
	})
	return o, err
}

// Cancel cancels an order that is still waiting for its deposit.
func (m *Manager) Cancel(ctx context.Context, orderID string) (*models.Order, error) {
	o, err := m.Transition(ctx, orderID, models.EventCancelled, models.Details{})
	if errors.Is(err, errs.ErrInvalidTransition) {
		return nil, errs.Wrap(errs.CodeInvalidOrderStatus, "order can no longer be cancelled", errs.ErrInvalidOrderStatus)
	}
	return o, err
}

// Annotate records references and metadata without a status change or
// notification.
func (m *Manager) Annotate(ctx context.Context, orderID string, d models.Details) (*models.Order, error) {
	o, _, err := m.mutate(ctx, orderID, "", func(cur *models.Order, now time.Time) (*models.Order, bool, error) {
		next := cur.Clone()
		if d.SwapReference != "" {
			next.SwapReference = d.SwapReference
		}
		if d.PayoutReference != "" {
			next.PayoutReference = d.PayoutReference
		}
		return finish(next, d, now), true, nil
	})
	return o, err
}

type mutation func(cur *models.Order, now time.Time) (*models.Order, bool, error)

func (m *Manager) mutate(ctx context.Context, orderID string, event models.Event, fn mutation) (*models.Order, bool, error) {
	attempts := m.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	for i := 0; i < attempts; i++ {
		cur, err := m.Store.Get(ctx, orderID)
		if err != nil {
			return nil, false, err
		}
		now := m.now()
		next, changed, err := fn(cur, now)
		if err != nil {
			return nil, false, err
		}
		if !changed {
			m.logger().Debug("event already applied",
				zap.String("order_id", orderID),
				zap.String("event", string(event)),
				zap.String("status", string(cur.Status)),
			)
			return cur, false, nil
		}
		next.Version = cur.Version + 1
		err = m.Store.Save(ctx, next, cur.Version)
		if errors.Is(err, store.ErrStale) {
			m.logger().Info("order changed concurrently, re-evaluating",
				zap.String("order_id", orderID),
				zap.String("event", string(event)),
				zap.Int("attempt", i+1),
			)
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("save order %s: %w", orderID, err)
		}
		if event != "" {
			m.logger().Info("order transition",
				zap.String("order_id", orderID),
				zap.String("event", string(event)),
				zap.String("from", string(cur.Status)),
				zap.String("to", string(next.Status)),
			)
			m.notify(ctx, models.Change{Order: next, From: cur.Status, Event: event, At: now})
		}
		return next, true, nil
	}
	return nil, false, fmt.Errorf("order %s: %w after %d attempts", orderID, store.ErrStale, attempts)
}

func (m *Manager) notify(ctx context.Context, change models.Change) {
	detached := context.WithoutCancel(ctx)
	for _, obs := range m.Observers {
		obs.OrderChanged(detached, models.Change{
			Order: change.Order.Clone(),
			From:  change.From,
			Event: change.Event,
			At:    change.At,
		})
	}
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

func (m *Manager) logger() *zap.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return zap.NewNop()
}
