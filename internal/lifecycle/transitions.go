package lifecycle

import (
	"fmt"
	"time"

	"RampEngine/internal/errs"
	"RampEngine/internal/models"

	"github.com/samber/lo"
)

const ExpiredReason = "Order expired before completion"

// Position on the happy path; statuses off the path are absent.
var pathRank = map[models.OrderStatus]int{
	models.OrderPendingDeposit:  0,
	models.OrderDepositReceived: 1,
	models.OrderProcessing:      2,
	models.OrderPendingPayout:   3,
	models.OrderCompleted:       4,
}

// Apply evaluates event against a copy of o. It returns the next order and
// whether anything changed; changed=false with a nil error means the event
// was already applied.
func Apply(o *models.Order, event models.Event, d models.Details, now time.Time) (*models.Order, bool, error) {
	switch event {
	case models.EventDepositReceived:
		if o.Wallet.TokensReceived {
			return o, false, nil
		}
		if o.Status != models.OrderPendingDeposit {
			return nil, false, invalid(o, event)
		}
		if !now.Before(o.ExpiresAt) {
			return nil, false, errs.Wrap(errs.CodeOrderExpired,
				fmt.Sprintf("order %s expired at %s before the deposit was recorded", o.OrderID, o.ExpiresAt.Format(time.RFC3339)),
				errs.ErrOrderExpired)
		}
		next := o.Clone()
		at := lo.Ternary(d.ReceivedAt.IsZero(), now, d.ReceivedAt.UTC())
		next.Status = models.OrderDepositReceived
		next.Wallet.TokensReceived = true
		next.Wallet.ReceivedAmount = lo.ToPtr(d.ReceivedAmount)
		next.Wallet.ReceivedAt = lo.ToPtr(at)
		next.Wallet.TxHash = d.TxHash
		next.DepositReceivedAt = lo.ToPtr(now)
		return finish(next, d, now), true, nil

	case models.EventSwapStarted:
		return advance(o, event, d, now, models.OrderDepositReceived, models.OrderProcessing, func(next *models.Order) {
			next.ProcessingStartedAt = lo.ToPtr(now)
		})

	case models.EventSwapCompleted:
		return advance(o, event, d, now, models.OrderProcessing, models.OrderPendingPayout, func(next *models.Order) {
			if d.SwapReference != "" {
				next.SwapReference = d.SwapReference
			}
			next.PayoutInitiatedAt = lo.ToPtr(now)
		})

	case models.EventPayoutCompleted:
		return advance(o, event, d, now, models.OrderPendingPayout, models.OrderCompleted, func(next *models.Order) {
			if d.PayoutReference != "" {
				next.PayoutReference = d.PayoutReference
			}
			next.PayoutTxID = d.PayoutTxID
			next.CompletedAt = lo.ToPtr(now)
		})

	case models.EventFailed:
		if o.Status == models.OrderFailed {
			return o, false, nil
		}
		if o.Status.IsTerminal() || !failableAt(d.FailureStage, o.Status) {
			return nil, false, invalid(o, event)
		}
		if !d.StaleBefore.IsZero() && !o.UpdatedAt.Before(d.StaleBefore) {
			return nil, false, errs.Wrap(errs.CodeInvalidTransition,
				fmt.Sprintf("order %s was updated at %s, after %s", o.OrderID,
					o.UpdatedAt.Format(time.RFC3339), d.StaleBefore.Format(time.RFC3339)),
				errs.ErrInvalidTransition)
		}
		next := o.Clone()
		next.Status = models.OrderFailed
		next.FailureReason = lo.Ternary(d.FailureReason == "", "unspecified failure", d.FailureReason)
		next.FailureStage = d.FailureStage
		next.FailedAt = lo.ToPtr(now)
		return finish(next, d, now), true, nil

	case models.EventExpired:
		if o.Status == models.OrderExpired {
			return o, false, nil
		}
		switch o.Status {
		case models.OrderPendingDeposit, models.OrderDepositReceived, models.OrderProcessing:
		default:
			return nil, false, invalid(o, event)
		}
		if now.Before(o.ExpiresAt) {
			return nil, false, errs.Wrap(errs.CodeInvalidTransition,
				fmt.Sprintf("order %s does not expire until %s", o.OrderID, o.ExpiresAt.Format(time.RFC3339)),
				errs.ErrInvalidTransition)
		}
		next := o.Clone()
		next.Status = models.OrderExpired
		next.FailureReason = lo.Ternary(d.FailureReason == "", ExpiredReason, d.FailureReason)
		return finish(next, d, now), true, nil

	case models.EventCancelled:
		if o.Status == models.OrderCancelled {
			return o, false, nil
		}
		if o.Status != models.OrderPendingDeposit || o.Wallet.TokensReceived {
			return nil, false, invalid(o, event)
		}
		next := o.Clone()
		next.Status = models.OrderCancelled
		next.CancelledAt = lo.ToPtr(now)
		return finish(next, d, now), true, nil
	}
	return nil, false, errs.Newf(errs.CodeValidation, "unknown event %q", event)
}

// advance moves one step along the happy path. Re-delivery once the order
// is at or past the target is a no-op.
func advance(o *models.Order, event models.Event, d models.Details, now time.Time, from, to models.OrderStatus, stamp func(*models.Order)) (*models.Order, bool, error) {
	if rank, ok := pathRank[o.Status]; ok && rank >= pathRank[to] {
		return o, false, nil
	}
	if o.Status != from {
		return nil, false, invalid(o, event)
	}
	next := o.Clone()
	next.Status = to
	stamp(next)
	return finish(next, d, now), true, nil
}

// failableAt reports whether a failure at stage can be recorded for an
// order in status. Unstaged failures apply to any live order.
func failableAt(stage models.FailureStage, status models.OrderStatus) bool {
	switch stage {
	case models.StageTokenSwap:
		return status == models.OrderDepositReceived || status == models.OrderProcessing
	case models.StageBankPayout:
		return status == models.OrderPendingPayout
	case models.StageStuckProcessing:
		return status == models.OrderDepositReceived || status == models.OrderProcessing || status == models.OrderPendingPayout
	}
	return true
}

func finish(next *models.Order, d models.Details, now time.Time) *models.Order {
	for k, v := range d.Metadata {
		next.SetMeta(k, v)
	}
	next.UpdatedAt = now
	return next
}

func invalid(o *models.Order, event models.Event) error {
	return errs.Wrap(errs.CodeInvalidTransition,
		fmt.Sprintf("cannot apply %s to order in status %s", event, o.Status),
		errs.ErrInvalidTransition)
}

// ResumeStatus is the status a failed order re-enters on retry.
func ResumeStatus(stage models.FailureStage) models.OrderStatus {
	switch stage {
	case models.StageTokenSwap:
		return models.OrderDepositReceived
	case models.StageBankPayout:
		return models.OrderPendingPayout
	default:
		return models.OrderProcessing
	}
}

// CanRetry reports whether a failed order may be retried at now.
func CanRetry(o *models.Order, now time.Time) bool {
	return o.Status == models.OrderFailed && o.RetryCount < models.MaxRetries && now.Before(o.ExpiresAt)
}
