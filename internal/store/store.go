package store

import (
	"context"
	"errors"
	"time"

	"RampEngine/internal/models"
)

// ErrStale is returned by Save when the stored order has been saved since
// the caller read it.
var ErrStale = errors.New("order changed concurrently")

// Statuses swept by the reconciliation monitor.
var (
	ExpirableStatuses = []models.OrderStatus{models.OrderPendingDeposit, models.OrderDepositReceived, models.OrderProcessing}
	StuckStatuses     = []models.OrderStatus{models.OrderDepositReceived, models.OrderProcessing, models.OrderPendingPayout}
)

const DefaultListLimit = 50

type ListFilter struct {
	Status models.OrderStatus
	Limit  int
	Offset int
}

func (f ListFilter) limit() int {
	if f.Limit <= 0 || f.Limit > 500 {
		return DefaultListLimit
	}
	return f.Limit
}

// Repository is the order store. Implementations return errs.ErrOrderNotFound
// for unknown orders and never hand out shared pointers.
type Repository interface {
	Create(ctx context.Context, order *models.Order) error
	Get(ctx context.Context, orderID string) (*models.Order, error)
	GetByReference(ctx context.Context, reference string) (*models.Order, error)
	GetByDepositAddress(ctx context.Context, address string) (*models.Order, error)

	// Save persists the lifecycle fields of order only if the stored version
	// still equals expected, and stores it as expected+1. Webhook tracking is
	// not written and does not bump the version.
	Save(ctx context.Context, order *models.Order, expected int64) error
	RecordWebhookAttempt(ctx context.Context, orderID string, delivery models.WebhookDelivery) error

	FindExpired(ctx context.Context, now time.Time, limit int) ([]*models.Order, error)
	FindStuck(ctx context.Context, updatedBefore time.Time, limit int) ([]*models.Order, error)
	FindRetryable(ctx context.Context, now time.Time, limit int) ([]*models.Order, error)
	ListByBusiness(ctx context.Context, businessID string, filter ListFilter) ([]*models.Order, error)

	NextDerivationIndex(ctx context.Context) (int64, error)
}
