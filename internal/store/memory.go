package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"RampEngine/internal/errs"
	"RampEngine/internal/models"

	"github.com/samber/lo"
)

// Memory is an in-process Repository used by tests and single-node dev runs.
type Memory struct {
	mu        sync.RWMutex
	orders    map[string]*models.Order
	byRef     map[string]string
	byAddress map[string]string
	nextIndex int64
}

func NewMemory() *Memory {
	return &Memory{
		orders:    map[string]*models.Order{},
		byRef:     map[string]string{},
		byAddress: map[string]string{},
	}
}

func (m *Memory) Create(ctx context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byRef[order.Reference]; ok {
		return errs.ErrDuplicateReference
	}
	if _, ok := m.orders[order.OrderID]; ok {
		return errs.Newf(errs.CodeInternal, "order id %s already exists", order.OrderID)
	}
	addr := addressKey(order.Wallet.Address)
	if _, ok := m.byAddress[addr]; ok && addr != "" {
		return errs.Newf(errs.CodeInternal, "deposit address %s already assigned", order.Wallet.Address)
	}
	m.orders[order.OrderID] = order.Clone()
	m.byRef[order.Reference] = order.OrderID
	if addr != "" {
		m.byAddress[addr] = order.OrderID
	}
	return nil
}

func (m *Memory) Get(ctx context.Context, orderID string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, errs.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (m *Memory) GetByReference(ctx context.Context, reference string) (*models.Order, error) {
	m.mu.RLock()
	id, ok := m.byRef[reference]
	m.mu.RUnlock()
	if !ok {
		return nil, errs.ErrOrderNotFound
	}
	return m.Get(ctx, id)
}

func (m *Memory) GetByDepositAddress(ctx context.Context, address string) (*models.Order, error) {
	m.mu.RLock()
	id, ok := m.byAddress[addressKey(address)]
	m.mu.RUnlock()
	if !ok {
		return nil, errs.ErrOrderNotFound
	}
	return m.Get(ctx, id)
}

func (m *Memory) Save(ctx context.Context, order *models.Order, expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.orders[order.OrderID]
	if !ok {
		return errs.ErrOrderNotFound
	}
	if cur.Version != expected {
		return ErrStale
	}
	next := order.Clone()
	next.Version = expected + 1
	next.Webhook = cur.Webhook
	m.orders[order.OrderID] = next
	return nil
}

func (m *Memory) RecordWebhookAttempt(ctx context.Context, orderID string, d models.WebhookDelivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.orders[orderID]
	if !ok {
		return errs.ErrOrderNotFound
	}
	cur.Webhook.Attempts++
	cur.Webhook.LastAttemptAt = lo.ToPtr(d.AttemptedAt)
	cur.Webhook.LastOutcome = d.Outcome
	return nil
}

func (m *Memory) FindExpired(ctx context.Context, now time.Time, limit int) ([]*models.Order, error) {
	return m.find(limit, func(o *models.Order) bool {
		return lo.Contains(ExpirableStatuses, o.Status) && o.ExpiresAt.Before(now)
	}, func(a, b *models.Order) bool { return a.ExpiresAt.Before(b.ExpiresAt) }), nil
}

func (m *Memory) FindStuck(ctx context.Context, updatedBefore time.Time, limit int) ([]*models.Order, error) {
	return m.find(limit, func(o *models.Order) bool {
		return lo.Contains(StuckStatuses, o.Status) && o.UpdatedAt.Before(updatedBefore) && o.RetryCount < models.MaxRetries
	}, func(a, b *models.Order) bool { return a.UpdatedAt.Before(b.UpdatedAt) }), nil
}

func (m *Memory) FindRetryable(ctx context.Context, now time.Time, limit int) ([]*models.Order, error) {
	return m.find(limit, func(o *models.Order) bool {
		return o.Status == models.OrderFailed && o.RetryCount < models.MaxRetries && now.Before(o.ExpiresAt) && !o.Underpaid()
	}, func(a, b *models.Order) bool { return a.UpdatedAt.Before(b.UpdatedAt) }), nil
}

func (m *Memory) ListByBusiness(ctx context.Context, businessID string, filter ListFilter) ([]*models.Order, error) {
	all := m.find(0, func(o *models.Order) bool {
		return o.BusinessID == businessID && (filter.Status == "" || o.Status == filter.Status)
	}, func(a, b *models.Order) bool { return a.CreatedAt.After(b.CreatedAt) })
	if filter.Offset >= len(all) {
		return []*models.Order{}, nil
	}
	all = all[filter.Offset:]
	if l := filter.limit(); len(all) > l {
		all = all[:l]
	}
	return all, nil
}

func (m *Memory) NextDerivationIndex(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextIndex++
	return m.nextIndex, nil
}

func (m *Memory) find(limit int, keep func(*models.Order) bool, less func(a, b *models.Order) bool) []*models.Order {
	m.mu.RLock()
	out := make([]*models.Order, 0)
	for _, o := range m.orders {
		if keep(o) {
			out = append(out, o.Clone())
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func addressKey(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
