package pricing

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"RampEngine/internal/models"
	"RampEngine/internal/providers"

	"github.com/shopspring/decimal"
)

// HTTPOracle queries one DEX aggregator endpoint.
type HTTPOracle struct {
	Client *providers.Client
	Name   string
}

type valueResponse struct {
	Value        decimal.Decimal `json:"value"`
	PricePerUnit decimal.Decimal `json:"pricePerUnit"`
	Source       string          `json:"source"`
}

func (o *HTTPOracle) Value(ctx context.Context, network models.Network, contract string, amount decimal.Decimal) (Valuation, error) {
	q := url.Values{}
	q.Set("network", string(network))
	q.Set("token", contract)
	q.Set("amount", amount.String())

	var resp valueResponse
	if err := o.Client.GetJSON(ctx, "/price", q, &resp); err != nil {
		return Valuation{}, fmt.Errorf("oracle %s: %w", o.Client.BaseURL(), err)
	}
	src := resp.Source
	if src == "" {
		src = o.Name
	}
	return Valuation{ReferenceValue: resp.Value, PricePerUnit: resp.PricePerUnit, Source: src}, nil
}

// MultiOracle fails over across aggregator endpoints. The active endpoint
// rotates after failThreshold consecutive failures, or immediately when
// another endpoint is available to retry the call.
type MultiOracle struct {
	oracles       []PriceOracle
	index         int
	failCount     int
	failThreshold int
	mu            sync.Mutex
}

func NewMultiOracle(oracles []PriceOracle, failThreshold int) (*MultiOracle, error) {
	if len(oracles) == 0 {
		return nil, errors.New("price oracle endpoints is empty")
	}
	if failThreshold <= 0 {
		failThreshold = 3
	}
	return &MultiOracle{oracles: oracles, failThreshold: failThreshold}, nil
}

// NewHTTPMultiOracle builds a MultiOracle over deduplicated endpoints.
func NewHTTPMultiOracle(endpoints []string, apiKey string, timeout time.Duration, failThreshold int) (*MultiOracle, error) {
	list := sanitizeEndpoints(endpoints)
	oracles := make([]PriceOracle, 0, len(list))
	for _, ep := range list {
		oracles = append(oracles, &HTTPOracle{Client: providers.NewClient(ep, apiKey, timeout), Name: "dex"})
	}
	return NewMultiOracle(oracles, failThreshold)
}

func (m *MultiOracle) Value(ctx context.Context, network models.Network, contract string, amount decimal.Decimal) (Valuation, error) {
	var lastErr error
	for attempts := 0; attempts < len(m.oracles); attempts++ {
		if err := ctx.Err(); err != nil {
			return Valuation{}, err
		}
		oracle, idx := m.current()
		out, err := oracle.Value(ctx, network, contract, amount)
		if err == nil {
			m.resetFailures(idx)
			return out, nil
		}
		lastErr = err
		m.noteFailure(idx)
		if m.shouldRotate() || len(m.oracles) > 1 {
			m.rotate()
		}
	}
	return Valuation{}, lastErr
}

func (m *MultiOracle) current() (PriceOracle, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.oracles[m.index], m.index
}

func (m *MultiOracle) resetFailures(idx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index == idx {
		m.failCount = 0
	}
}

func (m *MultiOracle) noteFailure(idx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index == idx {
		m.failCount++
	}
}

func (m *MultiOracle) shouldRotate() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failCount >= m.failThreshold
}

func (m *MultiOracle) rotate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index = (m.index + 1) % len(m.oracles)
	m.failCount = 0
}

// NetworkOracles routes valuation to a network-specific oracle, falling
// back to Default.
type NetworkOracles struct {
	ByNetwork map[models.Network]PriceOracle
	Default   PriceOracle
}

func (n NetworkOracles) Value(ctx context.Context, network models.Network, contract string, amount decimal.Decimal) (Valuation, error) {
	if o, ok := n.ByNetwork[network]; ok {
		return o.Value(ctx, network, contract, amount)
	}
	if n.Default == nil {
		return Valuation{}, fmt.Errorf("no price oracle for network %s", network)
	}
	return n.Default.Value(ctx, network, contract, amount)
}

func sanitizeEndpoints(endpoints []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		ep = strings.TrimSpace(ep)
		if ep == "" {
			continue
		}
		ep = strings.TrimRight(ep, "/")
		if _, ok := seen[ep]; ok {
			continue
		}
		seen[ep] = struct{}{}
		out = append(out, ep)
	}
	return out
}
