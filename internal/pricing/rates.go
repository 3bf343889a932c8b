package pricing

import (
	"context"
	"fmt"
	"net/url"

	"RampEngine/internal/providers"

	"github.com/shopspring/decimal"
)

// HTTPRates reads the reference-asset to fiat rate from the internal rate
// endpoint.
type HTTPRates struct {
	Client   *providers.Client
	Base     string
	Currency string
}

type rateResponse struct {
	Rate decimal.Decimal `json:"rate"`
}

func (h *HTTPRates) Rate(ctx context.Context) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("base", h.Base)
	q.Set("quote", h.Currency)

	var resp rateResponse
	if err := h.Client.GetJSON(ctx, "/rates", q, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("rates: %w", err)
	}
	if !resp.Rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("rates: non-positive rate %s", resp.Rate)
	}
	return resp.Rate, nil
}
