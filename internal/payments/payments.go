package payments

import (
	"strings"

	"RampEngine/internal/errs"
	"RampEngine/internal/models"

	"github.com/shopspring/decimal"
)

type Classification string

const (
	Exact     Classification = "exact"
	Overpaid  Classification = "overpaid"
	Underpaid Classification = models.DepositUnderpaid
)

// Assessment compares a confirmed deposit with the amount the order asked for.
type Assessment struct {
	Classification Classification
	Expected       decimal.Decimal
	Received       decimal.Decimal
	Difference     decimal.Decimal
}

// Proceed reports whether the order can move on to the swap. Underpaid
// deposits are recorded but left for manual handling.
func (a Assessment) Proceed() bool {
	return a.Classification != Underpaid
}

// Metadata is merged into the order when the deposit is recorded.
func (a Assessment) Metadata() map[string]string {
	return map[string]string{
		models.MetaDepositClassification: string(a.Classification),
		"deposit_expected":               a.Expected.String(),
		"deposit_difference":             a.Difference.String(),
	}
}

func Assess(order *models.Order, received decimal.Decimal) Assessment {
	return Assessment{
		Classification: Classify(order.TokenAmount, received),
		Expected:       order.TokenAmount,
		Received:       received,
		Difference:     received.Sub(order.TokenAmount),
	}
}

func Classify(expected, received decimal.Decimal) Classification {
	switch received.Cmp(expected) {
	case -1:
		return Underpaid
	case 1:
		return Overpaid
	default:
		return Exact
	}
}

// ParseAmount parses a positive decimal token amount as reported by chain
// watchers and inbound webhooks.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, errs.Validation("amount is required")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errs.Newf(errs.CodeValidation, "invalid amount %q", s)
	}
	if !d.IsPositive() {
		return decimal.Zero, errs.Validation("amount must be positive")
	}
	return d, nil
}
