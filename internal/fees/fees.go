package fees

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Entry is one row of a business fee table. Percentages are validated to
// 0-10 by the token catalogue when configured; they are trusted here.
type Entry struct {
	Percentage decimal.Decimal
	Active     bool
}

// Table maps a token contract address to its fee entry.
type Table map[string]Entry

// Source returns the fee table of a business.
type Source interface {
	FeeTable(ctx context.Context, businessID string) (Table, error)
}

type Breakdown struct {
	Gross      decimal.Decimal
	Percentage decimal.Decimal
	Fee        decimal.Decimal
	Net        decimal.Decimal
}

// Percentage returns the active fee for the contract, or zero when the
// contract is absent or inactive.
func (t Table) Percentage(contractAddress string) decimal.Decimal {
	if t == nil {
		return decimal.Zero
	}
	e, ok := t[normalize(contractAddress)]
	if !ok || !e.Active {
		return decimal.Zero
	}
	return e.Percentage
}

// Calculate applies fee = round(gross*pct/100) and net = gross - fee.
// Rounding is half away from zero to whole fiat units.
func Calculate(gross, pct decimal.Decimal) Breakdown {
	fee := gross.Mul(pct).Div(hundred).Round(0)
	return Breakdown{
		Gross:      gross,
		Percentage: pct,
		Fee:        fee,
		Net:        gross.Sub(fee),
	}
}

// Apply looks the contract up in the table and calculates the breakdown.
func (t Table) Apply(contractAddress string, gross decimal.Decimal) Breakdown {
	return Calculate(gross, t.Percentage(contractAddress))
}

// StaticSource serves the same table to every business unless a
// business-specific one is present.
type StaticSource struct {
	Default    Table
	ByBusiness map[string]Table
}

func (s StaticSource) FeeTable(ctx context.Context, businessID string) (Table, error) {
	if t, ok := s.ByBusiness[businessID]; ok {
		return t, nil
	}
	return s.Default, nil
}

// NewTable builds a table with normalized contract keys.
func NewTable(entries map[string]Entry) Table {
	t := make(Table, len(entries))
	for addr, e := range entries {
		t[normalize(addr)] = e
	}
	return t
}

func normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
