package payments_test

import (
	"testing"

	"RampEngine/internal/errs"
	"RampEngine/internal/models"
	"RampEngine/internal/payments"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	want := decimal.RequireFromString("100")
	cases := []struct {
		received string
		class    payments.Classification
	}{
		{"100", payments.Exact},
		{"100.000000", payments.Exact},
		{"100.00000001", payments.Overpaid},
		{"99.99999999", payments.Underpaid},
		{"0.1", payments.Underpaid},
	}
	for _, tc := range cases {
		t.Run(tc.received, func(t *testing.T) {
			assert.Equal(t, tc.class, payments.Classify(want, decimal.RequireFromString(tc.received)))
		})
	}
}

func TestAssess(t *testing.T) {
	o := &models.Order{TokenAmount: decimal.NewFromInt(100)}

	a := payments.Assess(o, decimal.RequireFromString("101.5"))
	assert.Equal(t, payments.Overpaid, a.Classification)
	assert.True(t, a.Proceed())
	assert.Equal(t, "1.5", a.Metadata()["deposit_difference"])
	assert.Equal(t, "overpaid", a.Metadata()["deposit_classification"])

	a = payments.Assess(o, decimal.NewFromInt(90))
	assert.False(t, a.Proceed())
	assert.Equal(t, "-10", a.Metadata()["deposit_difference"])
}

func TestParseAmount(t *testing.T) {
	d, err := payments.ParseAmount(" 12.5 ")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("12.5")))

	for _, bad := range []string{"", "abc", "0", "-1"} {
		_, err := payments.ParseAmount(bad)
		assert.ErrorIs(t, err, errs.New(errs.CodeValidation, ""), "input %q", bad)
	}
}
