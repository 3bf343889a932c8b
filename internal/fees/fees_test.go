package fees_test

import (
	"context"
	"testing"

	"RampEngine/internal/fees"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const usdcBase = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"

func TestCalculateExample(t *testing.T) {
	b := fees.Calculate(decimal.NewFromInt(165000), decimal.RequireFromString("1.5"))

	assert.True(t, b.Fee.Equal(decimal.NewFromInt(2475)), "fee %s", b.Fee)
	assert.True(t, b.Net.Equal(decimal.NewFromInt(162525)), "net %s", b.Net)
}

func TestCalculateProperties(t *testing.T) {
	grosses := []string{"0", "0.01", "1", "99.99", "1650", "165000", "1234567.89", "33333.33"}
	for pct := 0; pct <= 100; pct++ {
		p := decimal.New(int64(pct), -1) // 0.0 .. 10.0
		for _, g := range grosses {
			gross := decimal.RequireFromString(g)
			b := fees.Calculate(gross, p)

			want := gross.Mul(p).Div(decimal.NewFromInt(100)).Round(0)
			require.True(t, b.Fee.Equal(want), "gross=%s pct=%s fee=%s", g, p, b.Fee)
			require.True(t, b.Net.Add(b.Fee).Equal(gross), "gross=%s pct=%s", g, p)
		}
	}
}

func TestTablePercentage(t *testing.T) {
	table := fees.NewTable(map[string]fees.Entry{
		usdcBase: {Percentage: decimal.RequireFromString("1.5"), Active: true},
		"0xdead": {Percentage: decimal.NewFromInt(5), Active: false},
	})

	assert.True(t, table.Percentage(usdcBase).Equal(decimal.RequireFromString("1.5")))
	assert.True(t, table.Percentage("0X833589FCD6EDB6E08F4C7C32D4F71B54BDA02913").Equal(decimal.RequireFromString("1.5")))
	assert.True(t, table.Percentage("0xdead").IsZero(), "inactive entries charge nothing")
	assert.True(t, table.Percentage("0xbeef").IsZero(), "unknown contracts charge nothing")

	var empty fees.Table
	assert.True(t, empty.Percentage(usdcBase).IsZero())
}

func TestStaticSource(t *testing.T) {
	def := fees.NewTable(map[string]fees.Entry{usdcBase: {Percentage: decimal.NewFromInt(1), Active: true}})
	special := fees.NewTable(map[string]fees.Entry{usdcBase: {Percentage: decimal.NewFromInt(2), Active: true}})
	src := fees.StaticSource{Default: def, ByBusiness: map[string]fees.Table{"biz-2": special}}

	got, err := src.FeeTable(context.Background(), "biz-1")
	require.NoError(t, err)
	assert.True(t, got.Percentage(usdcBase).Equal(decimal.NewFromInt(1)))

	got, err = src.FeeTable(context.Background(), "biz-2")
	require.NoError(t, err)
	assert.True(t, got.Percentage(usdcBase).Equal(decimal.NewFromInt(2)))
}
