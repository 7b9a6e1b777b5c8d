package money_test

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safaripay/pkg/money"
)

func TestConvert_TopUpRate(t *testing.T) {
	amount, err := money.ParseAmount("100")
	require.NoError(t, err)
	rate, err := money.ParseRate("130.25")
	require.NoError(t, err)

	cents, err := money.Convert(amount, rate)
	require.NoError(t, err)
	assert.Equal(t, int64(1302500), cents)
}

func TestConvert_RoundsToNearestCent(t *testing.T) {
	amount := decimal.RequireFromString("10.005")
	rate := decimal.RequireFromString("1")
	cents, err := money.Convert(amount, rate)
	require.NoError(t, err)
	assert.Equal(t, int64(1001), cents)
}

func TestToCents_Int64Boundary(t *testing.T) {
	testCases := []struct {
		name    string
		major   string
		want    int64
		wantErr bool
	}{
		{"largest representable", "92233720368547758.07", math.MaxInt64, false},
		{"one cent above", "92233720368547758.08", 0, true},
		{"rounds up past the limit", "92233720368547758.075", 0, true},
		{"smallest representable", "-92233720368547758.08", math.MinInt64, false},
		{"one cent below", "-92233720368547758.09", 0, true},
		{"far above", "184467440737095516.16", 0, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cents, err := money.ToCents(decimal.RequireFromString(tc.major))
			if tc.wantErr {
				assert.ErrorIs(t, err, money.ErrAmountOutOfRange)
				assert.Zero(t, cents)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, cents)
		})
	}
}

func TestConvert_RejectsOverflow(t *testing.T) {
	rate := decimal.RequireFromString("130.25")

	// 184467440737095516.16 * 130.25 * 100 is far beyond int64 and used to
	// wrap to a large positive value.
	_, err := money.Convert(decimal.RequireFromString("184467440737095516.16"), rate)
	assert.ErrorIs(t, err, money.ErrAmountOutOfRange)

	// The largest source amount whose converted value still fits.
	limit := decimal.NewFromInt(math.MaxInt64).Div(decimal.NewFromInt(100)).Div(rate).Truncate(2)
	cents, err := money.Convert(limit, rate)
	require.NoError(t, err)
	assert.Positive(t, cents)

	_, err = money.Convert(limit.Add(decimal.RequireFromString("0.01")), rate)
	assert.ErrorIs(t, err, money.ErrAmountOutOfRange)
}

func TestParseAmount_Rejects(t *testing.T) {
	for _, in := range []string{"", "abc", "0", "-5", "  "} {
		_, err := money.ParseAmount(in)
		assert.ErrorIs(t, err, money.ErrInvalidAmount, "input %q", in)
	}
}

func TestParseRate_Rejects(t *testing.T) {
	_, err := money.ParseRate("0")
	assert.ErrorIs(t, err, money.ErrInvalidRate)
	_, err = money.ParseRate("x")
	assert.ErrorIs(t, err, money.ErrInvalidRate)
}

func TestFeeCents(t *testing.T) {
	rate := decimal.RequireFromString("0.01")
	testCases := []struct {
		name   string
		amount int64
		want   int64
	}{
		{"scenario withdrawal", 5_000_000, 50_000},
		{"rounds half up", 5_005_000, 50_100},
		{"rounds down", 5_004_900, 50_000},
		{"small amount", 10_000, 100},
		{"zero", 0, 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, money.FeeCents(tc.amount, rate))
		})
	}
}

func TestFeeCents_MatchesRoundedProduct(t *testing.T) {
	rate := decimal.RequireFromString("0.015")
	for units := int64(1); units <= 5000; units += 37 {
		cents := units * 100
		want := decimal.NewFromInt(units).Mul(rate).Round(0).IntPart() * 100
		fee := money.FeeCents(cents, rate)
		assert.Equal(t, want, fee)
		assert.Equal(t, cents, fee+(cents-fee))
	}
}

func TestMargin(t *testing.T) {
	amount := decimal.RequireFromString("100")
	applied := decimal.RequireFromString("130.25")

	testCases := []struct {
		name string
		cost string
		want int64
	}{
		{"positive spread", "131.00", 7500},
		{"no spread", "130.25", 0},
		{"negative spread", "129", 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := money.Margin(amount, applied, decimal.RequireFromString(tc.cost))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := money.Margin(decimal.RequireFromString("184467440737095516.16"), applied, decimal.RequireFromString("131"))
	assert.ErrorIs(t, err, money.ErrAmountOutOfRange)
}

func TestFormatAndWholeUnits(t *testing.T) {
	assert.Equal(t, "13025.00", money.Format(1302500))
	assert.Equal(t, "0.05", money.Format(5))
	assert.True(t, money.IsWholeUnits(4_950_000))
	assert.False(t, money.IsWholeUnits(4_950_050))
	assert.Equal(t, int64(49500), money.WholeUnits(4_950_000))
}
