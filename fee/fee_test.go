package fee_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/raulk/clock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avocado-safe/avocado-core/backend"
	"github.com/avocado-safe/avocado-core/fee"
)

func TestCompute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		raw       *backend.FeeEstimate
		wantMax   string
		wantMin   string
		wantAfter string
		wantErr   string
	}{
		{name: "zero fee is floored", raw: &backend.FeeEstimate{Fee: "0"}, wantMax: "0.01", wantMin: "0.01", wantAfter: "0.01"},
		{name: "tiny fee is floored", raw: &backend.FeeEstimate{Fee: "1000", Multiplier: "2"}, wantMax: "0.01", wantMin: "0.01", wantAfter: "0.01"},
		{name: "multiplier gives the minimum", raw: &backend.FeeEstimate{Fee: "5000000000000000000", Multiplier: "2"}, wantMax: "5", wantMin: "2.5", wantAfter: "5"},
		{name: "hex values", raw: &backend.FeeEstimate{Fee: "0x4563918244f40000", Multiplier: "0x4"}, wantMax: "5", wantMin: "1.25", wantAfter: "5"},
		{name: "missing multiplier", raw: &backend.FeeEstimate{Fee: "250000000000000000"}, wantMax: "0.25", wantMin: "0.25", wantAfter: "0.25"},
		{
			name:      "backend discount applies after the floor",
			raw:       &backend.FeeEstimate{Fee: "0", Discount: &backend.Discount{Amount: decimal.RequireFromString("0.5"), Name: "Launch"}},
			wantMax:   "0.01",
			wantMin:   "0.01",
			wantAfter: "0.005",
		},
		{name: "invalid fee", raw: &backend.FeeEstimate{Fee: "a lot"}, wantErr: "invalid fee"},
		{name: "negative fee", raw: &backend.FeeEstimate{Fee: "-5"}, wantErr: "negative fee"},
		{name: "invalid multiplier", raw: &backend.FeeEstimate{Fee: "1", Multiplier: "x"}, wantErr: "invalid multiplier"},
		{name: "nil", wantErr: "empty fee estimate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := fee.Compute(137, tt.raw, nil, nil)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, uint64(137), got.ChainID)
			assert.Equal(t, tt.wantMax, got.Max.String())
			assert.Equal(t, tt.wantMin, got.Min.String())
			assert.Equal(t, tt.wantAfter, got.AmountAfterDiscount.String())
			assert.True(t, got.Min.GreaterThanOrEqual(fee.MinimumFee))
		})
	}
}

func TestCompute_Promotions(t *testing.T) {
	t.Parallel()

	clk := clock.NewMock()
	clk.Set(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

	promotions := []fee.Promotion{
		{ChainID: 10, Rate: decimal.RequireFromString("0.9"), Name: "Optimism week"},
		{ChainID: 137, Rate: decimal.RequireFromString("0.5"), Name: "Polygon month", ValidUntil: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)},
	}
	raw := &backend.FeeEstimate{Fee: "2000000000000000000"}

	got, err := fee.Compute(137, raw, promotions, clk)
	require.NoError(t, err)
	require.NotNil(t, got.Discount)
	assert.Equal(t, "Polygon month", got.Discount.Name)
	assert.Equal(t, "1", got.Discount.Amount.String())
	assert.Equal(t, "1", got.AmountAfterDiscount.String())
	assert.Equal(t, "2", got.Max.String())

	clk.Add(48 * time.Hour)
	got, err = fee.Compute(137, raw, promotions, clk)
	require.NoError(t, err)
	assert.Nil(t, got.Discount)
	assert.Equal(t, "2", got.AmountAfterDiscount.String())

	got, err = fee.Compute(1, raw, promotions, clk)
	require.NoError(t, err)
	assert.Nil(t, got.Discount)

	withBackend := &backend.FeeEstimate{Fee: "2000000000000000000", Discount: &backend.Discount{Amount: decimal.RequireFromString("0.25"), Program: "referral"}}
	got, err = fee.Compute(10, withBackend, promotions, clk)
	require.NoError(t, err)
	assert.Equal(t, "referral", got.Discount.Program)
	assert.Equal(t, "1.5", got.AmountAfterDiscount.String())
}

func TestCheck(t *testing.T) {
	t.Parallel()

	estimates := []fee.Estimate{
		{AmountAfterDiscount: decimal.RequireFromString("1.5")},
		{AmountAfterDiscount: decimal.RequireFromString("0.5")},
	}

	tests := []struct {
		name        string
		balance     string
		wantBlock   bool
		wantWarn    bool
		wantMessage string
	}{
		{name: "insufficient", balance: "1.99", wantBlock: true, wantMessage: fee.InsufficientMessage},
		{name: "exactly the total warns", balance: "2", wantWarn: true, wantMessage: "Gas balance is within 10% of the estimated 2.00 USDC fee"},
		{name: "within ten percent", balance: "2.19", wantWarn: true},
		{name: "enough", balance: "2.2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			v := fee.Check(decimal.RequireFromString(tt.balance), estimates)
			assert.Equal(t, "2", v.Total.String())
			assert.Equal(t, tt.wantBlock, v.Insufficient)
			assert.Equal(t, tt.wantWarn, v.NearThreshold)
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, v.Message)
			}
		})
	}
}

func TestFromWei(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "0", fee.FromWei(nil).String())
	assert.Equal(t, "1.5", fee.FromWei(big.NewInt(1_500_000_000_000_000_000)).String())
}
