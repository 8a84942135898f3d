// Package fee estimates the prepaid gas fee of casts and checks them against the gas balance.
//
// Amounts are USDC with the backend's 18 decimal wei representation converted to decimals.
// Every estimate is floored at MinimumFee, and discounts apply after the floor.
package fee

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/raulk/clock"
	"github.com/shopspring/decimal"

	"github.com/avocado-safe/avocado-core/backend"
)

// InsufficientMessage is the blocking validation message of an unaffordable estimate.
const InsufficientMessage = "Not enough USDC gas"

var (
	// MinimumFee is the floor of every displayed fee.
	MinimumFee = decimal.RequireFromString("0.01")
	// NearThresholdFactor is the balance to total ratio under which a warning is raised.
	NearThresholdFactor = decimal.RequireFromString("1.1")
)

const weiDecimals int32 = 18

// Discount is a discount applied to an estimate.
type Discount struct {
	// Rate is the share of the fee waived, in [0, 1].
	Rate    decimal.Decimal
	Name    string
	Program string
	// Amount is the waived amount.
	Amount decimal.Decimal
}

// Estimate is the fee of one cast.
type Estimate struct {
	ChainID uint64
	// Fee and Multiplier are the raw backend values.
	Fee        *big.Int
	Multiplier decimal.Decimal
	// Max is the charged amount before discount and Min the lower bound.
	Max                 decimal.Decimal
	Min                 decimal.Decimal
	Discount            *Discount
	AmountAfterDiscount decimal.Decimal
}

// Promotion is a configured discount for a chain. ChainID zero applies to every chain.
type Promotion struct {
	ChainID    uint64
	Rate       decimal.Decimal
	Name       string
	Program    string
	ValidUntil time.Time
}

// Active reports whether the promotion applies to the chain at now.
func (p Promotion) Active(chainID uint64, now time.Time) bool {
	if p.ChainID != 0 && p.ChainID != chainID {
		return false
	}
	if !p.ValidUntil.IsZero() && !now.Before(p.ValidUntil) {
		return false
	}

	return p.Rate.IsPositive()
}

// Compute converts a raw backend estimate. A backend discount wins over promotions; the first
// active promotion applies otherwise.
func Compute(chainID uint64, raw *backend.FeeEstimate, promotions []Promotion, clk clock.Clock) (Estimate, error) {
	if raw == nil {
		return Estimate{}, errors.New("empty fee estimate")
	}

	feeWei, err := parseInteger(raw.Fee)
	if err != nil {
		return Estimate{}, fmt.Errorf("invalid fee: %w", err)
	}
	if feeWei.Sign() < 0 {
		return Estimate{}, fmt.Errorf("negative fee %s", feeWei)
	}

	multiplier, err := parseDecimal(raw.Multiplier)
	if err != nil {
		return Estimate{}, fmt.Errorf("invalid multiplier: %w", err)
	}

	fee := decimal.NewFromBigInt(feeWei, -weiDecimals)
	maxFee := decimal.Max(fee, MinimumFee)
	minFee := maxFee
	if multiplier.IsPositive() {
		minFee = decimal.Max(fee.Div(multiplier), MinimumFee)
	}

	est := Estimate{
		ChainID:             chainID,
		Fee:                 feeWei,
		Multiplier:          multiplier,
		Max:                 maxFee,
		Min:                 minFee,
		AmountAfterDiscount: maxFee,
	}

	if d := discountFor(chainID, raw.Discount, promotions, clk); d != nil {
		d.Amount = maxFee.Mul(d.Rate)
		est.Discount = d
		est.AmountAfterDiscount = maxFee.Sub(d.Amount)
	}

	return est, nil
}

func discountFor(chainID uint64, fromBackend *backend.Discount, promotions []Promotion, clk clock.Clock) *Discount {
	if fromBackend != nil && fromBackend.Amount.IsPositive() {
		return &Discount{
			Rate:    decimal.Min(fromBackend.Amount, decimal.NewFromInt(1)),
			Name:    fromBackend.Name,
			Program: fromBackend.Program,
		}
	}
	if clk == nil {
		return nil
	}

	now := clk.Now()
	for _, p := range promotions {
		if p.Active(chainID, now) {
			return &Discount{
				Rate:    decimal.Min(p.Rate, decimal.NewFromInt(1)),
				Name:    p.Name,
				Program: p.Program,
			}
		}
	}

	return nil
}

// Verdict is the affordability of a set of estimates.
type Verdict struct {
	Total   decimal.Decimal
	Balance decimal.Decimal
	// Insufficient blocks submission.
	Insufficient bool
	// NearThreshold warns that the balance is within 10% of the total.
	NearThreshold bool
	Message       string
}

// Check compares the balance with the sum of the discounted estimates.
func Check(balance decimal.Decimal, estimates []Estimate) Verdict {
	total := decimal.Zero
	for _, e := range estimates {
		total = total.Add(e.AmountAfterDiscount)
	}

	v := Verdict{Total: total, Balance: balance}
	switch {
	case balance.LessThan(total):
		v.Insufficient = true
		v.Message = InsufficientMessage
	case balance.LessThan(total.Mul(NearThresholdFactor)):
		v.NearThreshold = true
		v.Message = fmt.Sprintf("Gas balance is within 10%% of the estimated %s USDC fee", total.StringFixed(2))
	}

	return v
}

// FromWei converts an 18 decimal wei amount.
func FromWei(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}

	return decimal.NewFromBigInt(v, -weiDecimals)
}

func parseInteger(s string) (*big.Int, error) {
	v, ok := math.ParseBig256(strings.TrimSpace(s))
	if !ok {
		return nil, fmt.Errorf("%q is not an integer", s)
	}

	return v, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := parseInteger(s)
		if err != nil {
			return decimal.Zero, err
		}

		return decimal.NewFromBigInt(v, 0), nil
	}

	return decimal.NewFromString(s)
}
