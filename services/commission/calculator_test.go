package commission

import (
	"testing"

	"propdesk-affiliate/services/account"
	"propdesk-affiliate/services/testutil"

	"github.com/stretchr/testify/require"
)

func TestNonFirstOrderBreakpoints(t *testing.T) {
	calc := NewCalculator(nil, nil)

	cases := []struct {
		count int64
		rate  float64
	}{
		{0, 0.10},
		{49, 0.10},
		{50, 0.06},
		{199, 0.06},
		{200, 0.08},
		{499, 0.08},
		{500, 0.10},
		{1000, 0.10},
	}
	for _, tc := range cases {
		require.Equal(t, tc.rate, calc.Rate(1, account.AffiliateSettings{}, tc.count, false), "count %d", tc.count)
	}
}

func TestFirstOrderIgnoresBreakpoints(t *testing.T) {
	calc := NewCalculator(nil, nil)

	for _, count := range []int64{0, 49, 50, 199, 200, 499, 500, 1000} {
		require.Equal(t, 0.10, calc.Rate(1, account.AffiliateSettings{}, count, true))
	}

	override := account.AffiliateSettings{TierRates: [4]*float64{testutil.Ptr(0.15)}}
	for _, count := range []int64{0, 75, 600} {
		require.Equal(t, 0.15, calc.Rate(1, override, count, true))
	}
}

func TestFirstOrderTierDefaults(t *testing.T) {
	calc := NewCalculator(nil, nil)
	none := account.AffiliateSettings{}

	require.Equal(t, 0.05, calc.Rate(2, none, 0, true))
	require.Equal(t, 0.03, calc.Rate(3, none, 0, true))
	require.Equal(t, 0.02, calc.Rate(4, none, 0, true))
	require.Zero(t, calc.Rate(5, none, 0, true))
}

func TestComputeAmountAndPercentage(t *testing.T) {
	calc := NewCalculator(nil, nil)

	res := calc.Compute(Input{Tier: 1, PurchaseAmount: 1000, IsFirstOrder: true})
	require.Equal(t, 10.0, res.Percentage)
	require.Equal(t, 100.0, res.Amount)

	res = calc.Compute(Input{Tier: 1, PurchaseAmount: 299.99, ReferralCount: 75})
	require.Equal(t, 6.0, res.Percentage)
	require.Equal(t, 18.0, res.Amount)

	res = calc.Compute(Input{Tier: 1, PurchaseAmount: 0, IsFirstOrder: true})
	require.Zero(t, res.Amount)

	res = calc.Compute(Input{Tier: 1, PurchaseAmount: -10})
	require.Zero(t, res.Amount)
}

func TestCustomBreakpointsAreSorted(t *testing.T) {
	calc := NewCalculator([]Breakpoint{{MinCount: 10, Rate: 0.2}, {MinCount: 0, Rate: 0.1}}, nil)
	require.Equal(t, 0.1, calc.Rate(1, account.AffiliateSettings{}, 9, false))
	require.Equal(t, 0.2, calc.Rate(1, account.AffiliateSettings{}, 10, false))
}
