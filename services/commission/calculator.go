package commission

import (
	"math"
	"sort"

	"propdesk-affiliate/services/account"
)

const MaxTier = 4

// Breakpoint applies Rate once the referrer's downstream count reaches MinCount.
type Breakpoint struct {
	MinCount int64
	Rate     float64
}

var DefaultBreakpoints = []Breakpoint{
	{MinCount: 0, Rate: 0.10},
	{MinCount: 50, Rate: 0.06},
	{MinCount: 200, Rate: 0.08},
	{MinCount: 500, Rate: 0.10},
}

// DefaultTierRates are the first-order rates per tier when a user has no override.
var DefaultTierRates = []float64{0.10, 0.05, 0.03, 0.02}

type Calculator struct {
	breakpoints []Breakpoint
	tierRates   []float64
}

func NewCalculator(breakpoints []Breakpoint, tierRates []float64) *Calculator {
	if len(breakpoints) == 0 {
		breakpoints = DefaultBreakpoints
	}
	if len(tierRates) == 0 {
		tierRates = DefaultTierRates
	}

	bp := append([]Breakpoint(nil), breakpoints...)
	sort.Slice(bp, func(i, j int) bool { return bp[i].MinCount < bp[j].MinCount })

	return &Calculator{breakpoints: bp, tierRates: tierRates}
}

type Input struct {
	Tier           int
	Settings       account.AffiliateSettings
	ReferralCount  int64
	PurchaseAmount float64
	IsFirstOrder   bool
}

type Result struct {
	Tier       int
	Rate       float64
	Percentage float64
	Amount     float64
}

// Rate picks the commission rate for one referrer at one tier. First orders
// use the referrer's tier override (or the tier default) regardless of count.
func (c *Calculator) Rate(tier int, settings account.AffiliateSettings, count int64, isFirstOrder bool) float64 {
	if isFirstOrder {
		return clampRate(settings.TierRate(tier, c.defaultTierRate(tier)))
	}

	rate := c.breakpoints[0].Rate
	for _, bp := range c.breakpoints {
		if count >= bp.MinCount {
			rate = bp.Rate
		}
	}
	return clampRate(rate)
}

func (c *Calculator) Compute(in Input) Result {
	tier := in.Tier
	if tier < 1 {
		tier = 1
	}

	rate := c.Rate(tier, in.Settings, in.ReferralCount, in.IsFirstOrder)
	amount := math.Max(0, in.PurchaseAmount) * rate

	return Result{
		Tier:       tier,
		Rate:       rate,
		Percentage: roundTo(rate*100, 4),
		Amount:     roundTo(amount, 2),
	}
}

func (c *Calculator) defaultTierRate(tier int) float64 {
	if tier < 1 || tier > len(c.tierRates) {
		return 0
	}
	return c.tierRates[tier-1]
}

func clampRate(r float64) float64 {
	if r < 0 || math.IsNaN(r) {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

func roundTo(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
