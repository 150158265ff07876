package payout

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// GlobalMinimum applies to every payout category.
	GlobalMinimum = 100.0

	PlanTypeHFT           = "HFT"
	PlanTypeTwoStep       = "2-step-Challenge"
	defaultProfitSplit    = 0.50
	addOnPayoutWindowDays = 7
)

var (
	hftSplits    = []float64{0.50, 0.60, 0.70, 0.80, 0.90}
	splitPattern = regexp.MustCompile(`(\d+)/\d+`)
)

// ProfitSplit returns the share of profit withdrawable on the count-th payout
// of an account (count starts at 1).
func ProfitSplit(addOn, planType, schedule string, count int) float64 {
	if count < 1 {
		count = 1
	}

	if addOn != "" {
		if v, ok := parseSplit(addOn); ok {
			return v
		}
		return defaultProfitSplit
	}

	switch planType {
	case PlanTypeHFT:
		if count > len(hftSplits) {
			count = len(hftSplits)
		}
		return hftSplits[count-1]
	case PlanTypeTwoStep:
		if count <= 3 {
			return 0.80
		}
		return 0.95
	}

	if schedule == "" {
		return defaultProfitSplit
	}
	segments := strings.Split(schedule, "->")
	idx := count - 1
	if idx > len(segments)-1 {
		idx = len(segments) - 1
	}
	if v, ok := parseSplit(segments[idx]); ok {
		return v
	}
	return defaultProfitSplit
}

func parseSplit(s string) (float64, bool) {
	m := splitPattern.FindStringSubmatch(s)
	if len(m) < 2 {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return float64(n) / 100, true
}

// RemainingDays is ceil(window - elapsed) in whole days, or 0 once the window
// has passed.
func RemainingDays(last, now time.Time, windowDays int) int {
	window := time.Duration(windowDays) * 24 * time.Hour
	elapsed := now.Sub(last)
	if elapsed >= window {
		return 0
	}
	return int(math.Ceil((window - elapsed).Hours() / 24))
}

func cents(v float64) int64 {
	return int64(math.Round(v * 100))
}

func money(v float64) string {
	return strconv.FormatFloat(float64(cents(v))/100, 'f', 2, 64)
}

func belowMinimum() *Decision {
	return reject(RejectBelowMinimum, "Amount should be greater or equal to $100 is required for payouts.")
}

func affiliateCooldown(window, remaining int) *Decision {
	d := reject(RejectCooldown, fmt.Sprintf(
		"You can request a payout only after %d days from your last request. Please wait %d more day(s).", window, remaining))
	d.Rejection.RemainingDays = remaining
	return d
}

func tradingCooldown(window, remaining int) *Decision {
	d := reject(RejectCooldown, fmt.Sprintf(
		"You can request a payout for this account only after %d days from your last request. Please wait %d more day(s).", window, remaining))
	d.Rejection.RemainingDays = remaining
	return d
}

func exceedsUnpaid(unpaid float64) *Decision {
	d := reject(RejectExceedsUnpaid, fmt.Sprintf(
		"Requested amount exceeds the remaining unpaid earnings. Your available withdrawal amount is $%s.", money(unpaid)))
	available := math.Max(0, float64(cents(unpaid))/100)
	d.Rejection.MaxAmount = &available
	return d
}

func belowUserMinimum(floor float64) *Decision {
	return reject(RejectBelowUserMinimum, fmt.Sprintf("Minimum withdrawal amount is %s.", money(floor)))
}

func exceedsProfitSplit(limit, split, profit float64) *Decision {
	d := reject(RejectExceedsProfitSplit, fmt.Sprintf(
		"Requested amount exceeds your available withdrawal amount of %s (%.0f%% of your %s profit)", money(limit), split*100, money(profit)))
	capped := float64(cents(limit)) / 100
	d.Rejection.MaxAmount = &capped
	return d
}
