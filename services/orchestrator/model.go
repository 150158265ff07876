package orchestrator

import (
	"propdesk-affiliate/services/commission"
	"propdesk-affiliate/services/referral"
)

// PurchaseCompleted is the inbound payment event. Amount is the price after
// discount; when nil the plan price is used.
type PurchaseCompleted struct {
	PurchaseID   string   `json:"purchase_id"`
	UserID       string   `json:"user_id" validate:"required"`
	PlanID       string   `json:"plan_id" validate:"required"`
	Amount       *float64 `json:"amount,omitempty" validate:"omitempty,gte=0"`
	IsFirstOrder bool     `json:"is_first_order"`
}

// Skip reasons reported when a purchase produces no commission.
const (
	SkipZeroPrice  = "zero_price"
	SkipDuplicate  = "duplicate"
	SkipNoReferrer = "no_referrer"
)

type PurchaseResult struct {
	Processed  bool                `json:"processed"`
	PurchaseID string              `json:"purchase_id"`
	Reason     string              `json:"reason,omitempty"`
	Entries    []*commission.Entry `json:"entries,omitempty"`
}

// ReviewOptions are the reviewer's choices. SendEmail defaults to true.
type ReviewOptions struct {
	Status        string `json:"status"`
	Note          string `json:"note"`
	SendEmail     *bool  `json:"send_email"`
	BreachAccount bool   `json:"breach_account"`
}

func (o ReviewOptions) sendEmail() bool {
	return o.SendEmail == nil || *o.SendEmail
}

type AffiliateStats struct {
	UserID         string          `json:"user_id"`
	Referrals      int64           `json:"referrals"`
	Converted      int64           `json:"converted"`
	ConversionRate float64         `json:"conversion_rate"`
	TotalEarned    float64         `json:"total_earned"`
	Paid           float64         `json:"paid"`
	Unpaid         float64         `json:"unpaid"`
	RankLabel      string          `json:"rank_label"`
	ReferralLink   string          `json:"referral_link"`
	Network        *referral.Stats `json:"network"`
}

type TierListing struct {
	UserID string           `json:"user_id"`
	Tiers  []TierMembership `json:"tiers"`
	Total  int64            `json:"total"`
}

type TierMembership struct {
	Tier  int      `json:"tier"`
	Count int      `json:"count"`
	Users []string `json:"users"`
}

type ReferrerInput struct {
	ReferrerID string `json:"referrer_id"`
}
