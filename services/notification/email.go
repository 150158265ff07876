package notification

const (
	TemplateAffiliatePayoutRequest  = "Affiliate-Payout-Request.html"
	TemplateAffiliatePayoutApproved = "Affiliate-Payout-Approved.html"
	TemplateAffiliatePayoutRejected = "Payout-Rejected.html"
	TemplateTraderPayoutApproved    = "trader_payout___approved.html"
	TemplateTraderPayoutRejected    = "trader_payout___rejected.html"
)

// Email is one templated message. Data feeds the template.
type Email struct {
	To       string         `json:"to"`
	Subject  string         `json:"subject"`
	Template string         `json:"template"`
	Data     map[string]any `json:"data"`
}
