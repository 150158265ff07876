package account

import (
	"time"
)

const (
	PlatformMT5         = "mt5"
	PlatformMatchTrader = "matchtrader"
	PlatformTradeLocker = "tradelocker"

	StateFunded = "Funded"
)

// User is owned by the identity service; the engine only reads the referral
// edge and affiliate settings and flips IsAffiliate.
type User struct {
	ID          string  `gorm:"column:id;primaryKey"`
	Email       string  `gorm:"column:email"`
	FirstName   string  `gorm:"column:first_name"`
	LastName    string  `gorm:"column:last_name"`
	ReferredBy  *string `gorm:"column:referred_by;index"`
	IsAffiliate bool    `gorm:"column:is_affiliate"`

	Tier1Rate     *float64 `gorm:"column:tier1_rate"`
	Tier2Rate     *float64 `gorm:"column:tier2_rate"`
	Tier3Rate     *float64 `gorm:"column:tier3_rate"`
	Tier4Rate     *float64 `gorm:"column:tier4_rate"`
	OrderAgeDays  *int     `gorm:"column:order_age_days"`
	MinWithdrawal *float64 `gorm:"column:min_withdrawal"`

	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (User) TableName() string { return "users" }

func (u *User) Name() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// Settings returns the per-user affiliate overrides. Nil fields mean "use default".
func (u *User) Settings() AffiliateSettings {
	return AffiliateSettings{
		TierRates:     [4]*float64{u.Tier1Rate, u.Tier2Rate, u.Tier3Rate, u.Tier4Rate},
		OrderAgeDays:  u.OrderAgeDays,
		MinWithdrawal: u.MinWithdrawal,
	}
}

type AffiliateSettings struct {
	TierRates     [4]*float64 `json:"tier_rates"`
	OrderAgeDays  *int        `json:"order_age_days,omitempty"`
	MinWithdrawal *float64    `json:"min_withdrawal,omitempty"`
}

// TierRate returns the override for tier (1..4) or fallback.
func (s AffiliateSettings) TierRate(tier int, fallback float64) float64 {
	if tier < 1 || tier > len(s.TierRates) || s.TierRates[tier-1] == nil {
		return fallback
	}
	return *s.TierRates[tier-1]
}

// OrderAge returns the affiliate cooldown in days. A stored zero falls back to
// the default rather than disabling the cooldown.
func (s AffiliateSettings) OrderAge(defaultDays int) int {
	if s.OrderAgeDays == nil || *s.OrderAgeDays <= 0 {
		return defaultDays
	}
	return *s.OrderAgeDays
}

func (s AffiliateSettings) MinimumWithdrawal() float64 {
	if s.MinWithdrawal == nil {
		return 0
	}
	return *s.MinWithdrawal
}

type Plan struct {
	ID                      string  `gorm:"column:id;primaryKey"`
	Name                    string  `gorm:"column:name"`
	Price                   float64 `gorm:"column:price"`
	PlanType                string  `gorm:"column:plan_type"`
	FundedProfitSplit       string  `gorm:"column:funded_profit_split"`
	FundedPayoutRequestDays int     `gorm:"column:funded_payout_request_days"`
}

func (Plan) TableName() string { return "plans" }

// TradingAccount is provisioned by the broker integration. The engine reads it
// and increments PayoutRequestCount when a trading payout is accepted.
type TradingAccount struct {
	ID                 string    `gorm:"column:id;primaryKey"`
	Login              string    `gorm:"column:login;uniqueIndex:idx_trading_account_login_platform"`
	Platform           string    `gorm:"column:platform;uniqueIndex:idx_trading_account_login_platform"`
	UserID             string    `gorm:"column:user_id;index"`
	PlanID             string    `gorm:"column:plan_id"`
	Profit             float64   `gorm:"column:profit"`
	State              string    `gorm:"column:state"`
	Breached           bool      `gorm:"column:breached"`
	AddOnPayout7Days   bool      `gorm:"column:add_on_payout_7_days"`
	AddOnProfitSplit   string    `gorm:"column:add_on_profit_split"`
	PayoutRequestCount int       `gorm:"column:payout_request_count"`
	CreatedAt          time.Time `gorm:"column:created_at"`
	UpdatedAt          time.Time `gorm:"column:updated_at"`
}

func (TradingAccount) TableName() string { return "trading_accounts" }

// Models lists the tables this package reads and writes.
func Models() []any {
	return []any{&User{}, &Plan{}, &TradingAccount{}}
}
