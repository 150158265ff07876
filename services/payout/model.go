package payout

import (
	"time"

	"gorm.io/datatypes"
)

type Category string

const (
	CategoryAffiliate Category = "affiliate"
	CategoryTrading   Category = "trading"
)

type Status string

const (
	StatusPending  Status = "Pending"
	StatusApproved Status = "Approved"
	StatusRejected Status = "Rejected"
)

// Request is a withdrawal request. Only the review transitions mutate it.
type Request struct {
	ID            string         `gorm:"column:id;primaryKey" json:"id"`
	Reference     string         `gorm:"column:reference;uniqueIndex" json:"reference"`
	UserID        string         `gorm:"column:user_id;index:idx_payout_user_category_created" json:"user_id"`
	Category      Category       `gorm:"column:category;index:idx_payout_user_category_created" json:"category"`
	Status        Status         `gorm:"column:status;index" json:"status"`
	Amount        float64        `gorm:"column:amount" json:"amount"`
	Currency      string         `gorm:"column:currency" json:"currency"`
	WalletAddress string         `gorm:"column:wallet_address" json:"wallet_address"`
	AccountID     string         `gorm:"column:account_id;index:idx_payout_account_created" json:"account_id,omitempty"`
	Login         string         `gorm:"column:login" json:"login,omitempty"`
	Platform      string         `gorm:"column:platform" json:"platform,omitempty"`
	ProfitSplit   float64        `gorm:"column:profit_split" json:"profit_split,omitempty"`
	PayoutCount   int            `gorm:"column:payout_count" json:"payout_count,omitempty"`
	IsPaid        bool           `gorm:"column:is_paid" json:"is_paid"`
	Metadata      datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	ReviewNote    string         `gorm:"column:review_note" json:"review_note,omitempty"`
	ReviewedBy    string         `gorm:"column:reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt    *time.Time     `gorm:"column:reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt     time.Time      `gorm:"column:created_at;index:idx_payout_user_category_created;index:idx_payout_account_created" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"column:updated_at" json:"updated_at"`
}

func (Request) TableName() string { return "payout_requests" }

func Models() []any {
	return []any{&Request{}}
}

type RejectionCode string

const (
	RejectBelowMinimum       RejectionCode = "below_minimum"
	RejectCooldown           RejectionCode = "cooldown"
	RejectExceedsUnpaid      RejectionCode = "exceeds_unpaid"
	RejectBelowUserMinimum   RejectionCode = "below_min_withdrawal"
	RejectAccountNotFound    RejectionCode = "account_not_found"
	RejectAccountNotFunded   RejectionCode = "account_not_funded"
	RejectExceedsProfitSplit RejectionCode = "exceeds_profit_split"
)

// Rejection is a normal negative outcome of the eligibility gate.
type Rejection struct {
	Code          RejectionCode `json:"code"`
	Reason        string        `json:"reason"`
	RemainingDays int           `json:"remaining_days,omitempty"`
	MaxAmount     *float64      `json:"max_amount,omitempty"`
}

// Decision carries exactly one of Request or Rejection.
type Decision struct {
	Request   *Request   `json:"request,omitempty"`
	Rejection *Rejection `json:"rejection,omitempty"`
}

func (d *Decision) Accepted() bool { return d != nil && d.Request != nil }

func accept(r *Request) *Decision { return &Decision{Request: r} }

func reject(code RejectionCode, reason string) *Decision {
	return &Decision{Rejection: &Rejection{Code: code, Reason: reason}}
}
