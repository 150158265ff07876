package commission

import "time"

// Entry is one commission owed to one referrer for one purchase. Rows are
// append-only.
type Entry struct {
	ID             string    `gorm:"column:id;primaryKey" json:"id"`
	ReferrerID     string    `gorm:"column:referrer_id;index" json:"referrer_id"`
	PurchaserID    string    `gorm:"column:purchaser_id;index" json:"purchaser_id"`
	PurchaseID     string    `gorm:"column:purchase_id;uniqueIndex:idx_commission_purchase_tier" json:"purchase_id"`
	Tier           int       `gorm:"column:tier;uniqueIndex:idx_commission_purchase_tier" json:"tier"`
	PlanID         string    `gorm:"column:plan_id" json:"plan_id"`
	PurchaseAmount float64   `gorm:"column:purchase_amount" json:"purchase_amount"`
	Percentage     float64   `gorm:"column:percentage" json:"percentage"`
	Amount         float64   `gorm:"column:amount" json:"amount"`
	CreatedAt      time.Time `gorm:"column:created_at" json:"created_at"`
}

func (Entry) TableName() string { return "commission_entries" }

func Models() []any {
	return []any{&Entry{}}
}
