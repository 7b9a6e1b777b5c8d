package models

import "time"

// RevenueRecord is the platform's cut of one transaction. Read-only once written.
type RevenueRecord struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Source        string    `gorm:"size:30;not null;index" json:"source"` // WITHDRAWAL_FEE, TOPUP_MARGIN
	AmountCents   int64     `gorm:"not null" json:"amount_cents"`
	TransactionID uint      `gorm:"uniqueIndex;not null" json:"transaction_id"`
	Description   string    `gorm:"size:255" json:"description"`
	CreatedAt     time.Time `json:"created_at"`
}

func (RevenueRecord) TableName() string {
	return "revenue_records"
}
