package models

import (
	"time"
)

// Transaction is one recorded attempt to move funds. TopUp has only ToUserID,
// Withdrawal only FromUserID, Payment both. Reversal credits ToUserID and
// points at the transaction it compensates.
type Transaction struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	Kind              string     `gorm:"size:20;not null;index" json:"kind"`
	Status            string     `gorm:"size:20;not null;index" json:"status"`
	FromUserID        *uint      `gorm:"index" json:"from_user_id,omitempty"`
	ToUserID          *uint      `gorm:"index" json:"to_user_id,omitempty"`
	AmountCents       int64      `gorm:"not null" json:"amount_cents"`
	Currency          string     `gorm:"size:3;not null;default:'KES'" json:"currency"`
	PaymentMethod     string     `gorm:"size:20;not null" json:"payment_method"`
	ExternalReference *string    `gorm:"size:128;uniqueIndex" json:"external_reference,omitempty"`
	ProviderRef       *string    `gorm:"size:128;index" json:"provider_ref,omitempty"`
	ReversesID        *uint      `gorm:"index" json:"reverses_id,omitempty"`
	SourceAmount      string     `gorm:"size:32" json:"source_amount,omitempty"`
	SourceCurrency    string     `gorm:"size:3" json:"source_currency,omitempty"`
	ExchangeRate      string     `gorm:"size:32" json:"exchange_rate,omitempty"`
	CostRate          string     `gorm:"size:32" json:"-"`
	FeeCents          int64      `gorm:"not null;default:0" json:"fee_cents"`
	NetCents          int64      `gorm:"not null;default:0" json:"net_cents"`
	PayoutDestination string     `gorm:"size:64" json:"payout_destination,omitempty"`
	PayoutState       string     `gorm:"size:20" json:"payout_state,omitempty"`
	FailureReason     string     `gorm:"size:255" json:"failure_reason,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	FinalizedAt       *time.Time `json:"finalized_at,omitempty"`
}

func (Transaction) TableName() string {
	return "ledger_transactions"
}

// Reference returns the external reference or "" when none was recorded.
func (t *Transaction) Reference() string {
	if t.ExternalReference == nil {
		return ""
	}
	return *t.ExternalReference
}
