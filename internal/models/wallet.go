package models

import (
	"time"
)

// Wallet holds one owner's balance in the settlement currency. Balances only
// change through WalletRepository.ApplyDelta.
type Wallet struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	OwnerID      uint      `gorm:"uniqueIndex;not null" json:"owner_id"`
	OwnerRole    string    `gorm:"size:20;not null" json:"owner_role"`
	BalanceCents int64     `gorm:"not null;default:0;check:balance_cents >= 0" json:"balance_cents"`
	Currency     string    `gorm:"size:3;not null;default:'KES'" json:"currency"`
	Version      int64     `gorm:"not null;default:0" json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Wallet) TableName() string {
	return "wallets"
}
