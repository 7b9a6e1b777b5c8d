package repository

import (
	"context"
	"errors"
	"time"

	"safaripay/internal/domain"
	"safaripay/internal/models"
	"safaripay/pkg/money"

	"gorm.io/gorm"
)

// WalletRepository is the wallet store. ApplyDelta is the only way a
// balance changes.
type WalletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

// WithTx returns a repository that runs inside tx.
func (r *WalletRepository) WithTx(tx *gorm.DB) *WalletRepository {
	return &WalletRepository{db: tx}
}

func (r *WalletRepository) GetByOwnerID(ctx context.Context, ownerID uint) (*models.Wallet, error) {
	var w models.Wallet
	err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&w).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &w, nil
}

func (r *WalletRepository) GetByID(ctx context.Context, id uint) (*models.Wallet, error) {
	var w models.Wallet
	if err := r.db.WithContext(ctx).First(&w, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &w, nil
}

// GetBalance returns the owner's balance in cents.
func (r *WalletRepository) GetBalance(ctx context.Context, ownerID uint) (int64, error) {
	w, err := r.GetByOwnerID(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	return w.BalanceCents, nil
}

// GetOrCreate opens a zero-balance wallet for the owner if none exists yet.
func (r *WalletRepository) GetOrCreate(ctx context.Context, ownerID uint, role string) (*models.Wallet, error) {
	w, err := r.GetByOwnerID(ctx, ownerID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	w = &models.Wallet{OwnerID: ownerID, OwnerRole: role, BalanceCents: 0, Currency: money.Currency}
	if err := r.db.WithContext(ctx).Create(w).Error; err != nil {
		// Lost a race with a concurrent open; the unique owner index kept one row.
		if existing, getErr := r.GetByOwnerID(ctx, ownerID); getErr == nil {
			return existing, nil
		}
		return nil, err
	}
	return w, nil
}

// ApplyDelta adds delta (negative for a debit) to the wallet balance in a
// single guarded UPDATE, so concurrent debits are checked against the row as
// the database serializes them. expectedVersion, when set, turns the update
// into a compare-and-swap.
func (r *WalletRepository) ApplyDelta(ctx context.Context, walletID uint, delta int64, expectedVersion *int64) (int64, error) {
	var newBalance int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&models.Wallet{}).
			Where("id = ?", walletID).
			Where("balance_cents + ? >= 0", delta)
		if expectedVersion != nil {
			q = q.Where("version = ?", *expectedVersion)
		}
		res := q.Updates(map[string]interface{}{
			"balance_cents": gorm.Expr("balance_cents + ?", delta),
			"version":       gorm.Expr("version + 1"),
			"updated_at":    time.Now(),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return r.rejection(tx, walletID, delta, expectedVersion)
		}
		var w models.Wallet
		if err := tx.Select("balance_cents").First(&w, walletID).Error; err != nil {
			return err
		}
		newBalance = w.BalanceCents
		return nil
	})
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

// rejection explains why a guarded update matched no row.
func (r *WalletRepository) rejection(tx *gorm.DB, walletID uint, delta int64, expectedVersion *int64) error {
	var w models.Wallet
	if err := tx.First(&w, walletID).Error; err != nil {
		return notFound(err)
	}
	if expectedVersion != nil && w.Version != *expectedVersion {
		return domain.ErrVersionConflict
	}
	if w.BalanceCents+delta < 0 {
		return domain.ErrInsufficientFunds
	}
	// The row changed between the update and this read.
	return domain.ErrVersionConflict
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	return err
}
