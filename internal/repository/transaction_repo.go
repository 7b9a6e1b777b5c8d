package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"safaripay/internal/domain"
	"safaripay/internal/models"
	"safaripay/pkg/money"

	"gorm.io/gorm"
)

// TransactionRepository is the append/update-only transaction log.
type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) WithTx(tx *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: tx}
}

// TransactionFilter narrows admin listings. Zero values match everything.
type TransactionFilter struct {
	Kind   string
	Status string
	Method string
	UserID uint
	Page   int
	Limit  int
}

// Create records t, defaulting to PENDING. Party fields must fit the kind.
func (r *TransactionRepository) Create(ctx context.Context, t *models.Transaction) error {
	if t.AmountCents <= 0 {
		return domain.ErrInvalidAmount
	}
	if err := validateParties(t); err != nil {
		return err
	}
	if t.Status == "" {
		t.Status = domain.StatusPending
	}
	if t.Currency == "" {
		t.Currency = money.Currency
	}
	if t.ExternalReference != nil && *t.ExternalReference == "" {
		t.ExternalReference = nil
	}
	if t.ExternalReference != nil {
		if _, err := r.FindByExternalReference(ctx, *t.ExternalReference); err == nil {
			return domain.ErrDuplicateReference
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
	}
	if domain.IsTerminal(t.Status) && t.FinalizedAt == nil {
		now := time.Now()
		t.FinalizedAt = &now
	}
	if err := r.db.WithContext(ctx).Create(t).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrDuplicateReference
		}
		return err
	}
	return nil
}

func validateParties(t *models.Transaction) error {
	hasFrom := t.FromUserID != nil && *t.FromUserID != 0
	hasTo := t.ToUserID != nil && *t.ToUserID != 0
	switch t.Kind {
	case domain.KindTopUp, domain.KindReversal:
		if hasFrom || !hasTo {
			return domain.ErrInvalidParty
		}
	case domain.KindPayment:
		if !hasFrom || !hasTo || *t.FromUserID == *t.ToUserID {
			return domain.ErrInvalidParty
		}
	case domain.KindWithdrawal:
		if !hasFrom || hasTo {
			return domain.ErrInvalidParty
		}
	default:
		return fmt.Errorf("unknown transaction kind %q", t.Kind)
	}
	return nil
}

// Finalize moves a PENDING transaction to COMPLETED or FAILED. The update is
// conditional on the current status, so exactly one caller wins; every other
// caller gets the stored row and ErrAlreadyFinalized.
func (r *TransactionRepository) Finalize(ctx context.Context, id uint, status, reason string) (*models.Transaction, error) {
	if !domain.IsTerminal(status) {
		return nil, fmt.Errorf("finalize: %q is not a terminal status", status)
	}
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Updates(map[string]interface{}{
			"status":         status,
			"failure_reason": reason,
			"finalized_at":   now,
			"updated_at":     now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	t, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return t, domain.ErrAlreadyFinalized
	}
	return t, nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id uint) (*models.Transaction, error) {
	var t models.Transaction
	if err := r.db.WithContext(ctx).First(&t, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// FindByExternalReference correlates a callback to its transaction by exact match.
func (r *TransactionRepository) FindByExternalReference(ctx context.Context, ref string) (*models.Transaction, error) {
	if ref == "" {
		return nil, domain.ErrNotFound
	}
	var t models.Transaction
	if err := r.db.WithContext(ctx).Where("external_reference = ?", ref).First(&t).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// FindByProviderRef looks up by the id the rail assigned (e.g. an STK checkout id).
func (r *TransactionRepository) FindByProviderRef(ctx context.Context, ref string) (*models.Transaction, error) {
	if ref == "" {
		return nil, domain.ErrNotFound
	}
	var t models.Transaction
	if err := r.db.WithContext(ctx).Where("provider_ref = ?", ref).First(&t).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// FindReversal returns the compensating transaction written for originalID.
func (r *TransactionRepository) FindReversal(ctx context.Context, originalID uint) (*models.Transaction, error) {
	var t models.Transaction
	err := r.db.WithContext(ctx).
		Where("kind = ? AND reverses_id = ?", domain.KindReversal, originalID).
		First(&t).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (r *TransactionRepository) SetProviderRef(ctx context.Context, id uint, ref string) error {
	if ref == "" {
		return nil
	}
	return r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"provider_ref": ref, "updated_at": time.Now()}).Error
}

// ClaimPayout marks a queued withdrawal as handed to the payout rail. After
// this the owner can no longer cancel it.
func (r *TransactionRepository) ClaimPayout(ctx context.Context, id uint) error {
	return r.movePayoutState(ctx, id, domain.PayoutQueued, domain.PayoutInitiated)
}

// CancelQueuedPayout stops a withdrawal whose payout was never initiated.
func (r *TransactionRepository) CancelQueuedPayout(ctx context.Context, id uint) error {
	return r.movePayoutState(ctx, id, domain.PayoutQueued, domain.PayoutCancelled)
}

func (r *TransactionRepository) movePayoutState(ctx context.Context, id uint, from, to string) error {
	res := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND status = ? AND payout_state = ?", id, domain.StatusPending, from).
		Updates(map[string]interface{}{"payout_state": to, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		t, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if domain.IsTerminal(t.Status) {
			return domain.ErrAlreadyFinalized
		}
		return domain.ErrPayoutInitiated
	}
	return nil
}

// ListQueuedPayouts returns pending withdrawals whose payout was never handed
// to a rail and that were created before cutoff, oldest first.
func (r *TransactionRepository) ListQueuedPayouts(ctx context.Context, cutoff time.Time, limit int) ([]models.Transaction, error) {
	var list []models.Transaction
	err := r.db.WithContext(ctx).
		Where("kind = ? AND status = ? AND payout_state = ? AND created_at < ?",
			domain.KindWithdrawal, domain.StatusPending, domain.PayoutQueued, cutoff).
		Order("id ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

// ListForUser returns transactions where the user is either party, newest first.
func (r *TransactionRepository) ListForUser(ctx context.Context, userID uint, page, limit int) ([]models.Transaction, int64, error) {
	return r.List(ctx, TransactionFilter{UserID: userID, Page: page, Limit: limit})
}

func (r *TransactionRepository) List(ctx context.Context, f TransactionFilter) ([]models.Transaction, int64, error) {
	page, limit := pageBounds(f.Page, f.Limit)
	q := r.db.WithContext(ctx).Model(&models.Transaction{})
	if f.Kind != "" {
		q = q.Where("kind = ?", f.Kind)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Method != "" {
		q = q.Where("payment_method = ?", f.Method)
	}
	if f.UserID != 0 {
		q = q.Where("from_user_id = ? OR to_user_id = ?", f.UserID, f.UserID)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var list []models.Transaction
	err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Offset((page - 1) * limit).Find(&list).Error
	return list, total, err
}

func pageBounds(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}
