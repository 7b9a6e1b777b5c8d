package repository

import (
	"context"
	"errors"
	"time"

	"safaripay/internal/domain"
	"safaripay/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RevenueRepository struct {
	db *gorm.DB
}

func NewRevenueRepository(db *gorm.DB) *RevenueRepository {
	return &RevenueRepository{db: db}
}

func (r *RevenueRepository) WithTx(tx *gorm.DB) *RevenueRepository {
	return &RevenueRepository{db: tx}
}

// Create inserts rec unless the transaction already has a record. created is
// false when an existing record was kept.
func (r *RevenueRepository) Create(ctx context.Context, rec *models.RevenueRecord) (created bool, err error) {
	if rec.AmountCents <= 0 {
		return false, domain.ErrInvalidAmount
	}
	if _, err := r.GetByTransactionID(ctx, rec.TransactionID); err == nil {
		return false, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return false, err
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "transaction_id"}}, DoNothing: true}).
		Create(rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *RevenueRepository) GetByTransactionID(ctx context.Context, txnID uint) (*models.RevenueRecord, error) {
	var rec models.RevenueRecord
	if err := r.db.WithContext(ctx).Where("transaction_id = ?", txnID).First(&rec).Error; err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

func (r *RevenueRepository) List(ctx context.Context, source string, page, limit int) ([]models.RevenueRecord, int64, error) {
	page, limit = pageBounds(page, limit)
	q := r.db.WithContext(ctx).Model(&models.RevenueRecord{})
	if source != "" {
		q = q.Where("source = ?", source)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var list []models.RevenueRecord
	err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Offset((page - 1) * limit).Find(&list).Error
	return list, total, err
}

// SourceTotal is the earned revenue of one source.
type SourceTotal struct {
	Source      string `json:"source"`
	AmountCents int64  `json:"amount_cents"`
	Count       int64  `json:"count"`
}

// SumBySource totals revenue created in [from, to). Records whose transaction
// ended FAILED were never earned and are left out. Zero times leave the range open.
func (r *RevenueRepository) SumBySource(ctx context.Context, from, to time.Time) ([]SourceTotal, error) {
	q := r.db.WithContext(ctx).Table("revenue_records AS rr").
		Select("rr.source AS source, COALESCE(SUM(rr.amount_cents), 0) AS amount_cents, COUNT(*) AS count").
		Joins("JOIN ledger_transactions lt ON lt.id = rr.transaction_id").
		Where("lt.status <> ?", domain.StatusFailed)
	if !from.IsZero() {
		q = q.Where("rr.created_at >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("rr.created_at < ?", to)
	}
	var out []SourceTotal
	err := q.Group("rr.source").Order("rr.source").Scan(&out).Error
	return out, err
}
