package service

import (
	"context"
	"strings"
	"time"

	"safaripay/internal/domain"
	"safaripay/internal/metrics"
	"safaripay/internal/models"
	"safaripay/internal/repository"
	"safaripay/pkg/money"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RevenueService computes the platform's cut of withdrawals and top-ups and
// records it, at most once per transaction.
type RevenueService struct {
	repo      *repository.RevenueRepository
	feeRate   decimal.Decimal
	costRates map[string]decimal.Decimal
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewRevenueService(
	repo *repository.RevenueRepository,
	feeRate decimal.Decimal,
	costRates map[string]decimal.Decimal,
	m *metrics.Metrics,
	logger *zap.Logger,
) *RevenueService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RevenueService{repo: repo, feeRate: feeRate, costRates: costRates, metrics: m, logger: logger}
}

// WithdrawalFee splits a gross withdrawal into the platform fee and the net
// amount paid out. fee + net always equals amountCents.
func (s *RevenueService) WithdrawalFee(amountCents int64) (fee, net int64) {
	fee = money.FeeCents(amountCents, s.feeRate)
	return fee, amountCents - fee
}

// CostRate returns the platform's own rate for currency, if one is configured.
func (s *RevenueService) CostRate(currency string) (decimal.Decimal, bool) {
	r, ok := s.costRates[strings.ToUpper(currency)]
	return r, ok
}

// TopUpMargin is the spread kept on a converted top-up. It is zero when no
// cost rate is configured for the currency.
func (s *RevenueService) TopUpMargin(sourceAmount decimal.Decimal, currency string, appliedRate decimal.Decimal) (int64, error) {
	cost, ok := s.CostRate(currency)
	if !ok {
		return 0, nil
	}
	return money.Margin(sourceAmount, appliedRate, cost)
}

// Accrue records revenue for txnID inside tx (nil uses the service's own
// connection). Non-positive amounts and repeats are skipped without error.
func (s *RevenueService) Accrue(ctx context.Context, tx *gorm.DB, source string, txnID uint, amountCents int64, description string) error {
	if amountCents <= 0 {
		return nil
	}
	repo := s.repo
	if tx != nil {
		repo = repo.WithTx(tx)
	}
	created, err := repo.Create(ctx, &models.RevenueRecord{
		Source:        source,
		AmountCents:   amountCents,
		TransactionID: txnID,
		Description:   description,
	})
	if err != nil {
		return err
	}
	if created {
		s.metrics.AddRevenue(source, amountCents)
		s.logger.Info("revenue accrued",
			zap.String("source", source),
			zap.Uint("txn_id", txnID),
			zap.Int64("amount_cents", amountCents))
	}
	return nil
}

// RevenueSummary is earned revenue over a period.
type RevenueSummary struct {
	From       *time.Time               `json:"from,omitempty"`
	To         *time.Time               `json:"to,omitempty"`
	TotalCents int64                    `json:"total_cents"`
	Total      string                   `json:"total"`
	BySource   []repository.SourceTotal `json:"by_source"`
}

// Summary totals earned revenue in [from, to). Zero bounds leave the range open.
func (s *RevenueService) Summary(ctx context.Context, from, to time.Time) (*RevenueSummary, error) {
	totals, err := s.repo.SumBySource(ctx, from, to)
	if err != nil {
		return nil, err
	}
	out := &RevenueSummary{BySource: totals}
	if !from.IsZero() {
		out.From = &from
	}
	if !to.IsZero() {
		out.To = &to
	}
	for _, t := range totals {
		out.TotalCents += t.AmountCents
	}
	out.Total = money.Format(out.TotalCents)
	return out, nil
}

func (s *RevenueService) List(ctx context.Context, source string, page, limit int) ([]models.RevenueRecord, int64, error) {
	if source != "" && source != domain.RevenueWithdrawalFee && source != domain.RevenueTopUpMargin {
		return nil, 0, domain.ErrInvalidFilter
	}
	return s.repo.List(ctx, source, page, limit)
}
