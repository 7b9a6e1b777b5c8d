package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"safaripay/internal/domain"
	"safaripay/internal/metrics"
	"safaripay/internal/models"
	"safaripay/internal/repository"
	"safaripay/pkg/money"
	"safaripay/pkg/payment"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Rails are the external money rails the orchestrator drives.
type Rails struct {
	Card        payment.ChargeRail
	Mpesa       payment.PushRail
	MpesaPayout payment.PayoutRail
	Bank        payment.PayoutRail
}

// Policy carries the settlement knobs that come from configuration.
type Policy struct {
	RailTimeout time.Duration
	// Rates is the exchange-rate table used when a top-up does not carry its own rate.
	Rates map[string]decimal.Decimal
	// WebhookURL maps a webhook name ("card", "mpesa", "withdrawal", "bank") to its public URL.
	WebhookURL func(name string) string
	// MaxAmountCents caps the KES value of a single top-up, payment or
	// withdrawal. Zero means no cap.
	MaxAmountCents int64
}

// SettlementService coordinates wallet balances, the transaction log and
// the external rails for top-ups, payments and withdrawals.
type SettlementService struct {
	db      *gorm.DB
	wallets *repository.WalletRepository
	txns    *repository.TransactionRepository
	revenue *RevenueService
	rails   Rails
	policy  Policy
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewSettlementService(
	db *gorm.DB,
	wallets *repository.WalletRepository,
	txns *repository.TransactionRepository,
	revenue *RevenueService,
	rails Rails,
	policy Policy,
	m *metrics.Metrics,
	logger *zap.Logger,
) *SettlementService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.RailTimeout <= 0 {
		policy.RailTimeout = 20 * time.Second
	}
	return &SettlementService{
		db:      db,
		wallets: wallets,
		txns:    txns,
		revenue: revenue,
		rails:   rails,
		policy:  policy,
		metrics: m,
		logger:  logger.Named("settlement"),
	}
}

// CallbackResult reports what a rail callback did. Duplicate is set when the
// transaction was already final and nothing changed.
type CallbackResult struct {
	Transaction *models.Transaction
	Duplicate   bool
}

// OpenWallet returns the user's wallet, opening it on first use. Only tourists
// and businesses hold wallets.
func (s *SettlementService) OpenWallet(ctx context.Context, userID uint, role string) (*models.Wallet, error) {
	if role != domain.RoleTourist && role != domain.RoleBusiness {
		return nil, domain.ErrForbidden
	}
	return s.wallets.GetOrCreate(ctx, userID, role)
}

func (s *SettlementService) GetWallet(ctx context.Context, userID uint) (*models.Wallet, error) {
	return s.wallets.GetByOwnerID(ctx, userID)
}

// GetTransaction returns a transaction the user is a party to.
func (s *SettlementService) GetTransaction(ctx context.Context, userID, id uint) (*models.Transaction, error) {
	t, err := s.txns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isParty(t, userID) {
		return nil, domain.ErrNotFound
	}
	return t, nil
}

func (s *SettlementService) ListTransactions(ctx context.Context, userID uint, page, limit int) ([]models.Transaction, int64, error) {
	return s.txns.ListForUser(ctx, userID, page, limit)
}

// AdminListTransactions lists all transactions matching f.
func (s *SettlementService) AdminListTransactions(ctx context.Context, f repository.TransactionFilter) ([]models.Transaction, int64, error) {
	if f.Kind != "" && !validKind(f.Kind) {
		return nil, 0, domain.ErrInvalidFilter
	}
	if f.Status != "" && f.Status != domain.StatusPending && !domain.IsTerminal(f.Status) {
		return nil, 0, domain.ErrInvalidFilter
	}
	return s.txns.List(ctx, f)
}

// checkAmount rejects non-positive amounts and amounts above the
// per-transaction cap.
func (s *SettlementService) checkAmount(cents int64) error {
	if cents <= 0 {
		return domain.ErrInvalidAmount
	}
	if limit := s.policy.MaxAmountCents; limit > 0 && cents > limit {
		return fmt.Errorf("%w: above the %s KES per-transaction limit", domain.ErrInvalidAmount, money.Format(limit))
	}
	return nil
}

func validKind(kind string) bool {
	switch kind {
	case domain.KindTopUp, domain.KindPayment, domain.KindWithdrawal, domain.KindReversal:
		return true
	}
	return false
}

func isParty(t *models.Transaction, userID uint) bool {
	return (t.FromUserID != nil && *t.FromUserID == userID) || (t.ToUserID != nil && *t.ToUserID == userID)
}

// inTx runs fn in one database transaction with repositories bound to it.
func (s *SettlementService) inTx(ctx context.Context, fn func(tx *gorm.DB, wallets *repository.WalletRepository, txns *repository.TransactionRepository) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(tx, s.wallets.WithTx(tx), s.txns.WithTx(tx))
	})
}

// callRail bounds a rail request by the configured timeout. The caller's
// cancellation is not propagated: once a request is sent its outcome must be
// recorded.
func (s *SettlementService) callRail(ctx context.Context, rail string, call func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.policy.RailTimeout)
	defer cancel()
	start := time.Now()
	err := call(ctx)
	result := "ok"
	switch {
	case err == nil:
	case payment.IsTimeout(err):
		result = "timeout"
	default:
		result = "rejected"
	}
	s.metrics.ObserveRailRequest(rail, result, time.Since(start))
	return err
}

// findForCallback correlates a callback by our reference first and the
// rail's id second.
func (s *SettlementService) findForCallback(ctx context.Context, kind string, cb payment.Callback) (*models.Transaction, error) {
	var (
		t   *models.Transaction
		err error
	)
	if cb.Reference != "" {
		t, err = s.txns.FindByExternalReference(ctx, cb.Reference)
	}
	if (t == nil || errors.Is(err, domain.ErrNotFound)) && cb.ProviderRef != "" {
		t, err = s.txns.FindByProviderRef(ctx, cb.ProviderRef)
	}
	if err != nil {
		return nil, err
	}
	if t == nil || t.Kind != kind {
		return nil, domain.ErrNotFound
	}
	return t, nil
}

func (s *SettlementService) webhookURL(name string) string {
	if s.policy.WebhookURL == nil {
		return ""
	}
	return s.policy.WebhookURL(name)
}

func newReference(prefix string) string {
	return prefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func strPtr(s string) *string { return &s }

func railError(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrExternalRail, err)
}
