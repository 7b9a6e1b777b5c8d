package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"safaripay/internal/database/dbtest"
	"safaripay/internal/domain"
	"safaripay/internal/models"
	"safaripay/internal/repository"
	"safaripay/pkg/payment"
)

const (
	tourist  uint = 1
	business uint = 2
	tourist2 uint = 3
)

// mockRail stands in for every external rail.
type mockRail struct {
	mock.Mock
}

func (m *mockRail) CreateCharge(ctx context.Context, req payment.ChargeRequest) (*payment.ChargeResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*payment.ChargeResponse)
	return resp, args.Error(1)
}

func (m *mockRail) InitiatePush(ctx context.Context, req payment.PushRequest) (*payment.PushResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*payment.PushResponse)
	return resp, args.Error(1)
}

func (m *mockRail) InitiatePayout(ctx context.Context, req payment.PayoutRequest) (*payment.PayoutResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*payment.PayoutResponse)
	return resp, args.Error(1)
}

type fixture struct {
	db      *gorm.DB
	svc     *SettlementService
	wallets *repository.WalletRepository
	txns    *repository.TransactionRepository
	revenue *repository.RevenueRepository
	rail    *mockRail
	bank    *mockRail
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	f := &fixture{
		db:      db,
		wallets: repository.NewWalletRepository(db),
		txns:    repository.NewTransactionRepository(db),
		revenue: repository.NewRevenueRepository(db),
		rail:    &mockRail{},
		bank:    &mockRail{},
	}
	rev := NewRevenueService(f.revenue,
		decimal.RequireFromString("0.01"),
		map[string]decimal.Decimal{"USD": decimal.RequireFromString("131.00")},
		nil, zap.NewNop())
	f.svc = NewSettlementService(db, f.wallets, f.txns, rev,
		Rails{Card: f.rail, Mpesa: f.rail, MpesaPayout: f.rail, Bank: f.bank},
		Policy{
			RailTimeout:    100 * time.Millisecond,
			Rates:          map[string]decimal.Decimal{"USD": decimal.RequireFromString("130.25")},
			WebhookURL:     func(name string) string { return "https://api.test/api/v1/webhooks/" + name },
			MaxAmountCents: 100_000_000, // 1,000,000 KES
		},
		nil, zap.NewNop())
	return f
}

// open creates a wallet for userID holding balance cents.
func (f *fixture) open(t *testing.T, userID uint, role string, balance int64) *models.Wallet {
	t.Helper()
	ctx := context.Background()
	w, err := f.svc.OpenWallet(ctx, userID, role)
	require.NoError(t, err)
	if balance > 0 {
		_, err = f.wallets.ApplyDelta(ctx, w.ID, balance, nil)
		require.NoError(t, err)
	}
	return w
}

func (f *fixture) balance(t *testing.T, userID uint) int64 {
	t.Helper()
	b, err := f.wallets.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return b
}

func (f *fixture) countByStatus(t *testing.T, kind, status string) int64 {
	t.Helper()
	_, total, err := f.txns.List(context.Background(), repository.TransactionFilter{Kind: kind, Status: status})
	require.NoError(t, err)
	return total
}

func TestOpenWallet_Roles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.OpenWallet(ctx, 9, domain.RoleAdmin)
	require.ErrorIs(t, err, domain.ErrForbidden)

	w1, err := f.svc.OpenWallet(ctx, tourist, domain.RoleTourist)
	require.NoError(t, err)
	w2, err := f.svc.OpenWallet(ctx, tourist, domain.RoleTourist)
	require.NoError(t, err)
	require.Equal(t, w1.ID, w2.ID)
}

func TestGetTransaction_OnlyParties(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, tourist, domain.RoleTourist, 1_500_000)
	f.open(t, business, domain.RoleBusiness, 0)
	f.open(t, tourist2, domain.RoleTourist, 0)

	txn, err := f.svc.RequestPayment(ctx, PaymentRequest{FromUserID: tourist, ToUserID: business, AmountCents: 250_000})
	require.NoError(t, err)

	_, err = f.svc.GetTransaction(ctx, business, txn.ID)
	require.NoError(t, err)
	_, err = f.svc.GetTransaction(ctx, tourist2, txn.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = f.svc.AdminListTransactions(ctx, repository.TransactionFilter{Kind: "BOGUS"})
	require.ErrorIs(t, err, domain.ErrInvalidFilter)
}
