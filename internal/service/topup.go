package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"safaripay/internal/domain"
	"safaripay/internal/models"
	"safaripay/internal/repository"
	"safaripay/pkg/money"
	"safaripay/pkg/payment"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TopUpRequest funds a tourist wallet from an external rail. Card top-ups
// are in SourceCurrency and converted at Rate (or the configured rate when
// Rate is zero). Mobile money top-ups are in KES and need Phone.
type TopUpRequest struct {
	UserID         uint
	Method         string
	SourceAmount   decimal.Decimal
	SourceCurrency string
	Rate           decimal.Decimal
	Phone          string
}

// TopUpResult is the recorded top-up. CheckoutURL is set for card top-ups,
// where the tourist completes payment on the provider's page.
type TopUpResult struct {
	Transaction *models.Transaction
	CheckoutURL string
}

// RequestTopUp records a PENDING top-up and asks the rail to collect it. The
// wallet is credited only when the rail's success callback arrives. A rail
// that does not answer in time leaves the top-up PENDING.
func (s *SettlementService) RequestTopUp(ctx context.Context, req TopUpRequest) (*TopUpResult, error) {
	if !domain.ValidTopUpMethod(req.Method) {
		return nil, domain.ErrInvalidMethod
	}
	if !req.SourceAmount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	w, err := s.wallets.GetByOwnerID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if w.OwnerRole != domain.RoleTourist {
		return nil, fmt.Errorf("%w: only tourists top up", domain.ErrInvalidParty)
	}

	to := req.UserID
	txn := &models.Transaction{
		Kind:              domain.KindTopUp,
		ToUserID:          &to,
		PaymentMethod:     req.Method,
		ExternalReference: strPtr(newReference("tp")),
		SourceAmount:      req.SourceAmount.String(),
	}
	// sourceMinor is what the rail collects, in the source currency's cents.
	var sourceMinor int64
	switch req.Method {
	case domain.MethodCard:
		if sourceMinor, err = s.priceCardTopUp(txn, req); err != nil {
			return nil, err
		}
	case domain.MethodMobileMoney:
		if req.Phone == "" {
			return nil, domain.ErrInvalidDestination
		}
		if req.SourceCurrency != "" && !strings.EqualFold(req.SourceCurrency, money.Currency) {
			return nil, domain.ErrUnsupportedCurrency
		}
		if txn.AmountCents, err = money.ToCents(req.SourceAmount); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidAmount, err)
		}
		if !money.IsWholeUnits(txn.AmountCents) {
			return nil, fmt.Errorf("%w: mobile money top-ups are whole KES", domain.ErrInvalidAmount)
		}
		txn.SourceCurrency = money.Currency
		txn.ExchangeRate = "1"
		sourceMinor = txn.AmountCents
	}
	if err := s.checkAmount(txn.AmountCents); err != nil {
		return nil, err
	}

	if err := s.txns.Create(ctx, txn); err != nil {
		return nil, err
	}
	s.metrics.ObserveTransaction(domain.KindTopUp, domain.StatusPending)
	log := s.logger.With(zap.Uint("txn_id", txn.ID), zap.String("reference", txn.Reference()), zap.String("method", req.Method))

	ctx = context.WithoutCancel(ctx)
	result := &TopUpResult{Transaction: txn}
	var providerRef string
	switch req.Method {
	case domain.MethodCard:
		err = s.callRail(ctx, "card", func(ctx context.Context) error {
			resp, err := s.rails.Card.CreateCharge(ctx, payment.ChargeRequest{
				Reference:   txn.Reference(),
				AmountMinor: sourceMinor,
				Currency:    txn.SourceCurrency,
				Description: "Wallet top-up",
				CallbackURL: s.webhookURL("card"),
			})
			if err != nil {
				return err
			}
			providerRef, result.CheckoutURL = resp.ChargeID, resp.CheckoutURL
			return nil
		})
	case domain.MethodMobileMoney:
		err = s.callRail(ctx, "mpesa", func(ctx context.Context) error {
			resp, err := s.rails.Mpesa.InitiatePush(ctx, payment.PushRequest{
				Phone:       req.Phone,
				AmountCents: txn.AmountCents,
				Reference:   txn.Reference(),
				Description: "Wallet top-up",
				CallbackURL: s.webhookURL("mpesa"),
			})
			if err != nil {
				return err
			}
			providerRef = resp.CheckoutID
			return nil
		})
	}

	switch {
	case err == nil:
		if err := s.txns.SetProviderRef(ctx, txn.ID, providerRef); err != nil {
			log.Error("store provider ref", zap.Error(err))
		} else if providerRef != "" {
			txn.ProviderRef = strPtr(providerRef)
		}
		log.Info("top-up initiated", zap.String("provider_ref", providerRef), zap.String("amount", money.Format(txn.AmountCents)))
		return result, nil
	case payment.IsTimeout(err):
		log.Warn("top-up rail timed out, awaiting callback", zap.Error(err))
		return result, nil
	default:
		failed, finErr := s.txns.Finalize(ctx, txn.ID, domain.StatusFailed, err.Error())
		if finErr == nil {
			result.Transaction = failed
			s.metrics.ObserveTransaction(domain.KindTopUp, domain.StatusFailed)
		}
		log.Warn("top-up rejected by rail", zap.Error(err))
		return result, railError(err)
	}
}

// priceCardTopUp fills in the currency, rate and KES value of a card top-up
// and returns the amount to charge in source-currency cents.
func (s *SettlementService) priceCardTopUp(txn *models.Transaction, req TopUpRequest) (int64, error) {
	currency := strings.ToUpper(strings.TrimSpace(req.SourceCurrency))
	if currency == "" {
		return 0, domain.ErrUnsupportedCurrency
	}
	rate := req.Rate
	if currency == money.Currency {
		rate = decimal.NewFromInt(1)
	} else if rate.IsZero() {
		configured, ok := s.policy.Rates[currency]
		if !ok {
			return 0, domain.ErrUnsupportedCurrency
		}
		rate = configured
	}
	if !rate.IsPositive() {
		return 0, fmt.Errorf("%w: %v", domain.ErrInvalidAmount, money.ErrInvalidRate)
	}
	sourceMinor, err := money.ToCents(req.SourceAmount)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrInvalidAmount, err)
	}
	amount, err := money.Convert(req.SourceAmount, rate)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrInvalidAmount, err)
	}
	// The margin is accrued on the success callback and must be computable then.
	if _, err := s.revenue.TopUpMargin(req.SourceAmount, currency, rate); err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrInvalidAmount, err)
	}
	txn.SourceCurrency = currency
	txn.ExchangeRate = rate.String()
	txn.AmountCents = amount
	if cost, ok := s.revenue.CostRate(currency); ok && currency != money.Currency {
		txn.CostRate = cost.String()
	}
	return sourceMinor, nil
}

// HandleTopUpCallback applies a rail's verdict on a top-up. On success the
// recorded amount is credited and any conversion margin accrued, together
// with completion. Repeated callbacks change nothing.
func (s *SettlementService) HandleTopUpCallback(ctx context.Context, cb payment.Callback) (*CallbackResult, error) {
	txn, err := s.findForCallback(ctx, domain.KindTopUp, cb)
	if err != nil {
		return nil, err
	}
	log := s.logger.With(zap.Uint("txn_id", txn.ID), zap.String("reference", txn.Reference()))
	if domain.IsTerminal(txn.Status) {
		log.Info("duplicate top-up callback", zap.String("status", txn.Status))
		return &CallbackResult{Transaction: txn, Duplicate: true}, nil
	}

	var (
		final     *models.Transaction
		duplicate bool
	)
	switch out := cb.Outcome.(type) {
	case payment.Success:
		if out.AmountCents != 0 && out.AmountCents != txn.AmountCents {
			log.Warn("rail reported a different amount; crediting recorded amount",
				zap.Int64("reported_cents", out.AmountCents),
				zap.Int64("recorded_cents", txn.AmountCents))
		}
		err = s.inTx(ctx, func(tx *gorm.DB, wallets *repository.WalletRepository, txns *repository.TransactionRepository) error {
			done, err := txns.Finalize(ctx, txn.ID, domain.StatusCompleted, "")
			if errors.Is(err, domain.ErrAlreadyFinalized) {
				final, duplicate = done, true
				return nil
			}
			if err != nil {
				return err
			}
			w, err := wallets.GetByOwnerID(ctx, *txn.ToUserID)
			if err != nil {
				return err
			}
			if _, err := wallets.ApplyDelta(ctx, w.ID, txn.AmountCents, nil); err != nil {
				return err
			}
			if margin := s.topUpMargin(txn, log); margin > 0 {
				desc := fmt.Sprintf("%s %s at %s", txn.SourceAmount, txn.SourceCurrency, txn.ExchangeRate)
				if err := s.revenue.Accrue(ctx, tx, domain.RevenueTopUpMargin, txn.ID, margin, desc); err != nil {
					return err
				}
			}
			final = done
			return nil
		})
	case payment.Failure:
		final, err = s.txns.Finalize(ctx, txn.ID, domain.StatusFailed, out.Reason)
		if errors.Is(err, domain.ErrAlreadyFinalized) {
			duplicate, err = true, nil
		}
	default:
		return nil, fmt.Errorf("top-up callback without outcome")
	}
	if err != nil {
		return nil, err
	}
	if !duplicate {
		s.metrics.ObserveTransaction(domain.KindTopUp, final.Status)
		log.Info("top-up settled", zap.String("status", final.Status), zap.String("failure_reason", final.FailureReason))
	}
	return &CallbackResult{Transaction: final, Duplicate: duplicate}, nil
}

func (s *SettlementService) topUpMargin(txn *models.Transaction, log *zap.Logger) int64 {
	if txn.CostRate == "" || txn.ExchangeRate == "" {
		return 0
	}
	source, err1 := decimal.NewFromString(txn.SourceAmount)
	applied, err2 := decimal.NewFromString(txn.ExchangeRate)
	cost, err3 := decimal.NewFromString(txn.CostRate)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0
	}
	margin, err := money.Margin(source, applied, cost)
	if err != nil {
		log.Warn("top-up margin not accrued", zap.Error(err))
		return 0
	}
	return margin
}
