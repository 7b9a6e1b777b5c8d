package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"safaripay/internal/domain"
	"safaripay/internal/models"
	"safaripay/internal/repository"
	"safaripay/pkg/money"
	"safaripay/pkg/payment"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// WithdrawalRequest pays AmountCents (gross, whole KES) out of a business
// wallet to Destination: a 254XXXXXXXXX phone for MOBILE_MONEY or an account
// number for BANK.
type WithdrawalRequest struct {
	UserID      uint
	Method      string
	AmountCents int64
	Destination string
}

// RequestWithdrawal reserves the gross amount, records the fee and hands the
// net amount to the payout rail. If the rail refuses, the reservation is
// reversed. If it does not answer in time the withdrawal stays PENDING until
// the callback arrives.
func (s *SettlementService) RequestWithdrawal(ctx context.Context, req WithdrawalRequest) (*models.Transaction, error) {
	if !domain.ValidWithdrawalMethod(req.Method) {
		return nil, domain.ErrInvalidMethod
	}
	if err := s.checkAmount(req.AmountCents); err != nil {
		return nil, err
	}
	if !money.IsWholeUnits(req.AmountCents) {
		return nil, fmt.Errorf("%w: withdrawals are whole KES", domain.ErrInvalidAmount)
	}
	if req.Destination == "" {
		return nil, domain.ErrInvalidDestination
	}
	w, err := s.wallets.GetByOwnerID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if w.OwnerRole != domain.RoleBusiness {
		return nil, fmt.Errorf("%w: only businesses withdraw", domain.ErrInvalidParty)
	}
	fee, net := s.revenue.WithdrawalFee(req.AmountCents)
	if net <= 0 {
		return nil, fmt.Errorf("%w: amount does not cover the fee", domain.ErrInvalidAmount)
	}

	from := req.UserID
	txn := &models.Transaction{
		Kind:              domain.KindWithdrawal,
		FromUserID:        &from,
		AmountCents:       req.AmountCents,
		PaymentMethod:     req.Method,
		ExternalReference: strPtr(newReference("wd")),
		FeeCents:          fee,
		NetCents:          net,
		PayoutDestination: req.Destination,
		PayoutState:       domain.PayoutQueued,
	}
	err = s.inTx(ctx, func(tx *gorm.DB, wallets *repository.WalletRepository, txns *repository.TransactionRepository) error {
		if err := txns.Create(ctx, txn); err != nil {
			return err
		}
		if _, err := wallets.ApplyDelta(ctx, w.ID, -req.AmountCents, nil); err != nil {
			return err
		}
		desc := fmt.Sprintf("%s fee on %s withdrawal", money.Format(fee), money.Format(req.AmountCents))
		return s.revenue.Accrue(ctx, tx, domain.RevenueWithdrawalFee, txn.ID, fee, desc)
	})
	if errors.Is(err, domain.ErrInsufficientFunds) {
		return s.recordFailedWithdrawal(ctx, req, fee, net, err)
	}
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveTransaction(domain.KindWithdrawal, domain.StatusPending)
	s.logger.Info("withdrawal reserved",
		zap.Uint("txn_id", txn.ID),
		zap.String("reference", txn.Reference()),
		zap.String("gross", money.Format(req.AmountCents)),
		zap.String("fee", money.Format(fee)))

	txn, _, err = s.dispatchPayout(ctx, txn)
	return txn, err
}

func (s *SettlementService) recordFailedWithdrawal(ctx context.Context, req WithdrawalRequest, fee, net int64, cause error) (*models.Transaction, error) {
	from := req.UserID
	failed := &models.Transaction{
		Kind:              domain.KindWithdrawal,
		Status:            domain.StatusFailed,
		FromUserID:        &from,
		AmountCents:       req.AmountCents,
		PaymentMethod:     req.Method,
		FeeCents:          fee,
		NetCents:          net,
		PayoutDestination: req.Destination,
		FailureReason:     cause.Error(),
	}
	if err := s.txns.Create(ctx, failed); err != nil {
		s.logger.Error("record failed withdrawal", zap.Error(err))
		return nil, cause
	}
	s.metrics.ObserveTransaction(domain.KindWithdrawal, domain.StatusFailed)
	return failed, cause
}

// dispatchPayout claims a queued withdrawal and sends it to its rail.
// The bool is false when the withdrawal was no longer QUEUED to claim.
func (s *SettlementService) dispatchPayout(ctx context.Context, txn *models.Transaction) (*models.Transaction, bool, error) {
	ctx = context.WithoutCancel(ctx)
	log := s.logger.With(zap.Uint("txn_id", txn.ID), zap.String("reference", txn.Reference()))
	if err := s.txns.ClaimPayout(ctx, txn.ID); err != nil {
		// Cancelled or already dispatched by another worker.
		log.Info("payout not claimed", zap.Error(err))
		current, getErr := s.txns.GetByID(ctx, txn.ID)
		if getErr != nil {
			return nil, false, getErr
		}
		return current, false, nil
	}
	txn.PayoutState = domain.PayoutInitiated

	rail, name, hook := s.rails.MpesaPayout, "mpesa_b2c", "withdrawal"
	if txn.PaymentMethod == domain.MethodBank {
		rail, name, hook = s.rails.Bank, "bank", "bank"
	}
	var resp *payment.PayoutResponse
	err := s.callRail(ctx, name, func(ctx context.Context) error {
		var err error
		resp, err = rail.InitiatePayout(ctx, payment.PayoutRequest{
			Destination: txn.PayoutDestination,
			AmountCents: txn.NetCents,
			Reference:   txn.Reference(),
			Remarks:     "Wallet withdrawal",
			CallbackURL: s.webhookURL(hook),
		})
		return err
	})

	switch {
	case payment.IsTimeout(err):
		log.Warn("payout rail timed out, awaiting callback", zap.Error(err))
		return txn, true, nil
	case err != nil:
		log.Warn("payout rejected, reversing", zap.Error(err))
		failed, revErr := s.reverseWithdrawal(ctx, txn.ID, err.Error(), false)
		if revErr != nil && !errors.Is(revErr, domain.ErrAlreadyFinalized) {
			return txn, true, revErr
		}
		if revErr == nil {
			s.metrics.ObserveTransaction(domain.KindWithdrawal, domain.StatusFailed)
		}
		if failed != nil {
			txn = failed
		}
		return txn, true, railError(err)
	}

	if err := s.txns.SetProviderRef(ctx, txn.ID, resp.PayoutID); err != nil {
		log.Error("store provider ref", zap.Error(err))
	} else if resp.PayoutID != "" {
		txn.ProviderRef = strPtr(resp.PayoutID)
	}
	if !resp.Settled {
		log.Info("payout initiated", zap.String("provider_ref", resp.PayoutID))
		return txn, true, nil
	}
	done, err := s.txns.Finalize(ctx, txn.ID, domain.StatusCompleted, "")
	if errors.Is(err, domain.ErrAlreadyFinalized) {
		return done, true, nil
	}
	if err != nil {
		return txn, true, err
	}
	s.metrics.ObserveTransaction(domain.KindWithdrawal, domain.StatusCompleted)
	log.Info("payout settled", zap.String("provider_ref", resp.PayoutID))
	return done, true, nil
}

// HandleWithdrawalCallback applies a payout rail's verdict. A failed payout is
// reversed: the withdrawal becomes FAILED and the gross amount is credited
// back through a REVERSAL transaction, in one database transaction.
func (s *SettlementService) HandleWithdrawalCallback(ctx context.Context, cb payment.Callback) (*CallbackResult, error) {
	txn, err := s.findForCallback(ctx, domain.KindWithdrawal, cb)
	if err != nil {
		return nil, err
	}
	log := s.logger.With(zap.Uint("txn_id", txn.ID), zap.String("reference", txn.Reference()))
	if domain.IsTerminal(txn.Status) {
		log.Info("duplicate withdrawal callback", zap.String("status", txn.Status))
		return &CallbackResult{Transaction: txn, Duplicate: true}, nil
	}

	var final *models.Transaction
	switch out := cb.Outcome.(type) {
	case payment.Success:
		final, err = s.txns.Finalize(ctx, txn.ID, domain.StatusCompleted, "")
	case payment.Failure:
		final, err = s.reverseWithdrawal(ctx, txn.ID, out.Reason, false)
	default:
		return nil, fmt.Errorf("withdrawal callback without outcome")
	}
	if errors.Is(err, domain.ErrAlreadyFinalized) {
		return &CallbackResult{Transaction: final, Duplicate: true}, nil
	}
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveTransaction(domain.KindWithdrawal, final.Status)
	log.Info("withdrawal settled", zap.String("status", final.Status), zap.String("failure_reason", final.FailureReason))
	return &CallbackResult{Transaction: final}, nil
}

// CancelWithdrawal lets the owner stop a withdrawal whose payout has not been
// handed to a rail yet. Once initiated it can only end by callback.
func (s *SettlementService) CancelWithdrawal(ctx context.Context, userID, id uint) (*models.Transaction, error) {
	txn, err := s.txns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.Kind != domain.KindWithdrawal || txn.FromUserID == nil || *txn.FromUserID != userID {
		return nil, domain.ErrNotFound
	}
	if domain.IsTerminal(txn.Status) {
		return txn, domain.ErrAlreadyFinalized
	}
	failed, err := s.reverseWithdrawal(ctx, id, "cancelled by owner", true)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveTransaction(domain.KindWithdrawal, domain.StatusFailed)
	s.logger.Info("withdrawal cancelled", zap.Uint("txn_id", id))
	return failed, nil
}

// reverseWithdrawal fails the withdrawal and returns its gross amount to the
// owner. With cancel set it also requires the payout to still be queued.
func (s *SettlementService) reverseWithdrawal(ctx context.Context, id uint, reason string, cancel bool) (*models.Transaction, error) {
	var failed *models.Transaction
	err := s.inTx(ctx, func(tx *gorm.DB, wallets *repository.WalletRepository, txns *repository.TransactionRepository) error {
		if cancel {
			if err := txns.CancelQueuedPayout(ctx, id); err != nil {
				return err
			}
		}
		done, err := txns.Finalize(ctx, id, domain.StatusFailed, reason)
		if err != nil {
			failed = done
			return err
		}
		w, err := wallets.GetByOwnerID(ctx, *done.FromUserID)
		if err != nil {
			return err
		}
		rev := &models.Transaction{
			Kind:          domain.KindReversal,
			Status:        domain.StatusCompleted,
			ToUserID:      done.FromUserID,
			AmountCents:   done.AmountCents,
			PaymentMethod: domain.MethodWallet,
			ReversesID:    &done.ID,
			FailureReason: reason,
		}
		if err := txns.Create(ctx, rev); err != nil {
			return err
		}
		if _, err := wallets.ApplyDelta(ctx, w.ID, done.AmountCents, nil); err != nil {
			return err
		}
		failed = done
		return nil
	})
	if err == nil {
		s.metrics.ObserveTransaction(domain.KindReversal, domain.StatusCompleted)
	}
	return failed, err
}

// DispatchQueuedPayouts sends withdrawals left QUEUED for longer than
// minAge, e.g. after a crash between reservation and dispatch. It returns how
// many it claimed; withdrawals cancelled or taken by another worker meanwhile
// are not counted.
func (s *SettlementService) DispatchQueuedPayouts(ctx context.Context, minAge time.Duration, limit int) (int, error) {
	queued, err := s.txns.ListQueuedPayouts(ctx, time.Now().Add(-minAge), limit)
	if err != nil {
		return 0, err
	}
	sent := 0
	for i := range queued {
		txn := queued[i]
		_, claimed, err := s.dispatchPayout(ctx, &txn)
		if claimed {
			sent++
		}
		if err != nil && !errors.Is(err, domain.ErrExternalRail) {
			return sent, err
		}
	}
	return sent, nil
}
