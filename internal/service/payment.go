package service

import (
	"context"
	"errors"
	"fmt"

	"safaripay/internal/domain"
	"safaripay/internal/models"
	"safaripay/internal/repository"
	"safaripay/pkg/money"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PaymentRequest moves AmountCents from a tourist's wallet to a business.
// Reference is the merchant reference carried by the scanned QR code, if any.
// It is unique per payer: the same tourist repeating a reference gets the
// first result back, while other tourists may pay the same reference.
type PaymentRequest struct {
	FromUserID  uint
	ToUserID    uint
	AmountCents int64
	Reference   string
}

// RequestPayment settles a wallet-to-wallet payment synchronously. The debit,
// credit and completion commit together or not at all. A payment refused for
// insufficient funds is recorded as FAILED and returned with the error.
func (s *SettlementService) RequestPayment(ctx context.Context, req PaymentRequest) (*models.Transaction, error) {
	if err := s.checkAmount(req.AmountCents); err != nil {
		return nil, err
	}
	if req.ToUserID == 0 || req.FromUserID == req.ToUserID {
		return nil, domain.ErrInvalidParty
	}
	ref := payerReference(req.FromUserID, req.Reference)
	if ref != "" {
		if existing, err := s.txns.FindByExternalReference(ctx, ref); err == nil {
			return s.replayPayment(existing, req)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	sender, err := s.wallets.GetByOwnerID(ctx, req.FromUserID)
	if err != nil {
		return nil, err
	}
	if sender.OwnerRole != domain.RoleTourist {
		return nil, fmt.Errorf("%w: payer must be a tourist", domain.ErrInvalidParty)
	}
	recipient, err := s.wallets.GetByOwnerID(ctx, req.ToUserID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: merchant has no wallet", domain.ErrInvalidParty)
	}
	if err != nil {
		return nil, err
	}
	if recipient.OwnerRole != domain.RoleBusiness {
		return nil, fmt.Errorf("%w: recipient is not a business", domain.ErrInvalidParty)
	}

	from, to := req.FromUserID, req.ToUserID
	txn := &models.Transaction{
		Kind:          domain.KindPayment,
		FromUserID:    &from,
		ToUserID:      &to,
		AmountCents:   req.AmountCents,
		PaymentMethod: domain.MethodWallet,
	}
	if ref != "" {
		txn.ExternalReference = strPtr(ref)
	}

	err = s.inTx(ctx, func(tx *gorm.DB, wallets *repository.WalletRepository, txns *repository.TransactionRepository) error {
		if err := txns.Create(ctx, txn); err != nil {
			return err
		}
		if _, err := wallets.ApplyDelta(ctx, sender.ID, -req.AmountCents, nil); err != nil {
			return err
		}
		if _, err := wallets.ApplyDelta(ctx, recipient.ID, req.AmountCents, nil); err != nil {
			return err
		}
		done, err := txns.Finalize(ctx, txn.ID, domain.StatusCompleted, "")
		if err != nil {
			return err
		}
		txn = done
		return nil
	})
	switch {
	case err == nil:
		s.metrics.ObserveTransaction(domain.KindPayment, domain.StatusCompleted)
		s.logger.Info("payment completed",
			zap.Uint("txn_id", txn.ID),
			zap.Uint("from_user_id", from),
			zap.Uint("to_user_id", to),
			zap.String("amount", money.Format(req.AmountCents)))
		return txn, nil
	case errors.Is(err, domain.ErrInsufficientFunds):
		return s.recordFailedPayment(ctx, from, to, req.AmountCents, err)
	case errors.Is(err, domain.ErrDuplicateReference):
		existing, findErr := s.txns.FindByExternalReference(ctx, ref)
		if findErr != nil {
			return nil, err
		}
		return s.replayPayment(existing, req)
	default:
		return nil, err
	}
}

// recordFailedPayment keeps an audit trail of a refused payment. The record
// carries no reference so the same QR code can be paid after a top-up.
func (s *SettlementService) recordFailedPayment(ctx context.Context, from, to uint, amount int64, cause error) (*models.Transaction, error) {
	failed := &models.Transaction{
		Kind:          domain.KindPayment,
		Status:        domain.StatusFailed,
		FromUserID:    &from,
		ToUserID:      &to,
		AmountCents:   amount,
		PaymentMethod: domain.MethodWallet,
		FailureReason: cause.Error(),
	}
	if err := s.txns.Create(ctx, failed); err != nil {
		s.logger.Error("record failed payment", zap.Error(err))
		return nil, cause
	}
	s.metrics.ObserveTransaction(domain.KindPayment, domain.StatusFailed)
	s.logger.Info("payment refused",
		zap.Uint("txn_id", failed.ID),
		zap.Uint("from_user_id", from),
		zap.Error(cause))
	return failed, cause
}

// payerReference is the stored form of a merchant reference. Static QR codes
// are scanned by many tourists, so the reference is keyed by payer.
func payerReference(payer uint, ref string) string {
	if ref == "" {
		return ""
	}
	return fmt.Sprintf("%d:%s", payer, ref)
}

func (s *SettlementService) replayPayment(existing *models.Transaction, req PaymentRequest) (*models.Transaction, error) {
	samePayer := existing.FromUserID != nil && *existing.FromUserID == req.FromUserID
	sameMerchant := existing.ToUserID != nil && *existing.ToUserID == req.ToUserID
	if existing.Kind != domain.KindPayment || !samePayer || !sameMerchant || existing.AmountCents != req.AmountCents {
		return nil, domain.ErrDuplicateReference
	}
	return existing, nil
}
