package domain

import "errors"

var (
	ErrInvalidAmount       = errors.New("amount must be a positive value")
	ErrInvalidParty        = errors.New("invalid counterparty for transaction kind")
	ErrInvalidMethod       = errors.New("unsupported payment method")
	ErrUnsupportedCurrency = errors.New("unsupported source currency")
	ErrInvalidDestination  = errors.New("invalid payout destination")
	ErrInsufficientFunds   = errors.New("insufficient wallet balance")
	ErrNotFound            = errors.New("not found")
	ErrVersionConflict     = errors.New("wallet version conflict")
	ErrAlreadyFinalized    = errors.New("transaction already finalized")
	ErrDuplicateReference  = errors.New("external reference already recorded")
	ErrPayoutInitiated     = errors.New("payout already initiated")
	ErrExternalRail        = errors.New("payment provider error")
	ErrForbidden           = errors.New("not allowed for this user")
	ErrInvalidFilter       = errors.New("invalid filter")
)
