// Package payment talks to the external money rails: hosted card checkout,
// M-Pesa STK push and B2C payouts, and bank transfers.
package payment

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ChargeRequest asks a card/PayPal checkout to collect AmountMinor in Currency.
type ChargeRequest struct {
	Reference   string
	AmountMinor int64 // minor units of Currency
	Currency    string
	Description string
	CallbackURL string
}

type ChargeResponse struct {
	ChargeID    string
	CheckoutURL string
}

// ChargeRail collects foreign-currency top-ups. The outcome arrives by webhook.
type ChargeRail interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResponse, error)
}

// PushRequest prompts Phone to approve a payment of AmountCents (whole KES).
type PushRequest struct {
	Phone       string // 254XXXXXXXXX
	AmountCents int64
	Reference   string
	Description string
	CallbackURL string
}

type PushResponse struct {
	CheckoutID string
	Status     string
}

// PushRail collects mobile-money top-ups via STK push.
type PushRail interface {
	InitiatePush(ctx context.Context, req PushRequest) (*PushResponse, error)
}

// PayoutRequest sends AmountCents (whole KES) to Destination, a phone number
// or bank account depending on the rail.
type PayoutRequest struct {
	Destination string
	AmountCents int64
	Reference   string
	Remarks     string
	CallbackURL string
}

// PayoutResponse carries the rail's id for the payout. Settled is true when
// the rail confirmed the transfer synchronously and no callback will follow.
type PayoutResponse struct {
	PayoutID string
	Settled  bool
}

type PayoutRail interface {
	InitiatePayout(ctx context.Context, req PayoutRequest) (*PayoutResponse, error)
}

// RejectedError is returned when a rail answered and refused the request.
type RejectedError struct {
	Rail       string
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s rejected request: %d %s", e.Rail, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s rejected request: %s", e.Rail, e.Message)
}

// IsTimeout reports whether err means the rail did not answer in time. The
// request may still have been accepted, so the caller must wait for a callback.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
