package payment

import (
	"context"
	"fmt"
	"time"
)

// StubProvider stands in for every rail in development. Charges and pushes
// stay pending until a webhook is posted by hand; payouts settle at once
// when SettlePayouts is set.
type StubProvider struct {
	SettlePayouts bool
}

func (s *StubProvider) CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResponse, error) {
	id := stubID("ch", req.Reference)
	return &ChargeResponse{ChargeID: id, CheckoutURL: "https://checkout.invalid/" + id}, nil
}

func (s *StubProvider) InitiatePush(ctx context.Context, req PushRequest) (*PushResponse, error) {
	return &PushResponse{CheckoutID: stubID("ws_CO", req.Reference), Status: "PENDING"}, nil
}

func (s *StubProvider) InitiatePayout(ctx context.Context, req PayoutRequest) (*PayoutResponse, error) {
	return &PayoutResponse{PayoutID: stubID("po", req.Reference), Settled: s.SettlePayouts}, nil
}

func stubID(prefix, ref string) string {
	return fmt.Sprintf("stub_%s_%d_%s", prefix, time.Now().UnixNano(), ref)
}
