package payment

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BankProvider pays withdrawals out by bank transfer. Most transfers settle
// within the request; the rest are confirmed on the bank webhook.
type BankProvider struct {
	api           apiKeyClient
	sourceAccount string
}

func NewBankProvider(baseURL, apiKey, sourceAccount string, logger *zap.Logger) *BankProvider {
	return &BankProvider{api: newAPIKeyClient("bank", baseURL, apiKey, logger), sourceAccount: sourceAccount}
}

type bankTransferReq struct {
	Reference          string `json:"reference"`
	SourceAccount      string `json:"source_account"`
	DestinationAccount string `json:"destination_account"`
	Amount             string `json:"amount"`
	Currency           string `json:"currency"`
	Narration          string `json:"narration,omitempty"`
	CallbackURL        string `json:"callback_url"`
}

type bankTransferResp struct {
	ID     string `json:"id"`
	Status string `json:"status"` // SETTLED, ACCEPTED, PENDING, REJECTED
	Reason string `json:"reason"`
}

func (p *BankProvider) InitiatePayout(ctx context.Context, req PayoutRequest) (*PayoutResponse, error) {
	var out bankTransferResp
	err := p.api.post(ctx, "/v1/transfers", bankTransferReq{
		Reference:          req.Reference,
		SourceAccount:      p.sourceAccount,
		DestinationAccount: req.Destination,
		Amount:             decimal.New(req.AmountCents, -2).StringFixed(2),
		Currency:           "KES",
		Narration:          req.Remarks,
		CallbackURL:        req.CallbackURL,
	}, &out)
	if err != nil {
		return nil, err
	}
	switch strings.ToUpper(out.Status) {
	case "REJECTED", "FAILED":
		return nil, &RejectedError{Rail: "bank", Message: out.Reason}
	case "SETTLED", "COMPLETED":
		p.api.logger.Info("transfer settled", zap.String("reference", req.Reference), zap.String("transfer_id", out.ID))
		return &PayoutResponse{PayoutID: out.ID, Settled: true}, nil
	default:
		p.api.logger.Info("transfer accepted", zap.String("reference", req.Reference), zap.String("transfer_id", out.ID))
		return &PayoutResponse{PayoutID: out.ID}, nil
	}
}
