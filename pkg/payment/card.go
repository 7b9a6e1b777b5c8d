package payment

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// CardProvider creates hosted checkout sessions for card and PayPal top-ups.
type CardProvider struct {
	api apiKeyClient
}

func NewCardProvider(baseURL, apiKey string, logger *zap.Logger) *CardProvider {
	return &CardProvider{api: newAPIKeyClient("card", baseURL, apiKey, logger)}
}

type cardChargeReq struct {
	Reference   string `json:"reference"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description,omitempty"`
	CallbackURL string `json:"callback_url"`
}

type cardChargeResp struct {
	ID          string `json:"id"`
	CheckoutURL string `json:"checkout_url"`
	Status      string `json:"status"`
	Message     string `json:"message"`
}

func (p *CardProvider) CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResponse, error) {
	var out cardChargeResp
	err := p.api.post(ctx, "/v1/charges", cardChargeReq{
		Reference:   req.Reference,
		Amount:      req.AmountMinor,
		Currency:    strings.ToUpper(req.Currency),
		Description: req.Description,
		CallbackURL: req.CallbackURL,
	}, &out)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(out.Status, "failed") || strings.EqualFold(out.Status, "declined") {
		return nil, &RejectedError{Rail: "card", Message: out.Message}
	}
	p.api.logger.Info("charge created", zap.String("reference", req.Reference), zap.String("charge_id", out.ID))
	return &ChargeResponse{ChargeID: out.ID, CheckoutURL: out.CheckoutURL}, nil
}
