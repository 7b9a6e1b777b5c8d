package payment

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

type b2cReq struct {
	Amount      string `json:"amount"`
	PhoneNumber string `json:"phone_number"`
	Description string `json:"description"`
	Remarks     string `json:"remarks"`
	OrderID     string `json:"order_id"`
	CallbackURL string `json:"callback_url"`
}

// b2cResp is the response from the B2C API.
type b2cResp struct {
	UUID                     string `json:"uuid"`
	OrderID                  string `json:"order_id"`
	OriginatorConversationID string `json:"originator_conversation_id"`
	ConversationID           string `json:"conversation_id"`
	Status                   string `json:"status"`
	ResponseCode             string `json:"response_code"`
	ResponseDescription      string `json:"response_description"`
}

// InitiatePayout sends a B2C payment to a phone number. The result always
// arrives later on the withdrawal webhook.
func (p *LiberecMpesaProvider) InitiatePayout(ctx context.Context, req PayoutRequest) (*PayoutResponse, error) {
	if req.AmountCents < 100 || req.AmountCents%100 != 0 {
		return nil, &RejectedError{Rail: liberecRail, Message: "b2c amount must be whole KES"}
	}
	token, err := p.getToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("b2c login: %w", err)
	}
	remarks := req.Remarks
	if remarks == "" {
		remarks = "Withdrawal payment"
	}
	body := b2cReq{
		Amount:      strconv.FormatInt(req.AmountCents/100, 10),
		PhoneNumber: req.Destination,
		Description: "B2C Payment to customer",
		Remarks:     remarks,
		OrderID:     req.Reference,
		CallbackURL: req.CallbackURL,
	}
	var out b2cResp
	if err := p.post(ctx, token, "/api/v1/transactions/mpesa/b2c", body, &out); err != nil {
		return nil, err
	}
	if out.ResponseCode != "" && out.ResponseCode != "0" {
		return nil, &RejectedError{Rail: liberecRail, Message: out.ResponseDescription}
	}
	if strings.EqualFold(out.Status, "FAILED") {
		return nil, &RejectedError{Rail: liberecRail, Message: out.ResponseDescription}
	}
	payoutID := out.ConversationID
	if payoutID == "" {
		payoutID = out.UUID
	}
	p.logger.Info("b2c payout accepted",
		zap.String("reference", req.Reference),
		zap.String("conversation_id", out.ConversationID),
		zap.Int64("amount_cents", req.AmountCents))
	return &PayoutResponse{PayoutID: payoutID}, nil
}
