package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"safaripay/pkg/money"
)

var (
	// ErrMalformedCallback means the payload could not be read as any known shape.
	ErrMalformedCallback = errors.New("malformed callback payload")
	// ErrNotFinal means the rail reported an intermediate status; nothing to settle yet.
	ErrNotFinal = errors.New("callback status is not final")
)

// Outcome is the result a rail reports for one request: Success or Failure.
type Outcome interface {
	isOutcome()
}

// Success carries what the rail says it moved. AmountCents is in the
// settlement currency and is zero when the rail reported another currency.
type Success struct {
	AmountCents int64
	Metadata    map[string]string
}

type Failure struct {
	Reason string
}

func (Success) isOutcome() {}
func (Failure) isOutcome() {}

// Callback is a rail notification decoded at the HTTP boundary. Reference is
// our transaction reference when the rail echoes it; ProviderRef is the
// rail's own id for the request.
type Callback struct {
	Reference   string
	ProviderRef string
	Outcome     Outcome
}

// Succeeded reports whether the callback carries a Success outcome.
func (c Callback) Succeeded() bool {
	_, ok := c.Outcome.(Success)
	return ok
}

// VerifySignature checks a hex HMAC-SHA256 of body under secret.
func VerifySignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.ToLower(strings.TrimSpace(signature))), []byte(expected))
}

// Sign returns the signature VerifySignature expects.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// liberecCallback is the webhook payload TheLiberec posts for STK and B2C results.
type liberecCallback struct {
	Amount                   string `json:"amount"`
	CheckoutRequestID        string `json:"checkout_request_id"`
	ConversationID           string `json:"conversation_id"`
	Currency                 string `json:"currency"`
	CustomerPhone            string `json:"customer_phone"`
	MerchantOrderID          string `json:"merchant_order_id"`
	OrderID                  string `json:"order_id"`
	OriginatorConversationID string `json:"originator_conversation_id"`
	ReceiptNumber            string `json:"receipt_number"`
	ReferenceOrderID         string `json:"reference_order_id"`
	Status                   string `json:"status"`
	StatusCode               string `json:"status_code"`
	StatusDescription        string `json:"status_description"`
	TransactionUUID          string `json:"transaction_uuid"`
}

func (p liberecCallback) orderID() string {
	switch {
	case p.MerchantOrderID != "":
		return p.MerchantOrderID
	case p.OrderID != "":
		return p.OrderID
	default:
		return p.ReferenceOrderID
	}
}

func (p liberecCallback) outcome() (Outcome, error) {
	switch strings.ToUpper(p.Status) {
	case "COMPLETED", "SUCCESS", "SUCCESSFUL":
		meta := map[string]string{}
		if p.ReceiptNumber != "" {
			meta["receipt_number"] = p.ReceiptNumber
		}
		if p.CustomerPhone != "" {
			meta["phone"] = p.CustomerPhone
		}
		return Success{AmountCents: kesCents(p.Amount, p.Currency), Metadata: meta}, nil
	case "PENDING", "PROCESSING", "INITIATED", "":
		return nil, ErrNotFinal
	default:
		reason := p.StatusDescription
		if reason == "" {
			reason = strings.ToLower(p.Status)
		}
		return Failure{Reason: reason}, nil
	}
}

// darajaSTKCallback is Safaricom's own STK result shape, posted when the
// shortcode talks to Daraja directly.
type darajaSTKCallback struct {
	Body struct {
		StkCallback *struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string      `json:"Name"`
					Value interface{} `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// DecodeSTKCallback reads an M-Pesa STK result in either TheLiberec or Daraja shape.
func DecodeSTKCallback(body []byte) (Callback, error) {
	var daraja darajaSTKCallback
	if err := json.Unmarshal(body, &daraja); err == nil && daraja.Body.StkCallback != nil {
		stk := daraja.Body.StkCallback
		cb := Callback{ProviderRef: stk.CheckoutRequestID}
		if stk.ResultCode != 0 {
			cb.Outcome = Failure{Reason: fmt.Sprintf("%d: %s", stk.ResultCode, stk.ResultDesc)}
			return cb, nil
		}
		success := Success{Metadata: map[string]string{}}
		for _, item := range stk.CallbackMetadata.Item {
			switch item.Name {
			case "Amount":
				if v, ok := item.Value.(float64); ok {
					success.AmountCents, _ = money.ToCents(decimal.NewFromFloat(v))
				}
			case "MpesaReceiptNumber":
				success.Metadata["receipt_number"] = fmt.Sprint(item.Value)
			case "PhoneNumber":
				success.Metadata["phone"] = fmt.Sprint(item.Value)
			}
		}
		cb.Outcome = success
		return cb, nil
	}

	var p liberecCallback
	if err := json.Unmarshal(body, &p); err != nil {
		return Callback{}, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	cb := Callback{Reference: p.orderID(), ProviderRef: p.CheckoutRequestID}
	if cb.Reference == "" && cb.ProviderRef == "" {
		return Callback{}, fmt.Errorf("%w: no order id", ErrMalformedCallback)
	}
	out, err := p.outcome()
	if err != nil {
		return cb, err
	}
	cb.Outcome = out
	return cb, nil
}

// darajaB2CResult is Safaricom's B2C result shape.
type darajaB2CResult struct {
	Result *struct {
		ResultCode               int    `json:"ResultCode"`
		ResultDesc               string `json:"ResultDesc"`
		OriginatorConversationID string `json:"OriginatorConversationID"`
		ConversationID           string `json:"ConversationID"`
		TransactionID            string `json:"TransactionID"`
	} `json:"Result"`
}

// DecodeB2CCallback reads an M-Pesa B2C payout result.
func DecodeB2CCallback(body []byte) (Callback, error) {
	var daraja darajaB2CResult
	if err := json.Unmarshal(body, &daraja); err == nil && daraja.Result != nil {
		r := daraja.Result
		cb := Callback{ProviderRef: r.ConversationID}
		if r.ResultCode != 0 {
			cb.Outcome = Failure{Reason: fmt.Sprintf("%d: %s", r.ResultCode, r.ResultDesc)}
		} else {
			cb.Outcome = Success{Metadata: map[string]string{"transaction_id": r.TransactionID}}
		}
		return cb, nil
	}

	var p liberecCallback
	if err := json.Unmarshal(body, &p); err != nil {
		return Callback{}, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	cb := Callback{Reference: p.orderID(), ProviderRef: p.ConversationID}
	if cb.Reference == "" && cb.ProviderRef == "" {
		return Callback{}, fmt.Errorf("%w: no order id", ErrMalformedCallback)
	}
	out, err := p.outcome()
	if err != nil {
		return cb, err
	}
	cb.Outcome = out
	return cb, nil
}

type cardWebhook struct {
	Reference      string `json:"reference"`
	ChargeID       string `json:"charge_id"`
	Status         string `json:"status"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	FailureMessage string `json:"failure_message"`
}

// DecodeCardWebhook reads a hosted checkout result. Amounts are reported in
// the charge currency's minor units.
func DecodeCardWebhook(body []byte) (Callback, error) {
	var p cardWebhook
	if err := json.Unmarshal(body, &p); err != nil {
		return Callback{}, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	if p.Reference == "" && p.ChargeID == "" {
		return Callback{}, fmt.Errorf("%w: no reference", ErrMalformedCallback)
	}
	cb := Callback{Reference: p.Reference, ProviderRef: p.ChargeID}
	switch strings.ToLower(p.Status) {
	case "completed", "succeeded", "paid":
		s := Success{Metadata: map[string]string{
			"charge_amount":   fmt.Sprint(p.Amount),
			"charge_currency": strings.ToUpper(p.Currency),
		}}
		if strings.EqualFold(p.Currency, money.Currency) {
			s.AmountCents = p.Amount
		}
		cb.Outcome = s
	case "failed", "declined", "cancelled", "canceled", "expired":
		reason := p.FailureMessage
		if reason == "" {
			reason = strings.ToLower(p.Status)
		}
		cb.Outcome = Failure{Reason: reason}
	default:
		return cb, ErrNotFinal
	}
	return cb, nil
}

type bankWebhook struct {
	Reference  string `json:"reference"`
	TransferID string `json:"transfer_id"`
	Status     string `json:"status"`
	Amount     string `json:"amount"`
	Reason     string `json:"reason"`
}

// DecodeBankCallback reads a bank transfer status notification.
func DecodeBankCallback(body []byte) (Callback, error) {
	var p bankWebhook
	if err := json.Unmarshal(body, &p); err != nil {
		return Callback{}, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	if p.Reference == "" && p.TransferID == "" {
		return Callback{}, fmt.Errorf("%w: no reference", ErrMalformedCallback)
	}
	cb := Callback{Reference: p.Reference, ProviderRef: p.TransferID}
	switch strings.ToUpper(p.Status) {
	case "SETTLED", "COMPLETED":
		cb.Outcome = Success{AmountCents: kesCents(p.Amount, money.Currency), Metadata: map[string]string{}}
	case "REJECTED", "FAILED", "RETURNED":
		reason := p.Reason
		if reason == "" {
			reason = strings.ToLower(p.Status)
		}
		cb.Outcome = Failure{Reason: reason}
	default:
		return cb, ErrNotFinal
	}
	return cb, nil
}

// kesCents converts a reported major-unit amount, or returns zero when it is
// missing, out of range or in another currency.
func kesCents(amount, currency string) int64 {
	if currency != "" && !strings.EqualFold(currency, money.Currency) {
		return 0
	}
	d, err := money.ParseAmount(amount)
	if err != nil {
		return 0
	}
	cents, err := money.ToCents(d)
	if err != nil {
		return 0
	}
	return cents
}
