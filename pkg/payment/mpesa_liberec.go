package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const liberecRail = "mpesa"

// LiberecMpesaProvider implements M-Pesa STK push and B2C payouts via TheLiberec Card API.
type LiberecMpesaProvider struct {
	BaseURL  string
	Email    string
	Password string
	client   *http.Client
	logger   *zap.Logger
}

func NewLiberecMpesaProvider(baseURL, email, password string, logger *zap.Logger) *LiberecMpesaProvider {
	if baseURL == "" {
		baseURL = "https://card-api.theliberec.com"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LiberecMpesaProvider{
		BaseURL:  baseURL,
		Email:    email,
		Password: password,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger.Named("mpesa"),
	}
}

type liberecLoginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type liberecLoginResp struct {
	Token string `json:"token"`
}

// getToken logs in and returns a fresh token (per transaction as recommended).
func (p *LiberecMpesaProvider) getToken(ctx context.Context) (string, error) {
	body, _ := json.Marshal(liberecLoginReq{Email: p.Email, Password: p.Password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/api/v1/merchants/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &RejectedError{Rail: liberecRail, StatusCode: resp.StatusCode, Message: "login failed"}
	}
	var out liberecLoginResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}

type mpesaSTKReq struct {
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Description   string `json:"description"`
	CustomerPhone string `json:"customer_phone"`
	CallbackURL   string `json:"callback_url"`
	OrderID       string `json:"order_id"`
}

type mpesaSTKResp struct {
	UUID                string `json:"uuid"`
	OrderID             string `json:"order_id"`
	MerchantOrderID     string `json:"merchant_order_id"`
	CheckoutRequestID   string `json:"checkout_request_id"`
	Status              string `json:"status"`
	ResponseCode        string `json:"response_code"`
	ResponseDescription string `json:"response_description"`
}

// InitiatePush sends an STK prompt to the customer's phone. The order id is
// our transaction reference and comes back as merchant_order_id in the callback.
func (p *LiberecMpesaProvider) InitiatePush(ctx context.Context, req PushRequest) (*PushResponse, error) {
	if req.AmountCents < 100 {
		return nil, &RejectedError{Rail: liberecRail, Message: "amount below 1 KES"}
	}
	token, err := p.getToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("mpesa login: %w", err)
	}
	description := req.Description
	if description == "" {
		description = "Wallet top-up"
	}
	payload := mpesaSTKReq{
		Amount:        strconv.FormatInt(req.AmountCents/100, 10),
		Currency:      "KES",
		Description:   description,
		CustomerPhone: req.Phone,
		CallbackURL:   req.CallbackURL,
		OrderID:       req.Reference,
	}
	var out mpesaSTKResp
	if err := p.post(ctx, token, "/api/v1/transactions/mpesa", payload, &out); err != nil {
		return nil, err
	}
	p.logger.Info("stk push accepted",
		zap.String("reference", req.Reference),
		zap.String("checkout_request_id", out.CheckoutRequestID),
		zap.String("status", out.Status))
	return &PushResponse{CheckoutID: out.CheckoutRequestID, Status: out.Status}, nil
}

func (p *LiberecMpesaProvider) post(ctx context.Context, token, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	apiReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	apiReq.Header.Set("Content-Type", "application/json")
	apiReq.Header.Set("Authorization", "Bearer "+token)
	resp, err := p.client.Do(apiReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	p.logger.Debug("liberec response", zap.String("path", path), zap.Int("status", resp.StatusCode), zap.ByteString("body", respBody))
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return &RejectedError{Rail: liberecRail, StatusCode: resp.StatusCode, Message: string(respBody)}
	}
	return json.Unmarshal(respBody, out)
}
