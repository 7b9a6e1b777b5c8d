package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// apiKeyClient posts JSON to a provider API authenticated with a static key.
type apiKeyClient struct {
	rail    string
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

func newAPIKeyClient(rail, baseURL, apiKey string, logger *zap.Logger) apiKeyClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return apiKeyClient{
		rail:    rail,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger.Named(rail),
	}
}

func (c apiKeyClient) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	c.logger.Debug("provider response", zap.String("path", path), zap.Int("status", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RejectedError{Rail: c.rail, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}
