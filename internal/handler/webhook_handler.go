package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"safaripay/internal/domain"
	"safaripay/internal/metrics"
	"safaripay/internal/models"
	"safaripay/internal/repository"
	"safaripay/internal/service"
	"safaripay/pkg/payment"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	signatureHeader = "X-Webhook-Signature"
	maxWebhookBody  = 1 << 20
)

type (
	decodeFunc func(body []byte) (payment.Callback, error)
	applyFunc  func(ctx context.Context, cb payment.Callback) (*service.CallbackResult, error)
)

// WebhookHandler receives rail callbacks. A callback is acknowledged with 200
// once it has been decoded, whether or not it changed anything, so rails stop
// retrying. Only internal failures return 5xx.
type WebhookHandler struct {
	svc       *service.SettlementService
	auditRepo *repository.AuditLogRepository
	secret    string
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewWebhookHandler(
	svc *service.SettlementService,
	auditRepo *repository.AuditLogRepository,
	secret string,
	m *metrics.Metrics,
	logger *zap.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		svc:       svc,
		auditRepo: auditRepo,
		secret:    secret,
		metrics:   m,
		logger:    logger.Named("webhook"),
	}
}

// Card handles the hosted checkout's charge webhook.
func (h *WebhookHandler) Card(c *gin.Context) {
	h.handle(c, "card", payment.DecodeCardWebhook, h.svc.HandleTopUpCallback)
}

// Mpesa handles STK push results for mobile money top-ups.
func (h *WebhookHandler) Mpesa(c *gin.Context) {
	h.handle(c, "mpesa", payment.DecodeSTKCallback, h.svc.HandleTopUpCallback)
}

// Withdrawal handles M-Pesa B2C payout results.
func (h *WebhookHandler) Withdrawal(c *gin.Context) {
	h.handle(c, "mpesa_b2c", payment.DecodeB2CCallback, h.svc.HandleWithdrawalCallback)
}

func (h *WebhookHandler) Bank(c *gin.Context) {
	h.handle(c, "bank", payment.DecodeBankCallback, h.svc.HandleWithdrawalCallback)
}

func (h *WebhookHandler) handle(c *gin.Context, rail string, decode decodeFunc, apply applyFunc) {
	log := h.logger.With(zap.String("rail", rail))
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if h.secret != "" && !payment.VerifySignature(h.secret, body, c.GetHeader(signatureHeader)) {
		h.metrics.ObserveCallback(rail, "bad_signature")
		log.Warn("callback signature mismatch", zap.String("ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	cb, err := decode(body)
	if errors.Is(err, payment.ErrNotFinal) {
		h.metrics.ObserveCallback(rail, "not_final")
		log.Debug("intermediate callback ignored")
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}
	if err != nil {
		h.metrics.ObserveCallback(rail, "malformed")
		log.Warn("malformed callback", zap.Error(err), zap.ByteString("body", body))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	log = log.With(zap.String("reference", cb.Reference), zap.String("provider_ref", cb.ProviderRef))

	res, err := apply(c.Request.Context(), cb)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.metrics.ObserveCallback(rail, "unknown")
		log.Warn("callback for unknown transaction")
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	case err != nil:
		h.metrics.ObserveCallback(rail, "error")
		log.Error("apply callback", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "callback not applied"})
		return
	case res.Duplicate:
		h.metrics.ObserveCallback(rail, "duplicate")
		c.JSON(http.StatusOK, gin.H{"received": true, "status": res.Transaction.Status})
		return
	}

	h.metrics.ObserveCallback(rail, "applied")
	h.audit(c, rail, res.Transaction)
	c.JSON(http.StatusOK, gin.H{"received": true, "status": res.Transaction.Status})
}

func (h *WebhookHandler) audit(c *gin.Context, rail string, t *models.Transaction) {
	owner := t.ToUserID
	if t.Kind == domain.KindWithdrawal {
		owner = t.FromUserID
	}
	meta, _ := json.Marshal(map[string]string{"rail": rail, "reason": t.FailureReason})
	entry := &models.AuditLog{
		UserID:     owner,
		Action:     strings.ToLower(t.Kind + "_" + t.Status),
		Resource:   "transaction",
		ResourceID: t.Reference(),
		IP:         c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
		Metadata:   string(meta),
	}
	if err := h.auditRepo.Create(c.Request.Context(), entry); err != nil {
		h.logger.Warn("audit log", zap.Error(err))
	}
}
