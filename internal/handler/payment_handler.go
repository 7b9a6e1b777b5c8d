package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"safaripay/internal/middleware"
	"safaripay/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type PaymentHandler struct {
	svc    *service.SettlementService
	logger *zap.Logger
}

func NewPaymentHandler(svc *service.SettlementService, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{svc: svc, logger: logger}
}

// qrPayment is what a merchant's QR code encodes:
// safaripay://pay?merchant=<id>&ref=<invoice>&amount=<KES>. The ref is an
// invoice id: one tourist paying it twice gets the first payment back, so a
// printed QR meant for repeat payments should leave ref out.
type qrPayment struct {
	MerchantID  uint
	Reference   string
	AmountCents int64
}

var errInvalidQR = errors.New("invalid QR payload")

const maxReferenceLen = 64

func parseQR(raw string) (qrPayment, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "safaripay" || u.Host != "pay" {
		return qrPayment{}, errInvalidQR
	}
	q := u.Query()
	id, err := strconv.ParseUint(q.Get("merchant"), 10, 64)
	if err != nil || id == 0 {
		return qrPayment{}, errInvalidQR
	}
	out := qrPayment{MerchantID: uint(id), Reference: q.Get("ref")}
	if len(out.Reference) > maxReferenceLen {
		return qrPayment{}, errInvalidQR
	}
	if a := q.Get("amount"); a != "" {
		cents, err := parseCents(a)
		if err != nil {
			return qrPayment{}, errInvalidQR
		}
		out.AmountCents = cents
	}
	return out, nil
}

// Create handles POST /payments: a tourist pays a business from their
// wallet, either by scanning its QR code or by merchant id. A reference,
// given directly or through the QR ref, is scoped to the paying tourist.
func (h *PaymentHandler) Create(c *gin.Context) {
	var req struct {
		QR         string `json:"qr"`
		MerchantID uint   `json:"merchant_id"`
		Amount     string `json:"amount"`
		Reference  string `json:"reference"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	in := service.PaymentRequest{
		FromUserID: middleware.GetUserID(c),
		ToUserID:   req.MerchantID,
		Reference:  req.Reference,
	}
	if len(req.Reference) > maxReferenceLen {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reference too long"})
		return
	}
	if req.Amount != "" {
		cents, err := parseCents(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		in.AmountCents = cents
	}
	if req.QR != "" {
		qr, err := parseQR(req.QR)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if (in.ToUserID != 0 && in.ToUserID != qr.MerchantID) ||
			(in.AmountCents != 0 && qr.AmountCents != 0 && in.AmountCents != qr.AmountCents) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "request does not match QR payload"})
			return
		}
		in.ToUserID = qr.MerchantID
		if qr.AmountCents != 0 {
			in.AmountCents = qr.AmountCents
		}
		if in.Reference == "" {
			in.Reference = qr.Reference
		}
	}
	if in.ToUserID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "merchant_id or qr required"})
		return
	}

	txn, err := h.svc.RequestPayment(c.Request.Context(), in)
	if err != nil {
		respondError(c, h.logger, err, txn)
		return
	}
	c.JSON(http.StatusCreated, txn)
}
