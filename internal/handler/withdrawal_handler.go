package handler

import (
	"net/http"
	"strings"

	"safaripay/internal/domain"
	"safaripay/internal/middleware"
	"safaripay/internal/service"
	"safaripay/pkg/money"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type WithdrawalHandler struct {
	svc    *service.SettlementService
	logger *zap.Logger
}

func NewWithdrawalHandler(svc *service.SettlementService, logger *zap.Logger) *WithdrawalHandler {
	return &WithdrawalHandler{svc: svc, logger: logger}
}

// Create initiates a withdrawal to M-Pesa (B2C) or a bank account. Business only.
func (h *WithdrawalHandler) Create(c *gin.Context) {
	var req struct {
		Method      string `json:"method" binding:"required"`
		Amount      string `json:"amount" binding:"required"`
		Destination string `json:"destination" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cents, err := parseCents(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	in := service.WithdrawalRequest{
		UserID:      middleware.GetUserID(c),
		Method:      strings.ToUpper(req.Method),
		AmountCents: cents,
		Destination: strings.TrimSpace(req.Destination),
	}
	if in.Method == domain.MethodMobileMoney {
		in.Destination = normalizePhone(req.Destination)
		if in.Destination == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid phone number"})
			return
		}
	}

	txn, err := h.svc.RequestWithdrawal(c.Request.Context(), in)
	if err != nil {
		respondError(c, h.logger, err, txn)
		return
	}
	status := http.StatusAccepted
	if txn.Status == domain.StatusCompleted {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{
		"transaction": txn,
		"fee":         money.Format(txn.FeeCents),
		"net":         money.Format(txn.NetCents),
	})
}

// Cancel handles POST /withdrawals/:id/cancel while the payout is still queued.
func (h *WithdrawalHandler) Cancel(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	txn, err := h.svc.CancelWithdrawal(c.Request.Context(), middleware.GetUserID(c), id)
	if err != nil {
		respondError(c, h.logger, err, nil)
		return
	}
	c.JSON(http.StatusOK, txn)
}
