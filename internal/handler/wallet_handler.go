package handler

import (
	"net/http"

	"safaripay/internal/middleware"
	"safaripay/internal/service"
	"safaripay/pkg/money"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type WalletHandler struct {
	svc    *service.SettlementService
	logger *zap.Logger
}

func NewWalletHandler(svc *service.SettlementService, logger *zap.Logger) *WalletHandler {
	return &WalletHandler{svc: svc, logger: logger}
}

// Open handles POST /me/wallet. Opening twice returns the same wallet.
func (h *WalletHandler) Open(c *gin.Context) {
	w, err := h.svc.OpenWallet(c.Request.Context(), middleware.GetUserID(c), middleware.GetRole(c))
	if err != nil {
		respondError(c, h.logger, err, nil)
		return
	}
	c.JSON(http.StatusCreated, w)
}

// GetBalance handles GET /me/wallet.
func (h *WalletHandler) GetBalance(c *gin.Context) {
	w, err := h.svc.GetWallet(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, h.logger, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"balance_cents": w.BalanceCents,
		"balance":       money.Format(w.BalanceCents),
		"currency":      w.Currency,
		"owner_role":    w.OwnerRole,
	})
}

// ListTransactions handles GET /me/transactions, newest first.
func (h *WalletHandler) ListTransactions(c *gin.Context) {
	page, limit := parsePagination(c)
	txns, total, err := h.svc.ListTransactions(c.Request.Context(), middleware.GetUserID(c), page, limit)
	if err != nil {
		respondError(c, h.logger, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": txns, "total": total, "page": page, "limit": limit})
}

func (h *WalletHandler) GetTransaction(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	t, err := h.svc.GetTransaction(c.Request.Context(), middleware.GetUserID(c), id)
	if err != nil {
		respondError(c, h.logger, err, nil)
		return
	}
	c.JSON(http.StatusOK, t)
}
