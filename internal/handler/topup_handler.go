package handler

import (
	"net/http"
	"regexp"
	"strings"

	"safaripay/internal/domain"
	"safaripay/internal/middleware"
	"safaripay/internal/models"
	"safaripay/internal/service"
	"safaripay/pkg/money"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type TopUpHandler struct {
	svc    *service.SettlementService
	logger *zap.Logger
}

func NewTopUpHandler(svc *service.SettlementService, logger *zap.Logger) *TopUpHandler {
	return &TopUpHandler{svc: svc, logger: logger}
}

// Create handles POST /topups. Tourist only. The wallet is credited when the
// rail confirms; the response carries the PENDING transaction and, for
// cards, the checkout URL.
func (h *TopUpHandler) Create(c *gin.Context) {
	var req struct {
		Method   string `json:"method" binding:"required"`
		Amount   string `json:"amount" binding:"required"`
		Currency string `json:"currency"`
		Phone    string `json:"phone_number"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := money.ParseAmount(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": domain.ErrInvalidAmount.Error()})
		return
	}
	in := service.TopUpRequest{
		UserID:         middleware.GetUserID(c),
		Method:         strings.ToUpper(req.Method),
		SourceAmount:   amount,
		SourceCurrency: strings.ToUpper(req.Currency),
	}
	if in.Method == domain.MethodMobileMoney {
		in.Phone = normalizePhone(req.Phone)
		if in.Phone == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid phone number"})
			return
		}
	}

	res, err := h.svc.RequestTopUp(c.Request.Context(), in)
	if err != nil {
		var txn *models.Transaction
		if res != nil {
			txn = res.Transaction
		}
		respondError(c, h.logger, err, txn)
		return
	}
	resp := gin.H{"transaction": res.Transaction}
	if res.CheckoutURL != "" {
		resp["checkout_url"] = res.CheckoutURL
	}
	if in.Method == domain.MethodMobileMoney {
		resp["message"] = "Check your phone to confirm the M-Pesa payment."
	}
	c.JSON(http.StatusAccepted, resp)
}

var nonDigits = regexp.MustCompile(`\D`)

// normalizePhone returns a Kenyan MSISDN as 254XXXXXXXXX, or "" if it is not one.
func normalizePhone(s string) string {
	s = nonDigits.ReplaceAllString(s, "")
	if s == "" {
		return ""
	}
	if strings.HasPrefix(s, "0") {
		s = "254" + s[1:]
	} else if !strings.HasPrefix(s, "254") {
		s = "254" + s
	}
	if len(s) != 12 {
		return ""
	}
	return s
}
