package handler

import (
	"errors"
	"net/http"
	"strconv"

	"safaripay/internal/domain"
	"safaripay/internal/models"
	"safaripay/pkg/money"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// statusFor maps a ledger error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidParty),
		errors.Is(err, domain.ErrInvalidMethod),
		errors.Is(err, domain.ErrUnsupportedCurrency),
		errors.Is(err, domain.ErrInvalidDestination),
		errors.Is(err, domain.ErrInvalidFilter):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrVersionConflict),
		errors.Is(err, domain.ErrPayoutInitiated),
		errors.Is(err, domain.ErrAlreadyFinalized),
		errors.Is(err, domain.ErrDuplicateReference):
		return http.StatusConflict
	case errors.Is(err, domain.ErrExternalRail):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondError writes err as JSON. Unmapped errors are logged and hidden.
// txn, when set, is the transaction recorded for the failed request.
func respondError(c *gin.Context, logger *zap.Logger, err error, txn *models.Transaction) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	resp := gin.H{"error": err.Error()}
	if txn != nil {
		resp["transaction"] = txn
	}
	c.JSON(status, resp)
}

func parsePagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}

// parseCents parses a positive KES amount such as "1250.50" into cents.
func parseCents(s string) (int64, error) {
	amount, err := money.ParseAmount(s)
	if err != nil {
		return 0, domain.ErrInvalidAmount
	}
	cents, err := money.ToCents(amount)
	if err != nil {
		return 0, domain.ErrInvalidAmount
	}
	return cents, nil
}
