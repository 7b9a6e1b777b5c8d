package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"safaripay/internal/repository"
	"safaripay/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AdminHandler struct {
	settlement *service.SettlementService
	revenue    *service.RevenueService
	logger     *zap.Logger
}

func NewAdminHandler(settlement *service.SettlementService, revenue *service.RevenueService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{settlement: settlement, revenue: revenue, logger: logger}
}

// ListTransactions handles GET /admin/transactions?kind=&status=&method=&user_id=.
func (h *AdminHandler) ListTransactions(c *gin.Context) {
	page, limit := parsePagination(c)
	f := repository.TransactionFilter{
		Kind:   strings.ToUpper(c.Query("kind")),
		Status: strings.ToUpper(c.Query("status")),
		Method: strings.ToUpper(c.Query("method")),
		Page:   page,
		Limit:  limit,
	}
	if v := c.Query("user_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
			return
		}
		f.UserID = uint(id)
	}
	txns, total, err := h.settlement.AdminListTransactions(c.Request.Context(), f)
	if err != nil {
		respondError(c, h.logger, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": txns, "total": total, "page": page, "limit": limit})
}

// ListRevenue handles GET /admin/revenue?source=.
func (h *AdminHandler) ListRevenue(c *gin.Context) {
	page, limit := parsePagination(c)
	records, total, err := h.revenue.List(c.Request.Context(), strings.ToUpper(c.Query("source")), page, limit)
	if err != nil {
		respondError(c, h.logger, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": records, "total": total, "page": page, "limit": limit})
}

// RevenueSummary handles GET /admin/revenue/summary?from=&to=. Bounds are
// dates (2006-01-02) or RFC 3339 times; to is exclusive.
func (h *AdminHandler) RevenueSummary(c *gin.Context) {
	from, err := parseTimeQuery(c.Query("from"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from"})
		return
	}
	to, err := parseTimeQuery(c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to"})
		return
	}
	summary, err := h.revenue.Summary(c.Request.Context(), from, to)
	if err != nil {
		respondError(c, h.logger, err, nil)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func parseTimeQuery(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}
