package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/wireline/internal/invoice/domain"
	plandomain "github.com/smallbiznis/wireline/internal/plan/domain"
	"github.com/smallbiznis/wireline/internal/rating"
)

type generateInvoiceRequest struct {
	SubscriptionID string `json:"subscription_id" binding:"required"`
	BillingDate    string `json:"billing_date"`
}

func (s *Server) GenerateInvoice(c *gin.Context) {
	var req generateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}

	subID, err := snowflake.ParseString(req.SubscriptionID)
	if err != nil {
		AbortWithError(c, newValidationError("subscription_id", "invalid_id", "invalid subscription id"))
		return
	}

	billingDate, ok := parseDate(req.BillingDate, time.Now().UTC())
	if !ok {
		AbortWithError(c, newValidationError("billing_date", "invalid_date", "billing_date must be YYYY-MM-DD or RFC3339"))
		return
	}

	item, err := s.invoiceSvc.Generate(c.Request.Context(), subID, billingDate)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": item})
}

type bulkGenerateRequest struct {
	CustomerIDs []string `json:"customer_ids"`
	BillingDate string   `json:"billing_date"`
}

func (s *Server) BulkGenerateInvoices(c *gin.Context) {
	var req bulkGenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}

	customerIDs := make([]snowflake.ID, 0, len(req.CustomerIDs))
	for _, raw := range req.CustomerIDs {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, newValidationError("customer_ids", "invalid_id", "invalid customer id"))
			return
		}
		customerIDs = append(customerIDs, id)
	}

	billingDate, ok := parseDate(req.BillingDate, time.Now().UTC())
	if !ok {
		AbortWithError(c, newValidationError("billing_date", "invalid_date", "billing_date must be YYYY-MM-DD or RFC3339"))
		return
	}

	result, err := s.invoiceSvc.BulkGenerate(c.Request.Context(), customerIDs, billingDate)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

type adjustmentRequest struct {
	CustomerID     string `json:"customer_id" binding:"required"`
	SubscriptionID string `json:"subscription_id"`
	Amount         string `json:"amount" binding:"required"`
	Notes          string `json:"notes"`
}

func (s *Server) CreateAdjustmentInvoice(c *gin.Context) {
	var req adjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}

	customerID, err := snowflake.ParseString(req.CustomerID)
	if err != nil {
		AbortWithError(c, newValidationError("customer_id", "invalid_id", "invalid customer id"))
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		AbortWithError(c, newValidationError("amount", "invalid_amount", "amount must be a decimal string"))
		return
	}

	adj := invoicedomain.AdjustmentRequest{
		CustomerID: customerID,
		Amount:     amount,
		Notes:      req.Notes,
	}
	if req.SubscriptionID != "" {
		subID, err := snowflake.ParseString(req.SubscriptionID)
		if err != nil {
			AbortWithError(c, newValidationError("subscription_id", "invalid_id", "invalid subscription id"))
			return
		}
		adj.SubscriptionID = &subID
	}

	item, err := s.invoiceSvc.CreateAdjustment(c.Request.Context(), adj)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": item})
}

func (s *Server) CancelInvoice(c *gin.Context) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)

	if err := s.invoiceSvc.Cancel(c.Request.Context(), id, req.Reason); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"cancelled": true}})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	item, err := s.invoiceSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) ListInvoices(c *gin.Context) {
	var req invoicedomain.ListRequest

	if raw := strings.TrimSpace(c.Query("customer_id")); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, newValidationError("customer_id", "invalid_id", "invalid customer id"))
			return
		}
		req.CustomerID = &id
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status := invoicedomain.InvoiceStatus(raw)
		req.Status = &status
	}
	if raw := strings.TrimSpace(c.Query("due_before")); raw != "" {
		due, ok := parseDate(raw, time.Time{})
		if !ok {
			AbortWithError(c, newValidationError("due_before", "invalid_date", "due_before must be YYYY-MM-DD or RFC3339"))
			return
		}
		req.DueBefore = &due
	}

	items, err := s.invoiceSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) GenerateSetupFeeInvoice(c *gin.Context) {
	subID, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	item, err := s.invoiceSvc.GenerateSetupFee(c.Request.Context(), subID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": item})
}

// ProrationQuote prices a partial billing period, for plan-change and
// mid-cycle signup quotes.
func (s *Server) ProrationQuote(c *gin.Context) {
	price, err := decimal.NewFromString(strings.TrimSpace(c.Query("price")))
	if err != nil || price.Sign() < 0 {
		AbortWithError(c, newValidationError("price", "invalid_amount", "price must be a non-negative decimal"))
		return
	}
	cycle := plandomain.BillingCycleType(strings.TrimSpace(c.Query("billing_cycle")))
	if cycle == "" {
		cycle = plandomain.BillingCycleMonthly
	}
	start, okStart := parseDate(strings.TrimSpace(c.Query("start")), time.Time{})
	end, okEnd := parseDate(strings.TrimSpace(c.Query("end")), time.Time{})
	if !okStart || !okEnd || start.IsZero() || end.IsZero() {
		AbortWithError(c, newValidationError("start", "invalid_date", "start and end must be YYYY-MM-DD or RFC3339"))
		return
	}

	amount := rating.Prorate(price, cycle, start, end)

	// Money is rendered with two decimals; decimal.String would trim
	// trailing zeros.
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"amount":        amount.StringFixed(2),
		"billing_cycle": cycle,
		"period_days":   cycle.PeriodDays(),
	}})
}

func parseDate(raw string, fallback time.Time) (time.Time, bool) {
	if strings.TrimSpace(raw) == "" {
		return fallback, true
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}
