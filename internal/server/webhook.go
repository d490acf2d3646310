package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/wireline/internal/payment/domain"
	"go.uber.org/zap"
)

type paymentWebhookRequest struct {
	InvoiceID     string `json:"invoice_id" binding:"required"`
	TransactionID string `json:"transaction_id" binding:"required"`
	Amount        string `json:"amount"`
	Method        string `json:"method"`
	Status        string `json:"status" binding:"required"`
}

// PaymentWebhook receives provider completion callbacks. Replays of the
// same (invoice, transaction) pair return the recorded outcome without
// touching balances.
func (s *Server) PaymentWebhook(c *gin.Context) {
	var req paymentWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}

	invoiceID, err := snowflake.ParseString(req.InvoiceID)
	if err != nil {
		AbortWithError(c, newValidationError("invoice_id", "invalid_id", "invalid invoice id"))
		return
	}

	amount := decimal.Zero
	if req.Amount != "" {
		amount, err = decimal.NewFromString(req.Amount)
		if err != nil {
			AbortWithError(c, newValidationError("amount", "invalid_amount", "amount must be a decimal string"))
			return
		}
	}

	result, err := s.paymentSvc.CompleteWebhook(c.Request.Context(), paymentdomain.WebhookRequest{
		InvoiceID:     invoiceID,
		TransactionID: req.TransactionID,
		Amount:        amount,
		Method:        paymentdomain.PaymentMethod(req.Method),
		Succeeded:     req.Status == "succeeded" || req.Status == "completed",
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// A settled invoice chains a delayed reactivation sweep so a
	// suspended customer's access returns shortly after payment.
	if result.InvoicePaid && s.sched != nil {
		if err := s.sched.ScheduleReactivation(c.Request.Context()); err != nil {
			s.log.Warn("reactivation scheduling failed", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"payment":      result.Payment,
		"replay":       result.Replay,
		"invoice_paid": result.InvoicePaid,
	}})
}
