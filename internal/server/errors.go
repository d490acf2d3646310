package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	invoicedomain "github.com/smallbiznis/wireline/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/wireline/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/wireline/internal/subscription/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	switch {
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{Field: "request", Code: err.Error(), Message: err.Error()},
			},
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

// Validation errors are rejected before any mutation and never retried.
func isValidationError(err error) bool {
	return errors.Is(err, paymentdomain.ErrInvalidAmount) ||
		errors.Is(err, paymentdomain.ErrInvalidMethod) ||
		errors.Is(err, invoicedomain.ErrInvalidAmount) ||
		errors.Is(err, invoicedomain.ErrInvalidPeriod)
}

// Business-rule conflicts are structured rejections the caller can act
// on, never automatic retries.
func isConflictError(err error) bool {
	return errors.Is(err, invoicedomain.ErrDuplicatePeriod) ||
		errors.Is(err, invoicedomain.ErrNoSetupFee) ||
		errors.Is(err, invoicedomain.ErrNotCancellable) ||
		errors.Is(err, invoicedomain.ErrSubscriptionState) ||
		errors.Is(err, paymentdomain.ErrInvoiceNotPayable) ||
		errors.Is(err, paymentdomain.ErrAmountExceedsBalance) ||
		errors.Is(err, paymentdomain.ErrDuplicateTransaction) ||
		errors.Is(err, paymentdomain.ErrNotRefundable) ||
		errors.Is(err, paymentdomain.ErrRefundExceedsPaid) ||
		errors.Is(err, subscriptiondomain.ErrNotActive) ||
		errors.Is(err, subscriptiondomain.ErrNotSuspended)
}

func isNotFoundError(err error) bool {
	return errors.Is(err, invoicedomain.ErrInvoiceNotFound) ||
		errors.Is(err, paymentdomain.ErrPaymentNotFound) ||
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) ||
		errors.Is(err, gorm.ErrRecordNotFound)
}
