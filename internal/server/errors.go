package server

import (
	"errors"
	"fmt"
	"net/http"

	accountdomain "github.com/artivio/platform/internal/account/domain"
	billingdomain "github.com/artivio/platform/internal/billing/domain"
	generationdomain "github.com/artivio/platform/internal/generation/domain"
	ledgerdomain "github.com/artivio/platform/internal/ledger/domain"
	plandomain "github.com/artivio/platform/internal/plan/domain"
	referraldomain "github.com/artivio/platform/internal/referral/domain"
	subscriptiondomain "github.com/artivio/platform/internal/subscription/domain"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrTooManyReqs    = errors.New("too_many_requests")
	ErrInvalidRequest = errors.New("invalid_request")
)

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

func mapError(err error) (int, errorPayload) {
	var insufficient *ledgerdomain.InsufficientFundsError
	if errors.As(err, &insufficient) {
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_funds",
			Message: fmt.Sprintf("insufficient funds: need %d, have %d", insufficient.Need, insufficient.Have),
		}
	}

	switch {
	case errors.Is(err, ledgerdomain.ErrInsufficientFunds):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_funds",
			Message: "insufficient funds",
		}
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case errors.Is(err, accountdomain.ErrEmailTaken):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "email already registered",
		}
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrTooManyReqs):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "too_many_requests",
			Message: "too many requests",
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

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, accountdomain.ErrInvalidEmail),
		errors.Is(err, generationdomain.ErrInvalidKind),
		errors.Is(err, generationdomain.ErrInvalidOutcome),
		errors.Is(err, ledgerdomain.ErrInvalidAmount),
		errors.Is(err, ledgerdomain.ErrInvalidReason),
		errors.Is(err, ledgerdomain.ErrInvalidAccount),
		errors.Is(err, referraldomain.ErrInvalidCode),
		errors.Is(err, referraldomain.ErrInvalidEmail),
		errors.Is(err, billingdomain.ErrInvalidEvent),
		errors.Is(err, billingdomain.ErrInvalidPayload):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, accountdomain.ErrAccountNotFound),
		errors.Is(err, ledgerdomain.ErrAccountNotFound),
		errors.Is(err, generationdomain.ErrGenerationNotFound),
		errors.Is(err, plandomain.ErrPlanNotFound),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, referraldomain.ErrReferralNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}
