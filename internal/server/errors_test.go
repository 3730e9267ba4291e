package server

import (
	"net/http"
	"testing"

	accountdomain "github.com/artivio/platform/internal/account/domain"
	generationdomain "github.com/artivio/platform/internal/generation/domain"
	ledgerdomain "github.com/artivio/platform/internal/ledger/domain"
	"github.com/stretchr/testify/require"
)

func TestMapError_InsufficientFundsCarriesAmounts(t *testing.T) {
	status, payload := mapError(&ledgerdomain.InsufficientFundsError{Need: 50, Have: 12})
	require.Equal(t, http.StatusPaymentRequired, status)
	require.Equal(t, "insufficient_funds", payload.Type)
	require.Equal(t, "insufficient funds: need 50, have 12", payload.Message)
}

func TestMapError_Statuses(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", generationdomain.ErrGenerationNotFound, http.StatusNotFound},
		{"validation", generationdomain.ErrInvalidOutcome, http.StatusBadRequest},
		{"email taken", accountdomain.ErrEmailTaken, http.StatusConflict},
		{"rate limited", ErrTooManyReqs, http.StatusTooManyRequests},
		{"unauthorized", ErrUnauthorized, http.StatusUnauthorized},
		{"unknown", ledgerdomain.ErrInvalidReason, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := mapError(tt.err)
			require.Equal(t, tt.status, status)
		})
	}
}
