package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	billingdomain "github.com/artivio/platform/internal/billing/domain"
	"github.com/gin-gonic/gin"
)

const signatureHeader = "X-Artivio-Signature"

type billingWebhookEnvelope struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	ObjectID string         `json:"object_id"`
	Data     map[string]any `json:"data"`
}

// HandleBillingWebhook verifies the provider signature, hands the event to
// the processor and answers 200 for duplicates so the provider stops
// retrying.
func (s *Server) HandleBillingWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if !s.verifySignature(payload, c.GetHeader(signatureHeader)) {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var envelope billingWebhookEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	outcome, err := s.billingSvc.ProcessEvent(c.Request.Context(), billingdomain.ExternalEvent{
		EventID:   envelope.ID,
		EventType: envelope.Type,
		ObjectID:  envelope.ObjectID,
		Payload:   envelope.Data,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "outcome": string(outcome)})
}

func (s *Server) verifySignature(payload []byte, signature string) bool {
	secret := strings.TrimSpace(s.cfg.WebhookSecret)
	if secret == "" {
		// No secret configured means local development; accept everything.
		return true
	}

	signature = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	if signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
