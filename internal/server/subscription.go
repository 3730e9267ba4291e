package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

func (s *Server) GetSubscription(c *gin.Context) {
	sub, err := s.subscriptionSvc.GetByAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":                          sub.ID.String(),
		"account_id":                  sub.AccountID.String(),
		"plan_id":                     sub.PlanID.String(),
		"provider_subscription_id":    sub.ProviderSubscriptionID,
		"status":                      string(sub.Status),
		"current_period_start":        sub.CurrentPeriodStart.UTC().Format(time.RFC3339),
		"current_period_end":          sub.CurrentPeriodEnd.UTC().Format(time.RFC3339),
		"credits_granted_this_period": sub.CreditsGrantedThisPeriod,
	})
}
