package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) ListPlans(c *gin.Context) {
	plans, err := s.planSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	type planView struct {
		ID              string `json:"id"`
		Code            string `json:"code"`
		Name            string `json:"name"`
		CreditsPerMonth int64  `json:"credits_per_month"`
	}

	views := make([]planView, 0, len(plans))
	for _, p := range plans {
		views = append(views, planView{
			ID:              p.ID.String(),
			Code:            p.Code,
			Name:            p.Name,
			CreditsPerMonth: p.CreditsPerMonth,
		})
	}

	c.JSON(http.StatusOK, gin.H{"plans": views})
}
