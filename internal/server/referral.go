package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type ReferralClickRequest struct {
	Code         string `json:"code"`
	RefereeEmail string `json:"referee_email"`
}

type ReferralConvertRequest struct {
	Code      string `json:"code"`
	RefereeID string `json:"referee_id"`
}

func (s *Server) ReferralClick(c *gin.Context) {
	var req ReferralClickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	referral, err := s.referralSvc.Click(c.Request.Context(), req.Code, req.RefereeEmail)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":     referral.ID.String(),
		"status": string(referral.Status),
	})
}

func (s *Server) ReferralConvert(c *gin.Context) {
	var req ReferralConvertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.referralSvc.Convert(c.Request.Context(), req.Code, req.RefereeID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
