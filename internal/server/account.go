package server

import (
	"net/http"
	"strconv"
	"time"

	accountdomain "github.com/artivio/platform/internal/account/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

type SignupRequest struct {
	Email string `json:"email"`
}

type accountView struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	ReferralCode string `json:"referral_code"`
	Balance      int64  `json:"balance"`
	CreatedAt    string `json:"created_at"`
}

func toAccountView(a *accountdomain.Account) accountView {
	return accountView{
		ID:           a.ID.String(),
		Email:        a.Email,
		ReferralCode: a.ReferralCode,
		Balance:      a.Balance,
		CreatedAt:    a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) Signup(c *gin.Context) {
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	account, err := s.accountSvc.Signup(c.Request.Context(), accountdomain.SignupRequest{Email: req.Email})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toAccountView(account))
}

func (s *Server) GetAccount(c *gin.Context) {
	account, err := s.accountSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, toAccountView(account))
}

func (s *Server) DeleteAccount(c *gin.Context) {
	if err := s.accountSvc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) ListTransactions(c *gin.Context) {
	accountID, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, accountdomain.ErrAccountNotFound)
		return
	}

	transactions, err := s.ledgerSvc.ListTransactions(c.Request.Context(), accountID, queryLimit(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	type transactionView struct {
		ID           string `json:"id"`
		Delta        int64  `json:"delta"`
		Reason       string `json:"reason"`
		SourceID     string `json:"source_id"`
		BalanceAfter int64  `json:"balance_after"`
		CreatedAt    string `json:"created_at"`
	}

	views := make([]transactionView, 0, len(transactions))
	for _, tx := range transactions {
		views = append(views, transactionView{
			ID:           tx.ID.String(),
			Delta:        tx.Delta,
			Reason:       string(tx.Reason),
			SourceID:     tx.SourceID.String(),
			BalanceAfter: tx.BalanceAfter,
			CreatedAt:    tx.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, gin.H{"transactions": views})
}

func queryLimit(c *gin.Context) int {
	raw := c.Query("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return limit
}
