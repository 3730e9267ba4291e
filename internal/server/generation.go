package server

import (
	"net/http"
	"time"

	generationdomain "github.com/artivio/platform/internal/generation/domain"
	"github.com/gin-gonic/gin"
)

type CreateGenerationRequest struct {
	AccountID string         `json:"account_id"`
	Kind      string         `json:"kind"`
	Params    map[string]any `json:"params"`
}

type FinalizeGenerationRequest struct {
	Outcome   string `json:"outcome"`
	ResultURL string `json:"result_url"`
	ErrorNote string `json:"error_note"`
}

type generationView struct {
	ID          string         `json:"id"`
	AccountID   string         `json:"account_id"`
	Status      string         `json:"status"`
	Kind        string         `json:"kind"`
	CreditsCost int64          `json:"credits_cost"`
	Params      map[string]any `json:"params,omitempty"`
	ResultURL   *string        `json:"result_url,omitempty"`
	ErrorNote   *string        `json:"error_note,omitempty"`
	CompletedAt *string        `json:"completed_at,omitempty"`
	CreatedAt   string         `json:"created_at"`
}

func toGenerationView(g *generationdomain.Generation) generationView {
	view := generationView{
		ID:          g.ID.String(),
		AccountID:   g.AccountID.String(),
		Status:      string(g.Status),
		Kind:        g.Kind,
		CreditsCost: g.CreditsCost,
		Params:      g.Params,
		ResultURL:   g.ResultURL,
		ErrorNote:   g.ErrorNote,
		CreatedAt:   g.CreatedAt.UTC().Format(time.RFC3339),
	}
	if g.CompletedAt != nil {
		completed := g.CompletedAt.UTC().Format(time.RFC3339)
		view.CompletedAt = &completed
	}
	return view
}

func (s *Server) CreateGeneration(c *gin.Context) {
	var req CreateGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	allowed, err := s.generationLimiter.AllowAccount(c.Request.Context(), req.AccountID)
	if err != nil {
		// fail open when redis is unreachable
		allowed = true
	}
	if !allowed {
		s.obsMetrics.RecordRateLimitDenied(c.Request.Context(), "generation_create")
		AbortWithError(c, ErrTooManyReqs)
		return
	}

	gen, err := s.generationSvc.Create(c.Request.Context(), generationdomain.CreateRequest{
		AccountID: req.AccountID,
		Kind:      req.Kind,
		Params:    req.Params,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toGenerationView(gen))
}

func (s *Server) GetGeneration(c *gin.Context) {
	gen, err := s.generationSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, toGenerationView(gen))
}

func (s *Server) StartGeneration(c *gin.Context) {
	gen, err := s.generationSvc.Start(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, toGenerationView(gen))
}

func (s *Server) FinalizeGeneration(c *gin.Context) {
	var req FinalizeGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	gen, err := s.generationSvc.Finalize(c.Request.Context(), generationdomain.FinalizeRequest{
		GenerationID: c.Param("id"),
		Outcome:      generationdomain.Outcome(req.Outcome),
		ResultURL:    req.ResultURL,
		ErrorNote:    req.ErrorNote,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, toGenerationView(gen))
}

func (s *Server) CancelGeneration(c *gin.Context) {
	result, err := s.generationSvc.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) ListGenerations(c *gin.Context) {
	gens, err := s.generationSvc.ListByAccount(c.Request.Context(), c.Param("id"), queryLimit(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	views := make([]generationView, 0, len(gens))
	for i := range gens {
		views = append(views, toGenerationView(&gens[i]))
	}

	c.JSON(http.StatusOK, gin.H{"generations": views})
}
