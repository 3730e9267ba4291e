package domain

import (
	"context"
	"errors"
)

// Outcome is the result reported by the generator when work finishes.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

type CreateRequest struct {
	AccountID string         `json:"account_id"`
	Kind      string         `json:"kind"`
	Params    map[string]any `json:"params"`
}

type FinalizeRequest struct {
	GenerationID string  `json:"generation_id"`
	Outcome      Outcome `json:"outcome"`
	ResultURL    string  `json:"result_url"`
	ErrorNote    string  `json:"error_note"`
}

// CancelResult reports whether the cancel won the status transition and, if
// so, how many credits were returned.
type CancelResult struct {
	Refunded bool  `json:"refunded"`
	Amount   int64 `json:"amount"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Generation, error)
	Start(ctx context.Context, id string) (*Generation, error)
	Finalize(ctx context.Context, req FinalizeRequest) (*Generation, error)
	Cancel(ctx context.Context, id string) (CancelResult, error)
	Get(ctx context.Context, id string) (*Generation, error)
	ListByAccount(ctx context.Context, accountID string, limit int) ([]Generation, error)
}

var (
	ErrInvalidKind        = errors.New("invalid_kind")
	ErrInvalidOutcome     = errors.New("invalid_outcome")
	ErrGenerationNotFound = errors.New("generation_not_found")
)
