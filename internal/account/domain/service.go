package domain

import (
	"context"
	"errors"
)

type SignupRequest struct {
	Email string `json:"email"`
}

type Service interface {
	Signup(ctx context.Context, req SignupRequest) (*Account, error)
	Get(ctx context.Context, id string) (*Account, error)
	GetByReferralCode(ctx context.Context, code string) (*Account, error)
	Delete(ctx context.Context, id string) error
}

var (
	ErrInvalidEmail    = errors.New("invalid_email")
	ErrEmailTaken      = errors.New("email_taken")
	ErrAccountNotFound = errors.New("account_not_found")
)
