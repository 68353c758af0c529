package model

import "errors"

// Sentinel errors shared across repository, service and transport layers.
// The HTTP layer maps these to status codes.
var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrAlreadyProcessed    = errors.New("request already processed (idempotency)")
	ErrAccountNotFound     = errors.New("account not found")
	ErrJobNotFound         = errors.New("generation job not found")
	ErrUnknownProduct      = errors.New("unknown product code")
	ErrGenerationFailed    = errors.New("generation failed")
)
