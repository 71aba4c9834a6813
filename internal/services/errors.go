package services

import (
	"errors"

	"reftrack/internal/repository"
)

var (
	ErrNotFound = repository.ErrNotFound

	// ErrCodeSpaceExhausted is fatal: the operator has to widen the code length.
	ErrCodeSpaceExhausted = errors.New("referral code space exhausted")
	ErrCodeInactive       = errors.New("referral code is inactive")
	ErrUnknownUser        = errors.New("no signup recorded for user")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrNoRatePolicy       = errors.New("commission rate table not configured")
)
