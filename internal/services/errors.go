package services

import (
	"errors"
	"fmt"

	"chat-backend/internal/repository"
)

// Failure classes. Every error returned by this package wraps exactly one.
var (
	ErrUnauthorized       = errors.New("authentication failed")
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrPersistence        = errors.New("persistence failed")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Realtime error codes.
const (
	CodeAuthentication = "authentication_failed"
	CodeValidation     = "validation_failed"
	CodeNotFound       = "not_found"
	CodePersistence    = "persistence_failed"
	CodeRateLimited    = "rate_limited"
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// storeErr classifies a repository error.
func storeErr(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	default:
		return fmt.Errorf("%w: %s: %v", ErrPersistence, what, err)
	}
}

// Code maps an error to its realtime error code.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrInvalidCredentials):
		return CodeAuthentication
	case errors.Is(err, ErrValidation), errors.Is(err, ErrUserExists):
		return CodeValidation
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrForbidden):
		return CodeNotFound
	default:
		return CodePersistence
	}
}
