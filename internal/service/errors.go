package service

import (
	"errors"
	"fmt"

	"github.com/tryethernal/ethernal-sub004/internal/repository"
)

var (
	// ErrValidation marks input that will never succeed; do not retry.
	ErrValidation = errors.New("validation failed")
	// ErrMissingDependency marks data whose parent is not committed yet; retry later.
	ErrMissingDependency = errors.New("missing dependency")
	// ErrInfrastructure marks storage or upstream failures; retry later.
	ErrInfrastructure = errors.New("infrastructure failure")

	ErrInvalidTransition = errors.New("invalid state transition")
	ErrDuplicateBatch    = errors.New("orbit batch already exists")
	ErrForbiddenChain    = errors.New("chain is not allowed")
	ErrNoUnitOfWork      = errors.New("projection requires an open ingestion unit")
)

func validationErr(format string, args ...interface{}) error {
	return fmtErr(ErrValidation, format, args...)
}

// IsRetryable reports whether redelivering the same input later can succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrMissingDependency) || errors.Is(err, ErrInfrastructure)
}

// classify maps a storage error onto the service error kinds. Errors that already
// carry a kind pass through.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrMissingDependency),
		errors.Is(err, ErrInfrastructure),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrDuplicateBatch),
		errors.Is(err, ErrForbiddenChain),
		errors.Is(err, ErrNoUnitOfWork):
		return err
	case repository.IsForeignKeyViolation(err):
		return fmt.Errorf("%s: %w: %w", op, ErrMissingDependency, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrInfrastructure, err)
	}
}

func fmtErr(kind error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

func fmtMissing(format string, args ...interface{}) error {
	return fmtErr(ErrMissingDependency, format, args...)
}
