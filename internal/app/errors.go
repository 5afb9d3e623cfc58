package app

import (
	"errors"
	"fmt"

	"github.com/g-99215544-beep/pinjamanhutang/internal/store"
)

// Error categories. Every error returned by Service matches exactly one of these via errors.Is.
var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrExternalService    = errors.New("external service failure")
	ErrPersistence        = errors.New("persistence failure")
	ErrRateLimited        = errors.New("rate limited")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// LedgerError carries a human-readable message under one of the categories above.
type LedgerError struct {
	Kind    error
	Message string
	Err     error
}

func (e *LedgerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *LedgerError) Is(target error) bool { return target == e.Kind }

func (e *LedgerError) Unwrap() error { return e.Err }

func newError(kind error, message string) error {
	return &LedgerError{Kind: kind, Message: message}
}

func wrapError(kind error, message string, err error) error {
	return &LedgerError{Kind: kind, Message: message, Err: err}
}

// RateLimitError reports how long the caller should wait before retrying.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many requests; retry after %ds", e.RetryAfterSeconds)
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

var (
	errMissingDebtorID  = newError(ErrValidation, "missing debtor id")
	errInvalidAmount    = newError(ErrValidation, "invalid amount")
	errDebtorNotFound   = newError(ErrNotFound, "debtor not found")
	errDebtSettled      = newError(ErrConflict, "debt already settled")
	errAmountExceedsDue = newError(ErrConflict, "amount exceeds balance")
)

// storeError maps repository errors onto the service categories.
func storeError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrDebtorNotFound):
		return errDebtorNotFound
	case errors.Is(err, store.ErrPaymentRequestNotFound), errors.Is(err, store.ErrTransactionNotFound):
		return wrapError(ErrNotFound, op, err)
	case errors.Is(err, store.ErrDuplicateKey):
		return wrapError(ErrConflict, op, err)
	default:
		var ledgerErr *LedgerError
		if errors.As(err, &ledgerErr) {
			return err
		}
		return wrapError(ErrPersistence, op, err)
	}
}
