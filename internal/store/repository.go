/**
 * @description
 * This file defines the `Repository` interface, the contract for all data access
 * operations required by the debt-service. Business logic only ever talks to this
 * interface, so the PostgreSQL implementation and the in-memory implementation used
 * by tests are interchangeable.
 *
 * @notes
 * - Every write that touches a debtor's totals must run inside `Atomically`. The
 *   callback receives a `LedgerTx` whose reads are tracked; if any of them changed
 *   before commit the whole callback is re-run. Callers never see the retry.
 * - Callbacks may run more than once and must not perform external side effects.
 */

package store

import (
	"context"
	"errors"

	"github.com/g-99215544-beep/pinjamanhutang/internal/domain"
)

var (
	ErrDebtorNotFound         = errors.New("debtor not found")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrPaymentRequestNotFound = errors.New("payment request not found")
	ErrDuplicateKey           = errors.New("record already exists")

	// ErrConflict means the snapshot read inside an atomic unit was no longer current.
	ErrConflict = errors.New("concurrent modification")
	// ErrRetriesExhausted is returned once Atomically gives up on a conflicting unit.
	ErrRetriesExhausted = errors.New("atomic retries exhausted")
)

// DefaultMaxAttempts bounds how often a conflicting atomic unit is re-run.
const DefaultMaxAttempts = 5

// AtomicFunc is the body of an atomic unit.
type AtomicFunc func(ctx context.Context, tx LedgerTx) error

// Repository defines the set of methods for interacting with the ledger.
type Repository interface {
	Atomically(ctx context.Context, fn AtomicFunc) error

	// Debtor reads
	FindDebtorByID(ctx context.Context, debtorID string) (*domain.Debtor, error)
	FindDebtorByPhone(ctx context.Context, phone string) (*domain.Debtor, error)
	ListDebtors(ctx context.Context) ([]domain.Debtor, error)
	DeleteDebtor(ctx context.Context, debtorID string) error

	// Transaction history, newest first
	ListTransactions(ctx context.Context, debtorID string, limit int) ([]domain.Transaction, error)
	SumTransactions(ctx context.Context, debtorID string) (float64, int, error)

	// Payment request methods
	FindPaymentRequest(ctx context.Context, orderID string) (*domain.PaymentRequest, error)
	CreatePaymentRequest(ctx context.Context, req *domain.PaymentRequest) error
	MergePaymentRequest(ctx context.Context, patch domain.PaymentRequestPatch) (*domain.PaymentRequest, error)
}

// LedgerTx is the view of the store available inside an atomic unit.
type LedgerTx interface {
	GetDebtor(ctx context.Context, debtorID string) (*domain.Debtor, error)
	// FindGatewayTransaction looks a gateway credit up by id across all debtors.
	FindGatewayTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error)
	GetPaymentRequest(ctx context.Context, orderID string) (*domain.PaymentRequest, error)

	CreateDebtor(ctx context.Context, debtor *domain.Debtor) error
	// UpdateDebtor writes the debtor conditioned on the version it was read at.
	UpdateDebtor(ctx context.Context, debtor *domain.Debtor) error
	InsertTransaction(ctx context.Context, txn *domain.Transaction) error
	MergePaymentRequest(ctx context.Context, patch domain.PaymentRequestPatch) (*domain.PaymentRequest, error)
}

// DefaultTransactionLimit is used when a caller does not ask for a page size.
const DefaultTransactionLimit = 100

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultTransactionLimit
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
