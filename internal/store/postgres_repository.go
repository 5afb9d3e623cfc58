/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * Atomic units run as SERIALIZABLE transactions; the debtor row is locked with
 * SELECT ... FOR UPDATE and written back conditioned on its version column.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/g-99215544-beep/pinjamanhutang/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
)

// Unique violations on these constraints mean a concurrent unit inserted the
// same idempotency key; the retry sees the committed row.
var retryableConstraints = map[string]bool{
	"debtor_transactions_pkey":           true,
	"debtor_transactions_gateway_id_key": true,
}

const debtorColumns = `id, name, phone, note, total_debt, total_paid, balance, password_hash, version, created_at, updated_at`

const transactionColumns = `id, debtor_id, amount, provider, status, method, reference, bill_code, order_id, transaction_time, created_at`

const paymentRequestColumns = `order_id, debtor_id, amount, credited, status, bill_code, created_at, updated_at`

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db          *pgxpool.Pool
	maxAttempts int
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool, maxAttempts int) *PostgresRepository {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &PostgresRepository{db: db, maxAttempts: maxAttempts}
}

// Atomically runs fn inside a serializable transaction, retrying on serialization
// failures, deadlocks, version conflicts and duplicate transaction keys.
func (r *PostgresRepository) Atomically(ctx context.Context, fn AtomicFunc) error {
	return retryAtomic(ctx, r.maxAttempts, func(ctx context.Context) error {
		return r.runAtomic(ctx, fn)
	})
}

// retryAtomic re-runs run while it fails with a retryable error, up to maxAttempts.
func retryAtomic(ctx context.Context, maxAttempts int, run func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := run(ctx)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		log.Printf("level=warn component=store msg=\"atomic unit conflicted; retrying\" attempt=%d err=%v", attempt, err)
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, maxAttempts, lastErr)
}

func (r *PostgresRepository) runAtomic(ctx context.Context, fn AtomicFunc) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgLedgerTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isRetryable(err error) bool {
	if errors.Is(err, ErrConflict) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected:
			return true
		case pgUniqueViolation:
			return retryableConstraints[pgErr.ConstraintName]
		}
	}
	return false
}

// FindDebtorByID retrieves a debtor by id.
func (r *PostgresRepository) FindDebtorByID(ctx context.Context, debtorID string) (*domain.Debtor, error) {
	row := r.db.QueryRow(ctx, `SELECT `+debtorColumns+` FROM debtors WHERE id = $1`, debtorID)
	return scanDebtor(row)
}

// FindDebtorByPhone retrieves the oldest debtor registered with the given phone.
func (r *PostgresRepository) FindDebtorByPhone(ctx context.Context, phone string) (*domain.Debtor, error) {
	row := r.db.QueryRow(ctx, `SELECT `+debtorColumns+` FROM debtors WHERE phone = $1 ORDER BY created_at ASC LIMIT 1`, strings.TrimSpace(phone))
	return scanDebtor(row)
}

// ListDebtors returns all debtors ordered by name.
func (r *PostgresRepository) ListDebtors(ctx context.Context) ([]domain.Debtor, error) {
	rows, err := r.db.Query(ctx, `SELECT `+debtorColumns+` FROM debtors ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var debtors []domain.Debtor
	for rows.Next() {
		d, err := scanDebtor(rows)
		if err != nil {
			return nil, err
		}
		debtors = append(debtors, *d)
	}
	return debtors, rows.Err()
}

// DeleteDebtor removes a debtor. Transaction rows cascade at the database level.
func (r *PostgresRepository) DeleteDebtor(ctx context.Context, debtorID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM debtors WHERE id = $1`, debtorID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDebtorNotFound
	}
	return nil
}

// ListTransactions returns a debtor's transactions, newest first.
func (r *PostgresRepository) ListTransactions(ctx context.Context, debtorID string, limit int) ([]domain.Transaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM debtor_transactions
		WHERE debtor_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, debtorID, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := make([]domain.Transaction, 0)
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *txn)
	}
	return transactions, rows.Err()
}

// SumTransactions returns the sum and count of a debtor's transactions.
func (r *PostgresRepository) SumTransactions(ctx context.Context, debtorID string) (float64, int, error) {
	var sum float64
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::float8, COUNT(*)
		FROM debtor_transactions
		WHERE debtor_id = $1
	`, debtorID).Scan(&sum, &count)
	if err != nil {
		return 0, 0, err
	}
	return domain.RoundMoney(sum), count, nil
}

// FindPaymentRequest retrieves a payment request by order id.
func (r *PostgresRepository) FindPaymentRequest(ctx context.Context, orderID string) (*domain.PaymentRequest, error) {
	row := r.db.QueryRow(ctx, `SELECT `+paymentRequestColumns+` FROM payment_requests WHERE order_id = $1`, orderID)
	return scanPaymentRequest(row)
}

// CreatePaymentRequest inserts a new payment request.
func (r *PostgresRepository) CreatePaymentRequest(ctx context.Context, req *domain.PaymentRequest) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO payment_requests (`+paymentRequestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, req.OrderID, req.DebtorID, req.Amount, req.Credited, req.Status, req.BillCode, req.CreatedAt, req.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to insert payment request: %w", err)
	}
	return nil
}

// MergePaymentRequest applies a set-with-merge update in its own atomic unit.
func (r *PostgresRepository) MergePaymentRequest(ctx context.Context, patch domain.PaymentRequestPatch) (*domain.PaymentRequest, error) {
	var merged *domain.PaymentRequest
	err := r.Atomically(ctx, func(ctx context.Context, tx LedgerTx) error {
		var err error
		merged, err = tx.MergePaymentRequest(ctx, patch)
		return err
	})
	return merged, err
}

// pgLedgerTx is the LedgerTx backed by an open pgx transaction.
type pgLedgerTx struct {
	tx pgx.Tx
}

func (t *pgLedgerTx) GetDebtor(ctx context.Context, debtorID string) (*domain.Debtor, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+debtorColumns+` FROM debtors WHERE id = $1 FOR UPDATE`, debtorID)
	return scanDebtor(row)
}

func (t *pgLedgerTx) FindGatewayTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM debtor_transactions WHERE id = $1 AND provider = 'gateway'`, transactionID)
	return scanTransaction(row)
}

func (t *pgLedgerTx) GetPaymentRequest(ctx context.Context, orderID string) (*domain.PaymentRequest, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+paymentRequestColumns+` FROM payment_requests WHERE order_id = $1 FOR UPDATE`, orderID)
	return scanPaymentRequest(row)
}

func (t *pgLedgerTx) CreateDebtor(ctx context.Context, debtor *domain.Debtor) error {
	debtor.Recompute()
	debtor.Version = 1
	_, err := t.tx.Exec(ctx, `
		INSERT INTO debtors (`+debtorColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, debtor.ID, debtor.Name, debtor.Phone, debtor.Note, debtor.TotalDebt, debtor.TotalPaid, debtor.Balance,
		debtor.PasswordHash, debtor.Version, debtor.CreatedAt, debtor.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to insert debtor: %w", err)
	}
	return nil
}

func (t *pgLedgerTx) UpdateDebtor(ctx context.Context, debtor *domain.Debtor) error {
	debtor.Recompute()
	tag, err := t.tx.Exec(ctx, `
		UPDATE debtors
		SET name = $3, phone = $4, note = $5, total_debt = $6, total_paid = $7, balance = $8,
			password_hash = $9, updated_at = $10, version = version + 1
		WHERE id = $1 AND version = $2
	`, debtor.ID, debtor.Version, debtor.Name, debtor.Phone, debtor.Note, debtor.TotalDebt, debtor.TotalPaid,
		debtor.Balance, debtor.PasswordHash, debtor.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update debtor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	debtor.Version++
	return nil
}

func (t *pgLedgerTx) InsertTransaction(ctx context.Context, txn *domain.Transaction) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO debtor_transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, txn.ID, txn.DebtorID, txn.Amount, txn.Provider, txn.Status, txn.Method, txn.Reference,
		txn.BillCode, txn.OrderID, txn.TransactionTime, txn.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (t *pgLedgerTx) MergePaymentRequest(ctx context.Context, patch domain.PaymentRequestPatch) (*domain.PaymentRequest, error) {
	existing, err := t.GetPaymentRequest(ctx, patch.OrderID)
	if err != nil && !errors.Is(err, ErrPaymentRequestNotFound) {
		return nil, err
	}
	merged := patch.Apply(existing, time.Now().UTC())
	_, err = t.tx.Exec(ctx, `
		INSERT INTO payment_requests (`+paymentRequestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (order_id) DO UPDATE
		SET debtor_id = EXCLUDED.debtor_id,
			amount = EXCLUDED.amount,
			credited = EXCLUDED.credited,
			status = EXCLUDED.status,
			bill_code = EXCLUDED.bill_code,
			updated_at = EXCLUDED.updated_at
	`, merged.OrderID, merged.DebtorID, merged.Amount, merged.Credited, merged.Status, merged.BillCode,
		merged.CreatedAt, merged.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to merge payment request: %w", err)
	}
	return merged, nil
}

func scanDebtor(row pgx.Row) (*domain.Debtor, error) {
	var d domain.Debtor
	err := row.Scan(&d.ID, &d.Name, &d.Phone, &d.Note, &d.TotalDebt, &d.TotalPaid, &d.Balance,
		&d.PasswordHash, &d.Version, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDebtorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var txn domain.Transaction
	err := row.Scan(&txn.ID, &txn.DebtorID, &txn.Amount, &txn.Provider, &txn.Status, &txn.Method,
		&txn.Reference, &txn.BillCode, &txn.OrderID, &txn.TransactionTime, &txn.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &txn, nil
}

func scanPaymentRequest(row pgx.Row) (*domain.PaymentRequest, error) {
	var req domain.PaymentRequest
	err := row.Scan(&req.OrderID, &req.DebtorID, &req.Amount, &req.Credited, &req.Status, &req.BillCode,
		&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentRequestNotFound
		}
		return nil, err
	}
	return &req, nil
}
