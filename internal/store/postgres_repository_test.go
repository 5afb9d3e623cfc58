package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "serialization failure", err: &pgconn.PgError{Code: "40001"}, want: true},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, want: true},
		{name: "wrapped serialization failure", err: fmt.Errorf("failed to commit transaction: %w", &pgconn.PgError{Code: "40001"}), want: true},
		{name: "duplicate transaction key", err: &pgconn.PgError{Code: "23505", ConstraintName: "debtor_transactions_pkey"}, want: true},
		{name: "duplicate gateway key", err: fmt.Errorf("failed to insert transaction: %w", &pgconn.PgError{Code: "23505", ConstraintName: "debtor_transactions_gateway_id_key"}), want: true},
		{name: "duplicate payment request", err: &pgconn.PgError{Code: "23505", ConstraintName: "payment_requests_pkey"}, want: false},
		{name: "duplicate debtor", err: &pgconn.PgError{Code: "23505", ConstraintName: "debtors_pkey"}, want: false},
		{name: "check violation", err: &pgconn.PgError{Code: "23514", ConstraintName: "debtors_balance_check"}, want: false},
		{name: "version conflict", err: ErrConflict, want: true},
		{name: "wrapped version conflict", err: fmt.Errorf("update: %w", ErrConflict), want: true},
		{name: "not found", err: ErrDebtorNotFound, want: false},
		{name: "plain error", err: errors.New("connection reset"), want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := isRetryable(tc.err); got != tc.want {
				t.Fatalf("isRetryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestRetryAtomicExhaustsAttempts(t *testing.T) {
	conflict := &pgconn.PgError{Code: "40001"}
	calls := 0
	err := retryAtomic(context.Background(), 3, func(ctx context.Context) error {
		calls++
		return conflict
	})
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "40001" {
		t.Fatalf("expected the last conflict to be wrapped, got %v", err)
	}
}

func TestRetryAtomicRecoversAfterConflict(t *testing.T) {
	calls := 0
	err := retryAtomic(context.Background(), 5, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return ErrConflict
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success on third attempt, got err=%v calls=%d", err, calls)
	}
}

func TestRetryAtomicStopsOnPermanentError(t *testing.T) {
	permanent := &pgconn.PgError{Code: "23505", ConstraintName: "payment_requests_pkey"}
	calls := 0
	err := retryAtomic(context.Background(), 5, func(ctx context.Context) error {
		calls++
		return permanent
	})
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
	if errors.Is(err, ErrRetriesExhausted) || !errors.Is(err, permanent) {
		t.Fatalf("expected the permanent error unchanged, got %v", err)
	}
}

func TestRetryAtomicHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := retryAtomic(ctx, 5, func(ctx context.Context) error {
		calls++
		cancel()
		return ErrConflict
	})
	if calls != 1 || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation after one attempt, got err=%v calls=%d", err, calls)
	}
}
