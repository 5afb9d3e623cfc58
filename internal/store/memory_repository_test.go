package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/g-99215544-beep/pinjamanhutang/internal/domain"
)

func seedDebtor(t *testing.T, repo *MemoryRepository, id string, debt, paid float64) {
	t.Helper()
	err := repo.Atomically(context.Background(), func(ctx context.Context, tx LedgerTx) error {
		return tx.CreateDebtor(ctx, &domain.Debtor{ID: id, Name: id, TotalDebt: debt, TotalPaid: paid, CreatedAt: time.Now()})
	})
	if err != nil {
		t.Fatalf("seed debtor: %v", err)
	}
}

func credit(ctx context.Context, tx LedgerTx, debtorID, txID string, amount float64) error {
	d, err := tx.GetDebtor(ctx, debtorID)
	if err != nil {
		return err
	}
	d.TotalPaid += amount
	if err := tx.InsertTransaction(ctx, &domain.Transaction{ID: txID, DebtorID: debtorID, Amount: amount, Provider: domain.ProviderManual, Status: domain.TransactionStatusSuccess, CreatedAt: time.Now()}); err != nil {
		return err
	}
	return tx.UpdateDebtor(ctx, d)
}

func TestMemoryAtomicallyCommits(t *testing.T) {
	repo := NewMemoryRepository(3)
	seedDebtor(t, repo, "d1", 100, 0)

	if err := repo.Atomically(context.Background(), func(ctx context.Context, tx LedgerTx) error {
		return credit(ctx, tx, "d1", "t1", 40)
	}); err != nil {
		t.Fatalf("atomic credit: %v", err)
	}

	d, err := repo.FindDebtorByID(context.Background(), "d1")
	if err != nil {
		t.Fatalf("find debtor: %v", err)
	}
	if d.TotalPaid != 40 || d.Balance != 60 {
		t.Fatalf("unexpected totals: paid=%v balance=%v", d.TotalPaid, d.Balance)
	}
	sum, count, _ := repo.SumTransactions(context.Background(), "d1")
	if sum != 40 || count != 1 {
		t.Fatalf("unexpected sum=%v count=%d", sum, count)
	}
}

func TestMemoryAtomicallyRetriesOnConflict(t *testing.T) {
	repo := NewMemoryRepository(3)
	seedDebtor(t, repo, "d1", 100, 0)

	attempts := 0
	err := repo.Atomically(context.Background(), func(ctx context.Context, tx LedgerTx) error {
		attempts++
		d, err := tx.GetDebtor(ctx, "d1")
		if err != nil {
			return err
		}
		if attempts == 1 {
			// A competing unit commits between our read and our commit.
			if err := repo.Atomically(ctx, func(ctx context.Context, inner LedgerTx) error {
				return credit(ctx, inner, "d1", "competing", 10)
			}); err != nil {
				return err
			}
		}
		d.TotalPaid += 20
		if err := tx.InsertTransaction(ctx, &domain.Transaction{ID: "mine", DebtorID: "d1", Amount: 20, Provider: domain.ProviderManual, Status: domain.TransactionStatusSuccess}); err != nil {
			return err
		}
		return tx.UpdateDebtor(ctx, d)
	})
	if err != nil {
		t.Fatalf("atomic unit failed: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}

	d, _ := repo.FindDebtorByID(context.Background(), "d1")
	if d.TotalPaid != 30 {
		t.Fatalf("lost update: total paid %v, want 30", d.TotalPaid)
	}
}

func TestMemoryAtomicallyExhaustsRetries(t *testing.T) {
	repo := NewMemoryRepository(2)
	seedDebtor(t, repo, "d1", 100, 0)

	n := 0
	err := repo.Atomically(context.Background(), func(ctx context.Context, tx LedgerTx) error {
		d, err := tx.GetDebtor(ctx, "d1")
		if err != nil {
			return err
		}
		n++
		if err := repo.Atomically(ctx, func(ctx context.Context, inner LedgerTx) error {
			return credit(ctx, inner, "d1", "c"+string(rune('a'+n)), 1)
		}); err != nil {
			return err
		}
		return tx.UpdateDebtor(ctx, d)
	})
	if !errors.Is(err, ErrRetriesExhausted) || !errors.Is(err, ErrConflict) {
		t.Fatalf("expected exhausted conflict, got %v", err)
	}
}

func TestMemoryAtomicallyDiscardsOnError(t *testing.T) {
	repo := NewMemoryRepository(3)
	seedDebtor(t, repo, "d1", 100, 0)
	boom := errors.New("boom")

	err := repo.Atomically(context.Background(), func(ctx context.Context, tx LedgerTx) error {
		if err := credit(ctx, tx, "d1", "t1", 50); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	d, _ := repo.FindDebtorByID(context.Background(), "d1")
	if d.TotalPaid != 0 {
		t.Fatalf("writes from a failed unit leaked: %v", d.TotalPaid)
	}
}

func TestMemoryConcurrentCreditsNoLostUpdate(t *testing.T) {
	repo := NewMemoryRepository(1000)
	seedDebtor(t, repo, "d1", 1000, 0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "t" + string(rune('A'+i))
			if err := repo.Atomically(context.Background(), func(ctx context.Context, tx LedgerTx) error {
				return credit(ctx, tx, "d1", id, 5)
			}); err != nil {
				t.Errorf("credit %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	d, _ := repo.FindDebtorByID(context.Background(), "d1")
	sum, count, _ := repo.SumTransactions(context.Background(), "d1")
	if d.TotalPaid != 100 || sum != 100 || count != 20 {
		t.Fatalf("unexpected totals paid=%v sum=%v count=%d", d.TotalPaid, sum, count)
	}
}

func TestMemoryMergePaymentRequest(t *testing.T) {
	repo := NewMemoryRepository(3)
	ctx := context.Background()
	if err := repo.CreatePaymentRequest(ctx, &domain.PaymentRequest{OrderID: "o1", DebtorID: "d1", Amount: 25, Status: domain.PaymentRequestStatusPending}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.CreatePaymentRequest(ctx, &domain.PaymentRequest{OrderID: "o1"}); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected duplicate key, got %v", err)
	}

	code := "bc"
	if _, err := repo.MergePaymentRequest(ctx, domain.PaymentRequestPatch{OrderID: "o1", Status: domain.PaymentRequestStatusCreated, BillCode: &code}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	req, err := repo.FindPaymentRequest(ctx, "o1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if req.Status != domain.PaymentRequestStatusCreated || req.BillCode != "bc" || req.Amount != 25 {
		t.Fatalf("unexpected merged request: %+v", req)
	}

	if _, err := repo.MergePaymentRequest(ctx, domain.PaymentRequestPatch{OrderID: "o2", DebtorID: "d2", Status: domain.PaymentRequestStatusFail}); err != nil {
		t.Fatalf("merge new: %v", err)
	}
	if req, _ := repo.FindPaymentRequest(ctx, "o2"); req == nil || req.Status != domain.PaymentRequestStatusFail {
		t.Fatalf("expected merged-in fail request, got %+v", req)
	}
}

func TestMemoryListTransactionsNewestFirst(t *testing.T) {
	repo := NewMemoryRepository(3)
	seedDebtor(t, repo, "d1", 100, 0)
	base := time.Unix(1000, 0)
	for i, id := range []string{"a", "b", "c"} {
		at := base.Add(time.Duration(i) * time.Minute)
		err := repo.Atomically(context.Background(), func(ctx context.Context, tx LedgerTx) error {
			return tx.InsertTransaction(ctx, &domain.Transaction{ID: id, DebtorID: "d1", Amount: 1, CreatedAt: at})
		})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	got, _ := repo.ListTransactions(context.Background(), "d1", 2)
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestMemoryDeleteDebtor(t *testing.T) {
	repo := NewMemoryRepository(3)
	seedDebtor(t, repo, "d1", 100, 0)
	if err := repo.DeleteDebtor(context.Background(), "d1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.FindDebtorByID(context.Background(), "d1"); !errors.Is(err, ErrDebtorNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := repo.DeleteDebtor(context.Background(), "d1"); !errors.Is(err, ErrDebtorNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func gatewayCredit(debtorID string) *domain.Transaction {
	return &domain.Transaction{ID: "gateway_bc1", DebtorID: debtorID, Amount: 40, Provider: domain.ProviderGateway, Status: domain.TransactionStatusSuccess, CreatedAt: time.Now()}
}

func TestMemoryGatewayTransactionIsGloballyUnique(t *testing.T) {
	repo := NewMemoryRepository(3)
	seedDebtor(t, repo, "d1", 100, 0)
	seedDebtor(t, repo, "d2", 100, 0)

	if err := repo.Atomically(context.Background(), func(ctx context.Context, tx LedgerTx) error {
		return tx.InsertTransaction(ctx, gatewayCredit("d1"))
	}); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	var owner string
	err := repo.Atomically(context.Background(), func(ctx context.Context, tx LedgerTx) error {
		prior, err := tx.FindGatewayTransaction(ctx, "gateway_bc1")
		if err != nil {
			return err
		}
		owner = prior.DebtorID
		return nil
	})
	if err != nil || owner != "d1" {
		t.Fatalf("expected gateway credit owned by d1, got owner=%q err=%v", owner, err)
	}

	err = repo.Atomically(context.Background(), func(ctx context.Context, tx LedgerTx) error {
		return tx.InsertTransaction(ctx, gatewayCredit("d2"))
	})
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected a second debtor to be refused the key, got %v", err)
	}
	if _, count, _ := repo.SumTransactions(context.Background(), "d2"); count != 0 {
		t.Fatalf("gateway credit duplicated onto d2")
	}

	// The key stays per-provider: a manual row may reuse the id.
	if err := repo.Atomically(context.Background(), func(ctx context.Context, tx LedgerTx) error {
		return tx.InsertTransaction(ctx, &domain.Transaction{ID: "gateway_bc1", DebtorID: "d2", Amount: 5, Provider: domain.ProviderManual, Status: domain.TransactionStatusSuccess})
	}); err != nil {
		t.Fatalf("manual insert: %v", err)
	}
}

func TestMemoryGatewayKeyRaceRetriesAndSeesWinner(t *testing.T) {
	tests := []struct {
		name          string
		competeBefore bool
	}{
		{name: "winner commits before insert", competeBefore: true},
		{name: "winner commits before our commit", competeBefore: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := NewMemoryRepository(3)
			seedDebtor(t, repo, "d1", 100, 0)
			seedDebtor(t, repo, "d2", 100, 0)

			compete := func(ctx context.Context) {
				if err := repo.Atomically(ctx, func(ctx context.Context, other LedgerTx) error {
					return other.InsertTransaction(ctx, gatewayCredit("d1"))
				}); err != nil {
					t.Fatalf("competing insert: %v", err)
				}
			}

			attempts := 0
			owner := ""
			err := repo.Atomically(context.Background(), func(ctx context.Context, tx LedgerTx) error {
				attempts++
				prior, err := tx.FindGatewayTransaction(ctx, "gateway_bc1")
				if err == nil {
					owner = prior.DebtorID
					return nil
				}
				if !errors.Is(err, ErrTransactionNotFound) {
					return err
				}
				if attempts == 1 && tc.competeBefore {
					compete(ctx)
				}
				if err := tx.InsertTransaction(ctx, gatewayCredit("d2")); err != nil {
					return err
				}
				if attempts == 1 && !tc.competeBefore {
					compete(ctx)
				}
				return nil
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if attempts != 2 || owner != "d1" {
				t.Fatalf("expected retry to see d1 as owner, got attempts=%d owner=%q", attempts, owner)
			}
			if _, count, _ := repo.SumTransactions(context.Background(), "d2"); count != 0 {
				t.Fatalf("losing unit wrote a gateway credit")
			}
		})
	}
}
