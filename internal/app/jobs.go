/**
 * @description
 * Scheduled job implementations. The ledger audit re-derives every debtor's
 * totals from the transaction history and reports drift; it never repairs data.
 */
package app

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/g-99215544-beep/pinjamanhutang/internal/domain"
)

const (
	auditTimeout   = 5 * time.Minute
	moneyTolerance = 0.005
)

// AuditRepository defines the reads needed by the ledger audit.
type AuditRepository interface {
	ListDebtors(ctx context.Context) ([]domain.Debtor, error)
	SumTransactions(ctx context.Context, debtorID string) (float64, int, error)
}

// LedgerDrift is one debtor whose stored totals disagree with its history.
type LedgerDrift struct {
	DebtorID         string
	StoredTotalPaid  float64
	TransactionSum   float64
	TransactionCount int
	StoredBalance    float64
	DerivedBalance   float64
}

// AuditReport summarises one audit run.
type AuditReport struct {
	Checked int
	Drifted []LedgerDrift
	Errors  int
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo   AuditRepository
	logger *slog.Logger
}

// NewJobs creates a new Jobs runner.
func NewJobs(repo AuditRepository, logger *slog.Logger) *Jobs {
	return &Jobs{repo: repo, logger: logger}
}

// AuditLedger is the cron entry point for RunLedgerAudit.
func (j *Jobs) AuditLedger() {
	j.logger.Info("starting ledger audit job")
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()

	report, err := j.RunLedgerAudit(ctx)
	if err != nil {
		j.logger.Error("ledger audit failed", "error", err)
		return
	}
	j.logger.Info("ledger audit job finished", "checked", report.Checked, "drifted", len(report.Drifted), "errors", report.Errors)
}

// RunLedgerAudit checks that each debtor's TotalPaid equals the sum of its
// transactions and that Balance equals max(0, TotalDebt - TotalPaid).
func (j *Jobs) RunLedgerAudit(ctx context.Context) (AuditReport, error) {
	var report AuditReport

	debtors, err := j.repo.ListDebtors(ctx)
	if err != nil {
		return report, err
	}

	for _, d := range debtors {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		sum, count, err := j.repo.SumTransactions(ctx, d.ID)
		if err != nil {
			report.Errors++
			j.logger.Error("failed to sum transactions", "debtor_id", d.ID, "error", err)
			continue
		}
		report.Checked++

		derived := domain.DeriveBalance(d.TotalDebt, d.TotalPaid)
		if math.Abs(sum-d.TotalPaid) <= moneyTolerance && math.Abs(derived-d.Balance) <= moneyTolerance {
			continue
		}

		drift := LedgerDrift{
			DebtorID:         d.ID,
			StoredTotalPaid:  d.TotalPaid,
			TransactionSum:   sum,
			TransactionCount: count,
			StoredBalance:    d.Balance,
			DerivedBalance:   derived,
		}
		report.Drifted = append(report.Drifted, drift)
		j.logger.Warn("ledger drift detected",
			"debtor_id", d.ID,
			"total_paid", d.TotalPaid,
			"transaction_sum", sum,
			"transaction_count", count,
			"balance", d.Balance,
			"derived_balance", derived,
		)
	}

	return report, nil
}
