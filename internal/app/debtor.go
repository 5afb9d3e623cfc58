package app

import (
	"context"
	"log"
	"math"
	"strings"

	"github.com/g-99215544-beep/pinjamanhutang/internal/domain"
	"github.com/g-99215544-beep/pinjamanhutang/internal/store"
	"github.com/google/uuid"
)

const (
	debtorIDPrefix    = "dbt"
	minPasswordLength = 4
)

// NewDebtorID returns a dash-free identifier safe to embed in order ids.
func NewDebtorID() string {
	return debtorIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// CreateDebtor opens an account. An initial paid amount is capped at the total
// debt and recorded as a manual transaction in the same atomic unit.
func (s *Service) CreateDebtor(ctx context.Context, req domain.CreateDebtorRequest) (*domain.DebtorView, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, newError(ErrValidation, "name is required")
	}
	if !finiteNonNegative(req.TotalDebt) || !finiteNonNegative(req.InitialPaid) {
		return nil, errInvalidAmount
	}
	if len(req.Password) < minPasswordLength {
		return nil, newError(ErrValidation, "password must be at least 4 characters")
	}
	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, wrapError(ErrPersistence, "failed to hash password", err)
	}

	now := s.now()
	debt := domain.RoundMoney(req.TotalDebt)
	paid := math.Min(domain.RoundMoney(req.InitialPaid), debt)
	debtor := &domain.Debtor{
		ID:           NewDebtorID(),
		Name:         name,
		Phone:        strings.TrimSpace(req.Phone),
		Note:         strings.TrimSpace(req.Note),
		TotalDebt:    debt,
		TotalPaid:    paid,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.repo.Atomically(ctx, func(ctx context.Context, tx store.LedgerTx) error {
		created := *debtor
		if err := tx.CreateDebtor(ctx, &created); err != nil {
			return err
		}
		if paid > 0 {
			if err := tx.InsertTransaction(ctx, &domain.Transaction{
				ID:        uuid.NewString(),
				DebtorID:  created.ID,
				Amount:    paid,
				Provider:  domain.ProviderManual,
				Status:    domain.TransactionStatusSuccess,
				Method:    domain.InitialPaidMethod,
				Reference: domain.InitialPaidNote,
				CreatedAt: now,
			}); err != nil {
				return err
			}
		}
		*debtor = created
		return nil
	})
	if err != nil {
		log.Printf("level=error component=service op=create_debtor msg=\"failed to create debtor\" err=%v", err)
		return nil, storeError("failed to create debtor", err)
	}

	log.Printf("level=info component=service op=create_debtor debtor_id=%s total_debt=%.2f initial_paid=%.2f msg=\"debtor created\"", debtor.ID, debt, paid)
	view := domain.NewDebtorView(*debtor)
	return &view, nil
}

// UpdateDebtor applies a partial profile update. Balance is recomputed from the new totals.
func (s *Service) UpdateDebtor(ctx context.Context, debtorID string, req domain.UpdateDebtorRequest) (*domain.DebtorView, error) {
	debtorID = strings.TrimSpace(debtorID)
	if debtorID == "" {
		return nil, errMissingDebtorID
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return nil, newError(ErrValidation, "name is required")
	}
	if req.TotalDebt != nil && !finiteNonNegative(*req.TotalDebt) {
		return nil, errInvalidAmount
	}

	var updated domain.Debtor
	err := s.repo.Atomically(ctx, func(ctx context.Context, tx store.LedgerTx) error {
		d, err := tx.GetDebtor(ctx, debtorID)
		if err != nil {
			return err
		}
		if req.Name != nil {
			d.Name = strings.TrimSpace(*req.Name)
		}
		if req.Phone != nil {
			d.Phone = strings.TrimSpace(*req.Phone)
		}
		if req.Note != nil {
			d.Note = strings.TrimSpace(*req.Note)
		}
		if req.TotalDebt != nil {
			d.TotalDebt = domain.RoundMoney(*req.TotalDebt)
		}
		d.UpdatedAt = s.now()
		if err := tx.UpdateDebtor(ctx, d); err != nil {
			return err
		}
		updated = *d
		return nil
	})
	if err != nil {
		return nil, storeError("failed to update debtor", err)
	}

	log.Printf("level=info component=service op=update_debtor debtor_id=%s total_debt=%.2f balance=%.2f msg=\"debtor updated\"", debtorID, updated.TotalDebt, updated.Balance)
	view := domain.NewDebtorView(updated)
	return &view, nil
}

// ResetDebtorPassword replaces the debtor's credential.
func (s *Service) ResetDebtorPassword(ctx context.Context, debtorID, password string) error {
	debtorID = strings.TrimSpace(debtorID)
	if debtorID == "" {
		return errMissingDebtorID
	}
	if len(password) < minPasswordLength {
		return newError(ErrValidation, "password must be at least 4 characters")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return wrapError(ErrPersistence, "failed to hash password", err)
	}

	err = s.repo.Atomically(ctx, func(ctx context.Context, tx store.LedgerTx) error {
		d, err := tx.GetDebtor(ctx, debtorID)
		if err != nil {
			return err
		}
		d.PasswordHash = hash
		d.UpdatedAt = s.now()
		return tx.UpdateDebtor(ctx, d)
	})
	if err != nil {
		return storeError("failed to reset password", err)
	}
	log.Printf("level=info component=service op=reset_password debtor_id=%s msg=\"debtor password reset\"", debtorID)
	return nil
}

// DeleteDebtor is an administrative removal of an account and its history.
func (s *Service) DeleteDebtor(ctx context.Context, debtorID string) error {
	debtorID = strings.TrimSpace(debtorID)
	if debtorID == "" {
		return errMissingDebtorID
	}
	if err := s.repo.DeleteDebtor(ctx, debtorID); err != nil {
		return storeError("failed to delete debtor", err)
	}
	log.Printf("level=warn component=service op=delete_debtor debtor_id=%s msg=\"debtor deleted\"", debtorID)
	return nil
}

// GetDebtor returns a debtor with its computed status.
func (s *Service) GetDebtor(ctx context.Context, debtorID string) (*domain.DebtorView, error) {
	d, err := s.repo.FindDebtorByID(ctx, strings.TrimSpace(debtorID))
	if err != nil {
		return nil, storeError("failed to load debtor", err)
	}
	view := domain.NewDebtorView(*d)
	return &view, nil
}

// ListDebtors returns every debtor with its computed status.
func (s *Service) ListDebtors(ctx context.Context) ([]domain.DebtorView, error) {
	debtors, err := s.repo.ListDebtors(ctx)
	if err != nil {
		return nil, storeError("failed to list debtors", err)
	}
	views := make([]domain.DebtorView, 0, len(debtors))
	for _, d := range debtors {
		views = append(views, domain.NewDebtorView(d))
	}
	return views, nil
}

// ListTransactions returns a debtor's transactions, newest first.
func (s *Service) ListTransactions(ctx context.Context, debtorID string, limit int) ([]domain.Transaction, error) {
	debtorID = strings.TrimSpace(debtorID)
	if _, err := s.repo.FindDebtorByID(ctx, debtorID); err != nil {
		return nil, storeError("failed to load debtor", err)
	}
	transactions, err := s.repo.ListTransactions(ctx, debtorID, limit)
	if err != nil {
		return nil, storeError("failed to list transactions", err)
	}
	return transactions, nil
}

func finiteNonNegative(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
