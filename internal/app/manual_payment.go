package app

import (
	"context"
	"log"
	"strings"

	"github.com/g-99215544-beep/pinjamanhutang/internal/domain"
	"github.com/g-99215544-beep/pinjamanhutang/internal/store"
	"github.com/google/uuid"
)

// ApplyManualPayment records a cash payment taken by the operator. There is no
// upper cap: an operator entry may overpay, and the balance floors at zero.
func (s *Service) ApplyManualPayment(ctx context.Context, debtorID string, amount float64, method, reference string) (*domain.Transaction, error) {
	debtorID = strings.TrimSpace(debtorID)
	if debtorID == "" {
		return nil, errMissingDebtorID
	}
	if !domain.ValidAmount(amount) {
		return nil, errInvalidAmount
	}
	amount = domain.RoundMoney(amount)

	method = strings.TrimSpace(method)
	if method == "" {
		method = domain.DefaultManualMethod
	}

	var (
		txn    *domain.Transaction
		debtor *domain.Debtor
	)
	err := s.repo.Atomically(ctx, func(ctx context.Context, tx store.LedgerTx) error {
		d, err := tx.GetDebtor(ctx, debtorID)
		if err != nil {
			return err
		}
		now := s.now()
		txn = &domain.Transaction{
			ID:        uuid.NewString(),
			DebtorID:  debtorID,
			Amount:    amount,
			Provider:  domain.ProviderManual,
			Status:    domain.TransactionStatusSuccess,
			Method:    method,
			Reference: strings.TrimSpace(reference),
			CreatedAt: now,
		}
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return err
		}
		d.TotalPaid += amount
		d.UpdatedAt = now
		if err := tx.UpdateDebtor(ctx, d); err != nil {
			return err
		}
		debtor = d
		return nil
	})
	if err != nil {
		log.Printf("level=error component=service op=manual_payment debtor_id=%s msg=\"manual payment failed\" err=%v", debtorID, err)
		return nil, storeError("failed to apply manual payment", err)
	}

	log.Printf("level=info component=service op=manual_payment debtor_id=%s transaction_id=%s amount=%.2f balance=%.2f msg=\"manual payment recorded\"", debtorID, txn.ID, amount, debtor.Balance)
	s.publish(ctx, domain.EventPaymentCredited, domain.PaymentCreditedEvent{
		EventID:       uuid.NewString(),
		DebtorID:      debtorID,
		TransactionID: txn.ID,
		Provider:      domain.ProviderManual,
		Amount:        amount,
		Balance:       debtor.Balance,
		IsSettled:     debtor.Status().IsSettled,
		OccurredAt:    txn.CreatedAt,
	})
	return txn, nil
}
