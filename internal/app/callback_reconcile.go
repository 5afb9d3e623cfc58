/**
 * @description
 * Webhook reconciliation for gateway payments. Deliveries may be duplicated,
 * reordered, delayed or carry amounts nobody has checked yet; this file turns
 * them into at most one ledger credit per bill code, across all debtors.
 *
 * @notes
 * - ReconcileCallback never returns an error; the HTTP layer always acknowledges.
 * - The existence check on the idempotency key and the credit share one atomic unit.
 */

package app

import (
	"context"
	"errors"
	"log"
	"math"

	"github.com/g-99215544-beep/pinjamanhutang/internal/domain"
	"github.com/g-99215544-beep/pinjamanhutang/internal/store"
	"github.com/google/uuid"
)

// ReconcileOutcome describes what a callback delivery did to the ledger.
type ReconcileOutcome string

const (
	OutcomeIgnored        ReconcileOutcome = "ignored"
	OutcomeStatusRecorded ReconcileOutcome = "status_recorded"
	OutcomeCredited       ReconcileOutcome = "credited"
	OutcomeZeroCredit     ReconcileOutcome = "zero_credit"
	OutcomeDuplicate      ReconcileOutcome = "duplicate"
	OutcomeRejected       ReconcileOutcome = "rejected"
	OutcomeFailed         ReconcileOutcome = "failed"
)

// ReconcileResult is returned for logging and tests.
type ReconcileResult struct {
	Outcome  ReconcileOutcome
	DebtorID string
	Amount   float64
	Credited float64
}

// ReconcileCallback applies one gateway notification to the ledger.
func (s *Service) ReconcileCallback(ctx context.Context, notification domain.GatewayNotification) ReconcileResult {
	n := notification.Normalize()
	if n.BillCode == "" {
		log.Printf("level=info component=reconciler msg=\"callback without bill code ignored\" status=%q", n.Status)
		return ReconcileResult{Outcome: OutcomeIgnored}
	}

	debtorID, err := domain.ParseOrderID(n.OrderID)
	if err != nil {
		log.Printf("level=warn component=reconciler bill_code=%s order_id=%q msg=\"unparseable order id ignored\"", n.BillCode, n.OrderID)
		return ReconcileResult{Outcome: OutcomeIgnored}
	}

	if n.Status != domain.GatewayStatusSuccess {
		return s.recordNonSuccess(ctx, n, debtorID)
	}

	amount, err := s.confirmedAmount(ctx, n)
	if err != nil {
		log.Printf("level=warn component=reconciler bill_code=%s order_id=%s msg=\"gateway ties bill to another order; callback rejected\" err=%v", n.BillCode, n.OrderID, err)
		return ReconcileResult{Outcome: OutcomeRejected, DebtorID: debtorID}
	}
	if amount <= 0 {
		log.Printf("level=warn component=reconciler bill_code=%s order_id=%s msg=\"success callback without a usable amount ignored\"", n.BillCode, n.OrderID)
		return ReconcileResult{Outcome: OutcomeIgnored, DebtorID: debtorID}
	}

	return s.creditGatewayPayment(ctx, n, debtorID, amount)
}

// recordNonSuccess marks a known request fail or pending. Unknown orders and
// requests bound to another bill are left alone, and a request that already
// reached success is never regressed.
func (s *Service) recordNonSuccess(ctx context.Context, n domain.GatewayNotification, debtorID string) ReconcileResult {
	status := n.RequestStatus()
	billCode := n.BillCode
	var outcome ReconcileOutcome

	err := s.repo.Atomically(ctx, func(ctx context.Context, tx store.LedgerTx) error {
		outcome = ""
		existing, err := tx.GetPaymentRequest(ctx, n.OrderID)
		switch {
		case errors.Is(err, store.ErrPaymentRequestNotFound):
			outcome = OutcomeIgnored
			return nil
		case err != nil:
			return err
		case !existing.BelongsTo(debtorID, billCode):
			outcome = OutcomeRejected
			return nil
		case existing.Status == domain.PaymentRequestStatusSuccess:
			outcome = OutcomeDuplicate
			return nil
		}
		if _, err := tx.MergePaymentRequest(ctx, domain.PaymentRequestPatch{
			OrderID:  n.OrderID,
			DebtorID: debtorID,
			Status:   status,
			BillCode: &billCode,
		}); err != nil {
			return err
		}
		outcome = OutcomeStatusRecorded
		return nil
	})
	if err != nil {
		log.Printf("level=error component=reconciler bill_code=%s order_id=%s status=%s msg=\"failed to record callback status\" err=%v", n.BillCode, n.OrderID, status, err)
		return ReconcileResult{Outcome: OutcomeFailed, DebtorID: debtorID}
	}
	switch outcome {
	case OutcomeIgnored:
		log.Printf("level=warn component=reconciler bill_code=%s order_id=%s status=%s msg=\"status for unknown order ignored\"", n.BillCode, n.OrderID, status)
	case OutcomeRejected:
		log.Printf("level=warn component=reconciler bill_code=%s order_id=%s status=%s msg=\"status for another bill rejected\"", n.BillCode, n.OrderID, status)
	case OutcomeDuplicate:
		log.Printf("level=info component=reconciler bill_code=%s order_id=%s status=%s msg=\"late status for settled request ignored\"", n.BillCode, n.OrderID, status)
	default:
		log.Printf("level=info component=reconciler bill_code=%s order_id=%s status=%s msg=\"callback status recorded\"", n.BillCode, n.OrderID, status)
	}
	return ReconcileResult{Outcome: outcome, DebtorID: debtorID}
}

// confirmedAmount prefers the verified gateway amount and falls back to the claimed one.
// Only a gateway answer that ties the bill to another order is an error.
func (s *Service) confirmedAmount(ctx context.Context, n domain.GatewayNotification) (float64, error) {
	claimed := n.ClaimedAmount()
	if s.verifier == nil {
		return claimed, nil
	}

	verifyCtx, cancel := context.WithTimeout(ctx, verificationTimeout)
	defer cancel()

	verified, err := s.verifier.VerifyBillPayment(verifyCtx, n.BillCode, n.OrderID)
	switch {
	case errors.Is(err, ErrBillReferenceMismatch):
		return 0, err
	case err != nil:
		log.Printf("level=warn component=reconciler bill_code=%s msg=\"payment verification failed; using claimed amount\" claimed=%.2f err=%v", n.BillCode, claimed, err)
		return claimed, nil
	case verified == nil || !domain.ValidAmount(*verified):
		log.Printf("level=warn component=reconciler bill_code=%s msg=\"payment not confirmed by gateway; using claimed amount\" claimed=%.2f", n.BillCode, claimed)
		return claimed, nil
	}

	amount := domain.RoundMoney(*verified)
	if claimed > 0 && amount != claimed {
		log.Printf("level=warn component=reconciler bill_code=%s msg=\"claimed amount differs from verified amount\" claimed=%.2f verified=%.2f", n.BillCode, claimed, amount)
	}
	return amount, nil
}

func (s *Service) creditGatewayPayment(ctx context.Context, n domain.GatewayNotification, debtorID string, amount float64) ReconcileResult {
	key := domain.GatewayTransactionID(n.BillCode)
	billCode := n.BillCode

	var (
		outcome ReconcileOutcome
		owner   string
		credit  float64
		debtor  *domain.Debtor
		txn     *domain.Transaction
	)

	err := s.repo.Atomically(ctx, func(ctx context.Context, tx store.LedgerTx) error {
		outcome, owner, credit, debtor, txn = "", "", 0, nil, nil

		d, err := tx.GetDebtor(ctx, debtorID)
		if errors.Is(err, store.ErrDebtorNotFound) {
			outcome = OutcomeIgnored
			return nil
		}
		if err != nil {
			return err
		}

		existing, err := tx.GetPaymentRequest(ctx, n.OrderID)
		if err != nil && !errors.Is(err, store.ErrPaymentRequestNotFound) {
			return err
		}
		if existing != nil && !existing.BelongsTo(debtorID, billCode) {
			outcome = OutcomeRejected
			return nil
		}

		if prior, err := tx.FindGatewayTransaction(ctx, key); err == nil {
			if prior.DebtorID != debtorID {
				outcome, owner = OutcomeRejected, prior.DebtorID
				return nil
			}
			outcome = OutcomeDuplicate
			if existing == nil {
				return nil
			}
			_, err := tx.MergePaymentRequest(ctx, domain.PaymentRequestPatch{
				OrderID:  n.OrderID,
				DebtorID: debtorID,
				Status:   domain.PaymentRequestStatusSuccess,
				BillCode: &billCode,
			})
			return err
		} else if !errors.Is(err, store.ErrTransactionNotFound) {
			return err
		}

		if existing != nil && existing.Status == domain.PaymentRequestStatusSuccess && existing.Credited != nil {
			outcome = OutcomeDuplicate
			return nil
		}

		credit = domain.RoundMoney(math.Min(amount, domain.DeriveBalance(d.TotalDebt, d.TotalPaid)))
		now := s.now()
		if credit > 0 {
			txn = &domain.Transaction{
				ID:              key,
				DebtorID:        debtorID,
				Amount:          credit,
				Provider:        domain.ProviderGateway,
				Status:          domain.TransactionStatusSuccess,
				Method:          domain.GatewayMethod,
				Reference:       n.RefNo,
				BillCode:        n.BillCode,
				OrderID:         n.OrderID,
				TransactionTime: n.TransactionTime,
				CreatedAt:       now,
			}
			if err := tx.InsertTransaction(ctx, txn); err != nil {
				return err
			}
			d.TotalPaid += credit
			d.UpdatedAt = now
			if err := tx.UpdateDebtor(ctx, d); err != nil {
				return err
			}
			outcome = OutcomeCredited
		} else {
			outcome = OutcomeZeroCredit
		}

		gatewayAmount := amount
		credited := credit
		if _, err := tx.MergePaymentRequest(ctx, domain.PaymentRequestPatch{
			OrderID:  n.OrderID,
			DebtorID: debtorID,
			Status:   domain.PaymentRequestStatusSuccess,
			BillCode: &billCode,
			Amount:   &gatewayAmount,
			Credited: &credited,
		}); err != nil {
			return err
		}
		debtor = d
		return nil
	})
	if err != nil {
		log.Printf("level=error component=reconciler debtor_id=%s bill_code=%s order_id=%s msg=\"gateway credit failed\" err=%v", debtorID, n.BillCode, n.OrderID, err)
		return ReconcileResult{Outcome: OutcomeFailed, DebtorID: debtorID, Amount: amount}
	}

	result := ReconcileResult{Outcome: outcome, DebtorID: debtorID, Amount: amount, Credited: credit}
	switch outcome {
	case OutcomeIgnored:
		log.Printf("level=warn component=reconciler debtor_id=%s bill_code=%s msg=\"callback for unknown debtor ignored\"", debtorID, n.BillCode)
		return result
	case OutcomeDuplicate:
		log.Printf("level=info component=reconciler debtor_id=%s bill_code=%s msg=\"duplicate callback; already credited\"", debtorID, n.BillCode)
		return result
	case OutcomeRejected:
		log.Printf("level=warn component=reconciler debtor_id=%s bill_code=%s order_id=%s credited_to=%q msg=\"bill belongs to another order or debtor; callback rejected\"", debtorID, n.BillCode, n.OrderID, owner)
		return result
	}

	if credit < amount {
		log.Printf("level=warn component=reconciler event=overpayment debtor_id=%s bill_code=%s order_id=%s amount=%.2f credited=%.2f excess=%.2f msg=\"gateway amount exceeds balance; excess not credited\"",
			debtorID, n.BillCode, n.OrderID, amount, credit, domain.RoundMoney(amount-credit))
	}
	if outcome == OutcomeZeroCredit {
		return result
	}

	log.Printf("level=info component=reconciler debtor_id=%s bill_code=%s order_id=%s credited=%.2f balance=%.2f msg=\"gateway payment credited\"", debtorID, n.BillCode, n.OrderID, credit, debtor.Balance)
	s.publish(ctx, domain.EventPaymentCredited, domain.PaymentCreditedEvent{
		EventID:       uuid.NewString(),
		DebtorID:      debtorID,
		TransactionID: txn.ID,
		Provider:      domain.ProviderGateway,
		Amount:        credit,
		Requested:     amount,
		Balance:       debtor.Balance,
		IsSettled:     debtor.Status().IsSettled,
		OrderID:       n.OrderID,
		BillCode:      n.BillCode,
		OccurredAt:    txn.CreatedAt,
	})
	return result
}
