package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/g-99215544-beep/pinjamanhutang/internal/domain"
	"github.com/g-99215544-beep/pinjamanhutang/internal/store"
)

const testOrderID = "DEBT-dbt1-1700000000000"

func successNotification(billCode, amount string) domain.GatewayNotification {
	return domain.GatewayNotification{
		Status:          domain.GatewayStatusSuccess,
		BillCode:        billCode,
		OrderID:         testOrderID,
		RefNo:           "TP123",
		Amount:          amount,
		TransactionTime: "2024-01-01 10:00:00",
	}
}

func TestReconcileCallbackCreditsOnce(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "dbt1", 100, 0)
	f.verifier.amount = floatPtr(40)

	first := f.svc.ReconcileCallback(context.Background(), successNotification("bc1", "40"))
	if first.Outcome != OutcomeCredited || first.Credited != 40 {
		t.Fatalf("unexpected first result: %+v", first)
	}
	second := f.svc.ReconcileCallback(context.Background(), successNotification("bc1", "40"))
	if second.Outcome != OutcomeDuplicate {
		t.Fatalf("expected duplicate on replay, got %+v", second)
	}

	d := f.debtor(t, "dbt1")
	if d.TotalPaid != 40 || d.Balance != 60 {
		t.Fatalf("expected a single credit, got paid=%v balance=%v", d.TotalPaid, d.Balance)
	}
	_, count, _ := f.repo.SumTransactions(context.Background(), "dbt1")
	if count != 1 {
		t.Fatalf("expected one transaction, got %d", count)
	}

	txns, _ := f.repo.ListTransactions(context.Background(), "dbt1", 10)
	if txns[0].ID != "gateway_bc1" || txns[0].Provider != domain.ProviderGateway || txns[0].OrderID != testOrderID {
		t.Fatalf("unexpected gateway transaction: %+v", txns[0])
	}
	if f.publisher.count(domain.EventPaymentCredited) != 1 {
		t.Fatalf("expected one credited event")
	}
	f.assertLedgerConsistent(t, "dbt1")
}

func TestReconcileCallbackCapsAtBalance(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "dbt1", 100, 20)
	f.verifier.amount = floatPtr(200)

	res := f.svc.ReconcileCallback(context.Background(), successNotification("bc1", "200"))
	if res.Outcome != OutcomeCredited || res.Credited != 80 || res.Amount != 200 {
		t.Fatalf("unexpected result: %+v", res)
	}

	d := f.debtor(t, "dbt1")
	if d.Balance != 0 || d.TotalPaid != 100 || !d.Status().IsSettled {
		t.Fatalf("expected settled account, got %+v", d)
	}
	req, err := f.repo.FindPaymentRequest(context.Background(), testOrderID)
	if err != nil {
		t.Fatalf("find request: %v", err)
	}
	if req.Status != domain.PaymentRequestStatusSuccess || req.Amount != 200 || req.Credited == nil || *req.Credited != 80 {
		t.Fatalf("unexpected request: %+v", req)
	}
	f.assertLedgerConsistent(t, "dbt1")
}

func TestReconcileCallbackFailedStatus(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "dbt1", 100, 0)
	f.seedRequest(t, testOrderID, "dbt1", "bc1", 40)

	n := successNotification("bc1", "40")
	n.Status = domain.GatewayStatusFail
	res := f.svc.ReconcileCallback(context.Background(), n)
	if res.Outcome != OutcomeStatusRecorded {
		t.Fatalf("unexpected result: %+v", res)
	}
	if f.verifier.calls != 0 {
		t.Fatalf("verification must not run for non-success status")
	}

	req, err := f.repo.FindPaymentRequest(context.Background(), testOrderID)
	if err != nil {
		t.Fatalf("find request: %v", err)
	}
	if req.Status != domain.PaymentRequestStatusFail || req.BillCode != "bc1" {
		t.Fatalf("unexpected request: %+v", req)
	}
	if d := f.debtor(t, "dbt1"); d.TotalPaid != 0 {
		t.Fatalf("failed callback must not mutate the ledger")
	}
}

func TestReconcileCallbackOtherStatusIsPending(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "dbt1", 100, 0)
	f.seedRequest(t, testOrderID, "dbt1", "", 40)

	n := successNotification("bc1", "40")
	n.Status = "2"
	if res := f.svc.ReconcileCallback(context.Background(), n); res.Outcome != OutcomeStatusRecorded {
		t.Fatalf("unexpected result: %+v", res)
	}

	req, err := f.repo.FindPaymentRequest(context.Background(), testOrderID)
	if err != nil {
		t.Fatalf("find request: %v", err)
	}
	if req.Status != domain.PaymentRequestStatusPending || req.BillCode != "bc1" {
		t.Fatalf("expected pending with bill code, got %+v", req)
	}
}

func TestReconcileCallbackNonSuccessNeedsMatchingRequest(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "dbt1", 100, 0)

	unknown := successNotification("bc1", "40")
	unknown.Status = domain.GatewayStatusFail
	if res := f.svc.ReconcileCallback(context.Background(), unknown); res.Outcome != OutcomeIgnored {
		t.Fatalf("expected unknown order to be ignored, got %+v", res)
	}
	if _, err := f.repo.FindPaymentRequest(context.Background(), testOrderID); !errors.Is(err, store.ErrPaymentRequestNotFound) {
		t.Fatalf("status for unknown order must not create a request, got %v", err)
	}

	f.seedRequest(t, testOrderID, "dbt1", "bc1", 40)
	other := successNotification("bc-other", "40")
	other.Status = domain.GatewayStatusFail
	if res := f.svc.ReconcileCallback(context.Background(), other); res.Outcome != OutcomeRejected {
		t.Fatalf("expected status for another bill to be rejected, got %+v", res)
	}
	req, _ := f.repo.FindPaymentRequest(context.Background(), testOrderID)
	if req.Status != domain.PaymentRequestStatusCreated || req.BillCode != "bc1" {
		t.Fatalf("request was overwritten: %+v", req)
	}
}

func TestReconcileCallbackCreditsBillToOneDebtorOnly(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "dbtA", 100, 0)
	f.seed(t, "dbtB", 100, 0)
	f.verifier.amount = floatPtr(40)

	first := successNotification("bcX", "40")
	first.OrderID = "DEBT-dbtA-1700000000000"
	if res := f.svc.ReconcileCallback(context.Background(), first); res.Outcome != OutcomeCredited || res.DebtorID != "dbtA" {
		t.Fatalf("unexpected first result: %+v", res)
	}

	replay := successNotification("bcX", "40")
	replay.OrderID = "DEBT-dbtB-1700000000000"
	if res := f.svc.ReconcileCallback(context.Background(), replay); res.Outcome != OutcomeRejected || res.Credited != 0 {
		t.Fatalf("expected replay under another debtor to be rejected, got %+v", res)
	}

	if d := f.debtor(t, "dbtB"); d.TotalPaid != 0 {
		t.Fatalf("bill credited twice: dbtB paid %v", d.TotalPaid)
	}
	if _, err := f.repo.FindPaymentRequest(context.Background(), replay.OrderID); !errors.Is(err, store.ErrPaymentRequestNotFound) {
		t.Fatalf("rejected callback must not record a request, got %v", err)
	}
	if f.publisher.count(domain.EventPaymentCredited) != 1 {
		t.Fatalf("expected exactly one credited event")
	}
	f.assertLedgerConsistent(t, "dbtA")
}

func TestReconcileCallbackRejectsRequestBoundToOtherBill(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "dbt1", 100, 0)
	f.seedRequest(t, testOrderID, "dbt1", "bc1", 40)
	f.verifier.amount = floatPtr(40)

	res := f.svc.ReconcileCallback(context.Background(), successNotification("bc-other", "40"))
	if res.Outcome != OutcomeRejected {
		t.Fatalf("expected rejection, got %+v", res)
	}
	if d := f.debtor(t, "dbt1"); d.TotalPaid != 0 {
		t.Fatalf("foreign bill credited: %v", d.TotalPaid)
	}
}

func TestReconcileCallbackRejectsReferenceMismatch(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "dbt1", 100, 0)
	f.verifier.err = fmt.Errorf("%w: bill bcX belongs to DEBT-dbtA-1", ErrBillReferenceMismatch)

	res := f.svc.ReconcileCallback(context.Background(), successNotification("bcX", "40"))
	if res.Outcome != OutcomeRejected {
		t.Fatalf("expected rejection, got %+v", res)
	}
	if f.verifier.lastOrderID != testOrderID {
		t.Fatalf("verifier asked about %q", f.verifier.lastOrderID)
	}
	if d := f.debtor(t, "dbt1"); d.TotalPaid != 0 {
		t.Fatalf("mismatched bill credited: %v", d.TotalPaid)
	}
}

func TestReconcileCallbackLateStatusDoesNotRegressSuccess(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "dbt1", 100, 0)
	f.verifier.amount = floatPtr(40)

	f.svc.ReconcileCallback(context.Background(), successNotification("bc1", "40"))
	late := successNotification("bc1", "40")
	late.Status = domain.GatewayStatusFail
	if res := f.svc.ReconcileCallback(context.Background(), late); res.Outcome != OutcomeDuplicate {
		t.Fatalf("expected late status to be ignored, got %+v", res)
	}
	req, _ := f.repo.FindPaymentRequest(context.Background(), testOrderID)
	if req.Status != domain.PaymentRequestStatusSuccess {
		t.Fatalf("success regressed to %q", req.Status)
	}
}

func TestReconcileCallbackIgnoresMalformed(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "dbt1", 100, 0)

	tests := []struct {
		name string
		n    domain.GatewayNotification
	}{
		{name: "missing bill code", n: domain.GatewayNotification{Status: "1", OrderID: testOrderID, Amount: "10"}},
		{name: "bad order id", n: domain.GatewayNotification{Status: "1", BillCode: "bc1", OrderID: "XYZ-1", Amount: "10"}},
		{name: "unknown debtor", n: domain.GatewayNotification{Status: "1", BillCode: "bc2", OrderID: "DEBT-ghost-1", Amount: "10"}},
		{name: "no usable amount", n: domain.GatewayNotification{Status: "1", BillCode: "bc3", OrderID: testOrderID, Amount: "abc"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if res := f.svc.ReconcileCallback(context.Background(), tc.n); res.Outcome != OutcomeIgnored {
				t.Fatalf("expected ignored, got %+v", res)
			}
		})
	}
	if d := f.debtor(t, "dbt1"); d.TotalPaid != 0 {
		t.Fatalf("malformed callbacks must not credit")
	}
}

func TestReconcileCallbackVerificationFallback(t *testing.T) {
	tests := []struct {
		name     string
		verified *float64
		err      error
		claimed  string
		want     float64
	}{
		{name: "verified wins over claimed", verified: floatPtr(25), claimed: "70", want: 25},
		{name: "verification error falls back", err: errors.New("timeout"), claimed: "70", want: 70},
		{name: "unconfirmed falls back", verified: nil, claimed: "35.50", want: 35.5},
		{name: "verified used when claim missing", verified: floatPtr(12), claimed: "", want: 12},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, "dbt1", 100, 0)
			f.verifier.amount = tc.verified
			f.verifier.err = tc.err

			res := f.svc.ReconcileCallback(context.Background(), successNotification("bc1", tc.claimed))
			if res.Outcome != OutcomeCredited || res.Credited != tc.want {
				t.Fatalf("expected credit %v, got %+v", tc.want, res)
			}
			if d := f.debtor(t, "dbt1"); d.TotalPaid != tc.want {
				t.Fatalf("expected total paid %v, got %v", tc.want, d.TotalPaid)
			}
		})
	}
}

func TestReconcileCallbackZeroCreditOnSettledDebt(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "dbt1", 100, 100)
	f.verifier.amount = floatPtr(30)

	res := f.svc.ReconcileCallback(context.Background(), successNotification("bc1", "30"))
	if res.Outcome != OutcomeZeroCredit || res.Credited != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	_, count, _ := f.repo.SumTransactions(context.Background(), "dbt1")
	if count != 1 {
		t.Fatalf("zero credit must not write a transaction, got %d rows", count)
	}
	req, _ := f.repo.FindPaymentRequest(context.Background(), testOrderID)
	if req == nil || req.Status != domain.PaymentRequestStatusSuccess || req.Credited == nil || *req.Credited != 0 {
		t.Fatalf("unexpected request: %+v", req)
	}

	// Raising the debt must not let a replay of the same callback credit.
	debt := 200.0
	if _, err := f.svc.UpdateDebtor(context.Background(), "dbt1", domain.UpdateDebtorRequest{TotalDebt: &debt}); err != nil {
		t.Fatalf("update debtor: %v", err)
	}
	if res := f.svc.ReconcileCallback(context.Background(), successNotification("bc1", "30")); res.Outcome != OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %+v", res)
	}
	if d := f.debtor(t, "dbt1"); d.TotalPaid != 100 {
		t.Fatalf("replay credited: %v", d.TotalPaid)
	}
	if f.publisher.count(domain.EventPaymentCredited) != 0 {
		t.Fatalf("zero credit must not publish")
	}
}

func TestConcurrentManualAndGatewayCredits(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "dbt1", 500, 0)
	f.verifier.amount = floatPtr(80)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.ApplyManualPayment(context.Background(), "dbt1", 5, "", ""); err != nil {
				t.Errorf("manual payment: %v", err)
			}
		}()
	}
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.svc.ReconcileCallback(context.Background(), successNotification("bc1", "80"))
		}()
	}
	wg.Wait()

	d := f.debtor(t, "dbt1")
	if d.TotalPaid != 130 || d.Balance != 370 {
		t.Fatalf("lost or double update: paid=%v balance=%v", d.TotalPaid, d.Balance)
	}
	f.assertLedgerConsistent(t, "dbt1")
}
