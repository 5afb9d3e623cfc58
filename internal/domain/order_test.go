package domain

import (
	"errors"
	"testing"
	"time"
)

func TestNewOrderIDRoundTrip(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	orderID, err := NewOrderID("dbt42", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if orderID != "DEBT-dbt42-1700000000123" {
		t.Fatalf("unexpected order id %q", orderID)
	}

	debtorID, err := ParseOrderID(orderID)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if debtorID != "dbt42" {
		t.Fatalf("expected dbt42, got %q", debtorID)
	}
}

func TestNewOrderIDRejectsDashes(t *testing.T) {
	if _, err := NewOrderID("a-b", time.Now()); !errors.Is(err, ErrInvalidDebtorID) {
		t.Fatalf("expected ErrInvalidDebtorID, got %v", err)
	}
	if _, err := NewOrderID("  ", time.Now()); !errors.Is(err, ErrInvalidDebtorID) {
		t.Fatalf("expected ErrInvalidDebtorID for blank id, got %v", err)
	}
}

func TestParseOrderIDInvalid(t *testing.T) {
	for _, raw := range []string{"", "DEBT", "DEBT-abc", "DEBT--123", "ORDER-abc-1", "garbage"} {
		if _, err := ParseOrderID(raw); !errors.Is(err, ErrInvalidOrderID) {
			t.Fatalf("expected ErrInvalidOrderID for %q, got %v", raw, err)
		}
	}
}

func TestGatewayTransactionID(t *testing.T) {
	if got := GatewayTransactionID("abc123"); got != "gateway_abc123" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestNotificationRequestStatus(t *testing.T) {
	cases := map[string]string{
		"1": PaymentRequestStatusSuccess,
		"3": PaymentRequestStatusFail,
		"2": PaymentRequestStatusPending,
		"":  PaymentRequestStatusPending,
	}
	for status, want := range cases {
		n := GatewayNotification{Status: status}
		if got := n.RequestStatus(); got != want {
			t.Fatalf("status %q: got %q want %q", status, got, want)
		}
	}
}

func TestParseMoney(t *testing.T) {
	if got := ParseMoney(" 12.346 "); got != 12.35 {
		t.Fatalf("expected 12.35, got %v", got)
	}
	if got := ParseMoney("abc"); got != 0 {
		t.Fatalf("expected 0 for garbage, got %v", got)
	}
	if got := ParseMoney("NaN"); got != 0 {
		t.Fatalf("expected 0 for NaN, got %v", got)
	}
}

func TestPaymentRequestPatchApply(t *testing.T) {
	now := time.Unix(100, 0)
	code := "bc1"
	created := PaymentRequestPatch{OrderID: "o1", DebtorID: "d1", Status: PaymentRequestStatusFail}.Apply(nil, now)
	if created.OrderID != "o1" || created.Status != PaymentRequestStatusFail || !created.CreatedAt.Equal(now) {
		t.Fatalf("unexpected created request: %+v", created)
	}

	existing := &PaymentRequest{OrderID: "o1", DebtorID: "d1", Amount: 50, Status: PaymentRequestStatusCreated, CreatedAt: time.Unix(1, 0)}
	merged := PaymentRequestPatch{OrderID: "o1", Status: PaymentRequestStatusSuccess, BillCode: &code}.Apply(existing, now)
	if merged.Amount != 50 || merged.BillCode != "bc1" || merged.Status != PaymentRequestStatusSuccess {
		t.Fatalf("unexpected merged request: %+v", merged)
	}
	if !merged.CreatedAt.Equal(time.Unix(1, 0)) {
		t.Fatalf("created_at should be preserved")
	}
	if existing.Status != PaymentRequestStatusCreated {
		t.Fatalf("apply must not mutate the input")
	}
}
