/**
 * @description
 * This file defines the core domain models for the debt-service. A debtor account is the
 * aggregate root: transactions and payment requests live underneath it and are never
 * shared across debtors.
 *
 * @notes
 * - Amounts are whole currency units (RM) with two decimal places. Conversion to minor
 *   units only happens at the gateway client boundary (pkg/toyyibpay).
 * - Balance is a derived field. It is recomputed from TotalDebt and TotalPaid on every
 *   write and is never trusted on its own.
 */

package domain

import (
	"time"
)

const (
	ProviderManual  = "manual"
	ProviderGateway = "gateway"

	TransactionStatusSuccess = "success"

	PaymentRequestStatusPending = "pending"
	PaymentRequestStatusCreated = "created"
	PaymentRequestStatusSuccess = "success"
	PaymentRequestStatusFail    = "fail"

	DefaultManualMethod = "Tunai"
	InitialPaidMethod   = "Baki Awal"
	InitialPaidNote     = "Rekod bayaran sedia ada semasa pendaftaran"
	GatewayMethod       = "FPX"
)

// Debtor represents one person's debt account.
// It maps directly to the `debtors` table in the database.
type Debtor struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Phone        string    `json:"phone"`
	Note         string    `json:"note"`
	TotalDebt    float64   `json:"total_debt"`
	TotalPaid    float64   `json:"total_paid"`
	Balance      float64   `json:"balance"`
	PasswordHash string    `json:"-"`
	Version      int64     `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Recompute normalizes the totals and derives Balance from them.
func (d *Debtor) Recompute() {
	d.TotalDebt = RoundMoney(sanitizeMoney(d.TotalDebt))
	d.TotalPaid = RoundMoney(sanitizeMoney(d.TotalPaid))
	d.Balance = DeriveBalance(d.TotalDebt, d.TotalPaid)
}

// Status reports the settlement status using the stored balance with the derived fallback.
func (d *Debtor) Status() DebtStatus {
	balance := d.Balance
	return ComputeStatus(d.TotalDebt, d.TotalPaid, &balance)
}

// Transaction is an immutable, append-only credit recorded under a debtor.
// Only successful credits are persisted.
type Transaction struct {
	ID              string    `json:"id"`
	DebtorID        string    `json:"debtor_id"`
	Amount          float64   `json:"amount"`
	Provider        string    `json:"provider"`
	Status          string    `json:"status"`
	Method          string    `json:"method,omitempty"`
	Reference       string    `json:"reference,omitempty"`
	BillCode        string    `json:"bill_code,omitempty"`
	OrderID         string    `json:"order_id,omitempty"`
	TransactionTime string    `json:"transaction_time,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// PaymentRequest tracks one attempt to pay through the gateway, keyed by OrderID.
// Amount holds the requested amount until a success callback replaces it with the
// gateway-reported figure; Credited holds what the ledger actually allowed.
type PaymentRequest struct {
	OrderID   string    `json:"order_id"`
	DebtorID  string    `json:"debtor_id"`
	Amount    float64   `json:"amount"`
	Credited  *float64  `json:"credited,omitempty"`
	Status    string    `json:"status"`
	BillCode  string    `json:"bill_code,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BelongsTo reports whether a callback for debtorID and billCode may update this
// request. A request without a bill code accepts the first one reported.
func (r *PaymentRequest) BelongsTo(debtorID, billCode string) bool {
	return r.DebtorID == debtorID && (r.BillCode == "" || r.BillCode == billCode)
}

// PaymentRequestPatch is a set-with-merge update. Nil fields keep their stored value;
// a missing request is created from the fields that are present.
type PaymentRequestPatch struct {
	OrderID  string
	DebtorID string
	Status   string
	BillCode *string
	Amount   *float64
	Credited *float64
}

// Apply merges the patch into req (which may be nil) and returns the merged request.
func (p PaymentRequestPatch) Apply(req *PaymentRequest, now time.Time) *PaymentRequest {
	merged := PaymentRequest{
		OrderID:   p.OrderID,
		DebtorID:  p.DebtorID,
		CreatedAt: now,
	}
	if req != nil {
		merged = *req
	}
	if p.Status != "" {
		merged.Status = p.Status
	}
	if p.BillCode != nil {
		merged.BillCode = *p.BillCode
	}
	if p.Amount != nil {
		merged.Amount = *p.Amount
	}
	if p.Credited != nil {
		credited := *p.Credited
		merged.Credited = &credited
	}
	merged.UpdatedAt = now
	return &merged
}

// DebtorView is the read model returned to operators and debtors.
type DebtorView struct {
	Debtor
	Status DebtStatus `json:"status"`
}

// NewDebtorView pairs a debtor with its computed status.
func NewDebtorView(d Debtor) DebtorView {
	return DebtorView{Debtor: d, Status: d.Status()}
}
