package domain

import "encoding/json"

// CreateDebtorRequest carries the fields accepted when an operator opens an account.
type CreateDebtorRequest struct {
	Name        string  `json:"name"`
	Phone       string  `json:"phone"`
	Note        string  `json:"note"`
	TotalDebt   float64 `json:"totalDebt"`
	InitialPaid float64 `json:"initialPaid"`
	Password    string  `json:"password"`
}

// UpdateDebtorRequest is a partial update; nil fields are left unchanged.
type UpdateDebtorRequest struct {
	Name      *string  `json:"name"`
	Phone     *string  `json:"phone"`
	Note      *string  `json:"note"`
	TotalDebt *float64 `json:"totalDebt"`
}

// ManualPaymentRequest is the operator's cash entry.
type ManualPaymentRequest struct {
	Amount    float64 `json:"amount"`
	Method    string  `json:"method"`
	Reference string  `json:"reference"`
}

// BillRequest is the public payload used to start a gateway payment.
// Amount accepts a JSON number or a numeric string.
type BillRequest struct {
	DebtorID  string      `json:"debtorId"`
	Amount    json.Number `json:"amount"`
	ReturnURL string      `json:"returnUrl"`
}

// AmountValue parses Amount; anything unparseable is zero.
func (r BillRequest) AmountValue() float64 {
	return ParseMoney(r.Amount.String())
}

// BillRequestResult is returned to the payer once a bill is issued.
type BillRequestResult struct {
	BillCode   string `json:"billCode"`
	PaymentURL string `json:"paymentUrl"`
	OrderID    string `json:"orderId"`
}

// LoginRequest identifies a debtor by id or phone.
type LoginRequest struct {
	DebtorID string `json:"debtorId"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

// LoginResult holds a signed session token.
type LoginResult struct {
	Token     string     `json:"token"`
	ExpiresAt int64      `json:"expires_at"`
	Debtor    DebtorView `json:"debtor"`
}

// AccountSummary is what a logged-in debtor sees about their own account.
type AccountSummary struct {
	Debtor       DebtorView    `json:"debtor"`
	Transactions []Transaction `json:"transactions"`
}
