package domain

import "time"

const (
	EventPaymentCredited = "ledger.payment.credited"
	EventBillCreated     = "ledger.bill.created"
)

// PaymentCreditedEvent is published after a credit has been committed to the ledger.
type PaymentCreditedEvent struct {
	EventID       string    `json:"event_id"`
	DebtorID      string    `json:"debtor_id"`
	TransactionID string    `json:"transaction_id"`
	Provider      string    `json:"provider"`
	Amount        float64   `json:"amount"`
	Requested     float64   `json:"requested,omitempty"`
	Balance       float64   `json:"balance"`
	IsSettled     bool      `json:"is_settled"`
	OrderID       string    `json:"order_id,omitempty"`
	BillCode      string    `json:"bill_code,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// BillCreatedEvent is published once the gateway has issued a bill.
type BillCreatedEvent struct {
	EventID    string    `json:"event_id"`
	DebtorID   string    `json:"debtor_id"`
	OrderID    string    `json:"order_id"`
	BillCode   string    `json:"bill_code"`
	Amount     float64   `json:"amount"`
	OccurredAt time.Time `json:"occurred_at"`
}
