package domain

import (
	"strconv"
	"strings"
)

// Gateway status codes as delivered in the callback payload.
const (
	GatewayStatusSuccess = "1"
	GatewayStatusFail    = "3"
)

// GatewayNotification is one webhook delivery from the payment gateway.
// The fields are untrusted and kept as delivered.
type GatewayNotification struct {
	Status          string `json:"status"`
	BillCode        string `json:"billcode"`
	OrderID         string `json:"order_id"`
	RefNo           string `json:"refno"`
	Amount          string `json:"amount"`
	TransactionTime string `json:"transaction_time"`
}

// Normalize trims every field.
func (n GatewayNotification) Normalize() GatewayNotification {
	return GatewayNotification{
		Status:          strings.TrimSpace(n.Status),
		BillCode:        strings.TrimSpace(n.BillCode),
		OrderID:         strings.TrimSpace(n.OrderID),
		RefNo:           strings.TrimSpace(n.RefNo),
		Amount:          strings.TrimSpace(n.Amount),
		TransactionTime: strings.TrimSpace(n.TransactionTime),
	}
}

// ClaimedAmount parses the amount reported in the notification. Unparseable
// or non-finite values yield zero.
func (n GatewayNotification) ClaimedAmount() float64 {
	return ParseMoney(n.Amount)
}

// RequestStatus maps a non-success gateway status to a payment request status.
func (n GatewayNotification) RequestStatus() string {
	switch n.Status {
	case GatewayStatusSuccess:
		return PaymentRequestStatusSuccess
	case GatewayStatusFail:
		return PaymentRequestStatusFail
	default:
		return PaymentRequestStatusPending
	}
}

// ParseMoney parses a decimal string amount, returning zero for anything invalid.
func ParseMoney(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || !isFinite(v) {
		return 0
	}
	return RoundMoney(v)
}
