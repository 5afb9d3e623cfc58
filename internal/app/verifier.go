package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/g-99215544-beep/pinjamanhutang/pkg/toyyibpay"
)

// ErrBillReferenceMismatch means the gateway reports the bill as paid against a
// different order id than the callback claims.
var ErrBillReferenceMismatch = errors.New("bill paid under a different order id")

// BillTransactionLister is the part of the gateway client used for verification.
type BillTransactionLister interface {
	GetBillTransactions(ctx context.Context, billCode string) ([]toyyibpay.BillTransaction, error)
}

// GatewayVerifier confirms payments by asking the gateway for the bill's paid rows.
type GatewayVerifier struct {
	client BillTransactionLister
}

func NewGatewayVerifier(client BillTransactionLister) *GatewayVerifier {
	return &GatewayVerifier{client: client}
}

// VerifyBillPayment returns the amount of the first paid row for orderID, or nil
// when the gateway has no confirmed payment for the bill. Rows without an
// external reference are accepted; rows that name another order are not.
func (v *GatewayVerifier) VerifyBillPayment(ctx context.Context, billCode, orderID string) (*float64, error) {
	rows, err := v.client.GetBillTransactions(ctx, billCode)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bill transactions: %w", err)
	}
	orderID = strings.TrimSpace(orderID)
	mismatched := ""
	for _, row := range rows {
		if !row.Paid() {
			continue
		}
		amount, ok := row.Amount()
		if !ok || amount <= 0 {
			continue
		}
		if ref := strings.TrimSpace(row.BillExternalRef); ref != "" && ref != orderID {
			mismatched = ref
			continue
		}
		return &amount, nil
	}
	if mismatched != "" {
		return nil, fmt.Errorf("%w: bill %s belongs to %s", ErrBillReferenceMismatch, billCode, mismatched)
	}
	return nil, nil
}
