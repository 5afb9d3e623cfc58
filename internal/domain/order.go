package domain

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

const (
	orderIDPrefix        = "DEBT"
	gatewayTransactionID = "gateway_"
)

var (
	ErrInvalidOrderID  = errors.New("invalid order id")
	ErrInvalidDebtorID = errors.New("invalid debtor id")
)

// ValidDebtorID reports whether id can be embedded in an order id.
func ValidDebtorID(id string) bool {
	id = strings.TrimSpace(id)
	return id != "" && !strings.Contains(id, "-")
}

// NewOrderID builds "DEBT-<debtorId>-<unixMillis>".
func NewOrderID(debtorID string, now time.Time) (string, error) {
	if !ValidDebtorID(debtorID) {
		return "", ErrInvalidDebtorID
	}
	return orderIDPrefix + "-" + strings.TrimSpace(debtorID) + "-" + strconv.FormatInt(now.UnixMilli(), 10), nil
}

// ParseOrderID extracts the debtor id from an order id: the DEBT prefix, a
// non-empty second segment and at least one further segment are required.
func ParseOrderID(orderID string) (string, error) {
	parts := strings.Split(strings.TrimSpace(orderID), "-")
	if len(parts) < 3 || parts[0] != orderIDPrefix || parts[1] == "" {
		return "", ErrInvalidOrderID
	}
	return parts[1], nil
}

// GatewayTransactionID is the idempotency key for a gateway credit.
func GatewayTransactionID(billCode string) string {
	return gatewayTransactionID + billCode
}
