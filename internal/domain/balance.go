package domain

import "math"

// DebtStatus is the computed settlement view of a debtor's totals.
type DebtStatus struct {
	TotalDebt   float64 `json:"total_debt"`
	TotalPaid   float64 `json:"total_paid"`
	Balance     float64 `json:"balance"`
	IsSettled   bool    `json:"is_settled"`
	PercentPaid float64 `json:"percent_paid"`
}

// ComputeStatus derives balance, settled flag and percentage paid.
// A present, finite storedBalance is used as-is; otherwise the balance is derived.
// Non-finite and negative inputs are clamped to zero.
func ComputeStatus(totalDebt, totalPaid float64, storedBalance *float64) DebtStatus {
	debt := sanitizeMoney(totalDebt)
	paid := sanitizeMoney(totalPaid)

	balance := DeriveBalance(debt, paid)
	if storedBalance != nil && isFinite(*storedBalance) {
		balance = sanitizeMoney(*storedBalance)
	}

	percent := 0.0
	if debt > 0 {
		percent = math.Max(0, math.Min(100, paid/debt*100))
	}

	return DebtStatus{
		TotalDebt:   debt,
		TotalPaid:   paid,
		Balance:     balance,
		IsSettled:   debt > 0 && balance <= 0,
		PercentPaid: percent,
	}
}

// DeriveBalance returns max(0, totalDebt - totalPaid) rounded to cents.
func DeriveBalance(totalDebt, totalPaid float64) float64 {
	return RoundMoney(math.Max(0, sanitizeMoney(totalDebt)-sanitizeMoney(totalPaid)))
}

// RoundMoney rounds to two decimal places.
func RoundMoney(amount float64) float64 {
	if !isFinite(amount) {
		return 0
	}
	return math.Round(amount*100) / 100
}

// ValidAmount reports whether amount is a finite value above zero.
func ValidAmount(amount float64) bool {
	return isFinite(amount) && RoundMoney(amount) > 0
}

func sanitizeMoney(amount float64) float64 {
	if !isFinite(amount) || amount < 0 {
		return 0
	}
	return amount
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
