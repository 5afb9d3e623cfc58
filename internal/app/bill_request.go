package app

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/g-99215544-beep/pinjamanhutang/internal/domain"
	"github.com/g-99215544-beep/pinjamanhutang/internal/store"
	"github.com/g-99215544-beep/pinjamanhutang/pkg/toyyibpay"
	"github.com/google/uuid"
)

const (
	defaultBillName        = "Bayaran Hutang"
	defaultBillDescription = "Bayaran hutang"
	maxOrderIDAttempts     = 5
)

// IssueBillRequest starts a gateway payment for part or all of a debtor's balance.
// The amount may never exceed the balance at request time; the cap is enforced a
// second time when the gateway reports the payment.
func (s *Service) IssueBillRequest(ctx context.Context, debtorID string, amount float64, returnURL string) (*domain.BillRequestResult, error) {
	debtorID = strings.TrimSpace(debtorID)
	if debtorID == "" {
		return nil, errMissingDebtorID
	}
	if !domain.ValidAmount(amount) {
		return nil, errInvalidAmount
	}
	if !domain.ValidDebtorID(debtorID) {
		return nil, errDebtorNotFound
	}
	amount = domain.RoundMoney(amount)

	if err := s.consumeRateLimit(ctx, rateLimitScopeBill, debtorID, s.billRateLimit); err != nil {
		return nil, err
	}

	debtor, err := s.repo.FindDebtorByID(ctx, debtorID)
	if err != nil {
		return nil, storeError("failed to load debtor", err)
	}
	balance := domain.DeriveBalance(debtor.TotalDebt, debtor.TotalPaid)
	if balance <= 0 {
		return nil, errDebtSettled
	}
	if amount > balance {
		return nil, errAmountExceedsDue
	}

	now := s.now()
	orderID, err := s.createPendingRequest(ctx, debtorID, amount, now)
	if err != nil {
		return nil, err
	}

	billCode, err := s.gateway.CreateBill(ctx, buildBill(debtor, amount, returnURL, s.callbackURL, orderID))
	if err != nil {
		log.Printf("level=error component=service op=bill_request order_id=%s msg=\"gateway createBill failed\" err=%v", orderID, err)
		var apiErr *toyyibpay.APIError
		if errors.As(err, &apiErr) {
			return nil, wrapError(ErrExternalService, "payment gateway rejected the bill", err)
		}
		return nil, wrapError(ErrExternalService, "payment gateway unavailable", err)
	}

	if _, err := s.repo.MergePaymentRequest(ctx, domain.PaymentRequestPatch{
		OrderID:  orderID,
		DebtorID: debtorID,
		Status:   domain.PaymentRequestStatusCreated,
		BillCode: &billCode,
	}); err != nil {
		log.Printf("level=error component=service op=bill_request order_id=%s bill_code=%s msg=\"failed to attach bill code\" err=%v", orderID, billCode, err)
		return nil, storeError("failed to update payment request", err)
	}

	log.Printf("level=info component=service op=bill_request debtor_id=%s order_id=%s bill_code=%s amount=%.2f msg=\"bill created\"", debtorID, orderID, billCode, amount)
	s.publish(ctx, domain.EventBillCreated, domain.BillCreatedEvent{
		EventID:    uuid.NewString(),
		DebtorID:   debtorID,
		OrderID:    orderID,
		BillCode:   billCode,
		Amount:     amount,
		OccurredAt: now,
	})

	return &domain.BillRequestResult{
		BillCode:   billCode,
		PaymentURL: s.gateway.PaymentURL(billCode),
		OrderID:    orderID,
	}, nil
}

// createPendingRequest writes the pending payment request. Order ids carry a
// millisecond timestamp, so a collision moves the stamp forward by 1ms.
func (s *Service) createPendingRequest(ctx context.Context, debtorID string, amount float64, now time.Time) (string, error) {
	for attempt := 0; ; attempt++ {
		orderID, err := domain.NewOrderID(debtorID, now.Add(time.Duration(attempt)*time.Millisecond))
		if err != nil {
			return "", wrapError(ErrValidation, "invalid debtor id", err)
		}

		err = s.repo.CreatePaymentRequest(ctx, &domain.PaymentRequest{
			OrderID:   orderID,
			DebtorID:  debtorID,
			Amount:    amount,
			Status:    domain.PaymentRequestStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err == nil {
			return orderID, nil
		}
		if errors.Is(err, store.ErrDuplicateKey) && attempt+1 < maxOrderIDAttempts {
			continue
		}
		log.Printf("level=error component=service op=bill_request order_id=%s msg=\"failed to write payment request\" err=%v", orderID, err)
		return "", storeError("failed to create payment request", err)
	}
}

func buildBill(debtor *domain.Debtor, amount float64, returnURL, callbackURL, orderID string) toyyibpay.Bill {
	name := strings.TrimSpace(debtor.Name)
	billName := defaultBillName
	description := defaultBillDescription + " untuk penghutang"
	if name != "" {
		billName = defaultBillName + " " + name
		description = defaultBillDescription + " untuk " + name
	}
	return toyyibpay.Bill{
		Name:        billName,
		Description: description,
		Amount:      amount,
		ReturnURL:   strings.TrimSpace(returnURL),
		CallbackURL: callbackURL,
		ExternalRef: orderID,
		PayerName:   name,
		PayerPhone:  strings.TrimSpace(debtor.Phone),
	}
}
