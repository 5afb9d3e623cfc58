/**
 * @description
 * This file contains the core business logic for the debt-service. The `Service`
 * struct owns every ledger mutation: manual payments, gateway bill requests and
 * webhook reconciliation, plus debtor administration.
 *
 * Key features:
 * - All balance changes run inside `store.Repository.Atomically`, so concurrent
 *   credits against the same debtor never lose an update.
 * - Gateway credits are idempotent on the bill code and capped at the balance owed.
 * - Ledger events are published to RabbitMQ after commit on a best-effort basis.
 *
 * @dependencies
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/toyyibpay, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/g-99215544-beep/pinjamanhutang/internal/store"
	"github.com/g-99215544-beep/pinjamanhutang/pkg/rabbitmq"
	"github.com/g-99215544-beep/pinjamanhutang/pkg/toyyibpay"
)

const (
	DefaultEventsExchange = "ledger_events"

	verificationTimeout = 10 * time.Second
	publishTimeout      = 5 * time.Second
	rateLimitWindow     = time.Minute

	rateLimitScopeBill  = "bill_request"
	rateLimitScopeLogin = "debtor_login"
)

// BillGateway creates payment bills with the external gateway.
type BillGateway interface {
	CreateBill(ctx context.Context, bill toyyibpay.Bill) (string, error)
	PaymentURL(billCode string) string
}

// PaymentVerifier asks the gateway whether a bill was paid for an order. A nil
// amount means the payment could not be confirmed; ErrBillReferenceMismatch means
// the gateway tied the bill to a different order.
type PaymentVerifier interface {
	VerifyBillPayment(ctx context.Context, billCode, orderID string) (*float64, error)
}

// RateLimiter counts attempts per scope and subject within a window.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service provides the core business logic for the ledger.
type Service struct {
	repo           store.Repository
	gateway        BillGateway
	verifier       PaymentVerifier
	eventProducer  rabbitmq.Publisher
	eventsExchange string
	callbackURL    string

	rateLimiter    RateLimiter
	billRateLimit  int
	loginRateLimit int

	sessions *SessionIssuer
	now      func() time.Time
}

// NewService creates a new ledger service instance.
func NewService(repo store.Repository, gateway BillGateway, verifier PaymentVerifier, producer rabbitmq.Publisher, callbackURL string) *Service {
	if producer == nil {
		producer = &rabbitmq.EventProducerFallback{}
	}
	return &Service{
		repo:           repo,
		gateway:        gateway,
		verifier:       verifier,
		eventProducer:  producer,
		eventsExchange: DefaultEventsExchange,
		callbackURL:    strings.TrimSpace(callbackURL),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// SetRateLimiter enables per-subject limits for bill requests and logins.
// A zero limit disables that check.
func (s *Service) SetRateLimiter(limiter RateLimiter, billPerMinute, loginPerMinute int) {
	s.rateLimiter = limiter
	s.billRateLimit = billPerMinute
	s.loginRateLimit = loginPerMinute
}

// SetEventsExchange overrides the exchange ledger events are published to.
func (s *Service) SetEventsExchange(exchange string) {
	if trimmed := strings.TrimSpace(exchange); trimmed != "" {
		s.eventsExchange = trimmed
	}
}

// SetSessionIssuer configures debtor session tokens.
func (s *Service) SetSessionIssuer(issuer *SessionIssuer) {
	s.sessions = issuer
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) consumeRateLimit(ctx context.Context, scope, subject string, limit int) error {
	if s.rateLimiter == nil || limit <= 0 {
		return nil
	}
	count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, scope, subject, limit, rateLimitWindow)
	if err != nil {
		// Redis being down must not block payments.
		log.Printf("level=warn component=service scope=%s subject=%s msg=\"rate limiter unavailable; allowing request\" err=%v", scope, subject, err)
		return nil
	}
	if count > limit {
		log.Printf("level=warn component=service scope=%s subject=%s count=%d limit=%d msg=\"rate limit exceeded\"", scope, subject, count, limit)
		return &RateLimitError{RetryAfterSeconds: retryAfter}
	}
	return nil
}

func (s *Service) publish(ctx context.Context, routingKey string, event interface{}) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.eventProducer.Publish(pubCtx, s.eventsExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=service routing_key=%s msg=\"event publish failed\" err=%v", routingKey, err)
	}
}
