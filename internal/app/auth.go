package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/g-99215544-beep/pinjamanhutang/internal/domain"
	"github.com/g-99215544-beep/pinjamanhutang/internal/store"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	RoleDebtor   = "debtor"
	RoleOperator = "operator"

	sessionIssuer     = "pinjamanhutang"
	defaultSessionTTL = 12 * time.Hour
	summaryTxnLimit   = 20
)

// HashPassword hashes a debtor credential with bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// SessionClaims are the claims carried by debtor and operator tokens.
type SessionClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// SessionIssuer signs and verifies HS256 session tokens.
type SessionIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSessionIssuer(secret string, ttl time.Duration) *SessionIssuer {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &SessionIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for subject with role.
func (i *SessionIssuer) Issue(subject, role string) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(i.ttl)
	claims := SessionClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    sessionIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify parses a token and checks its signature, expiry and role.
func (i *SessionIssuer) Verify(tokenString, role string) (*SessionClaims, error) {
	return ParseSessionToken(tokenString, i.secret, role)
}

// ParseSessionToken validates an HS256 token signed with secret and requires role.
func ParseSessionToken(tokenString string, secret []byte, role string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Role != role {
		return nil, fmt.Errorf("token role %q is not %q", claims.Role, role)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// Login identifies the debtor by id or phone and then checks the password.
func (s *Service) Login(ctx context.Context, req domain.LoginRequest) (*domain.LoginResult, error) {
	if s.sessions == nil {
		return nil, errors.New("session issuer not configured")
	}
	debtorID := strings.TrimSpace(req.DebtorID)
	phone := strings.TrimSpace(req.Phone)
	if (debtorID == "" && phone == "") || req.Password == "" {
		return nil, newError(ErrValidation, "debtor id or phone and password are required")
	}

	subject := debtorID
	if subject == "" {
		subject = phone
	}
	if err := s.consumeRateLimit(ctx, rateLimitScopeLogin, subject, s.loginRateLimit); err != nil {
		return nil, err
	}

	var (
		debtor *domain.Debtor
		err    error
	)
	if debtorID != "" {
		debtor, err = s.repo.FindDebtorByID(ctx, debtorID)
	} else {
		debtor, err = s.repo.FindDebtorByPhone(ctx, phone)
	}
	if errors.Is(err, store.ErrDebtorNotFound) {
		log.Printf("level=warn component=service op=login subject=%s msg=\"login for unknown debtor\"", subject)
		return nil, newError(ErrInvalidCredentials, "invalid credentials")
	}
	if err != nil {
		return nil, storeError("failed to load debtor", err)
	}

	if debtor.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(debtor.PasswordHash), []byte(req.Password)) != nil {
		log.Printf("level=warn component=service op=login debtor_id=%s msg=\"invalid password\"", debtor.ID)
		return nil, newError(ErrInvalidCredentials, "invalid credentials")
	}

	token, expiresAt, err := s.sessions.Issue(debtor.ID, RoleDebtor)
	if err != nil {
		return nil, wrapError(ErrPersistence, "failed to sign session", err)
	}
	log.Printf("level=info component=service op=login debtor_id=%s msg=\"debtor logged in\"", debtor.ID)
	return &domain.LoginResult{
		Token:     token,
		ExpiresAt: expiresAt.Unix(),
		Debtor:    domain.NewDebtorView(*debtor),
	}, nil
}

// VerifyDebtorSession returns the debtor id carried by a session token.
func (s *Service) VerifyDebtorSession(token string) (string, error) {
	if s.sessions == nil {
		return "", errors.New("session issuer not configured")
	}
	claims, err := s.sessions.Verify(token, RoleDebtor)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// GetAccountSummary is the debtor's own view of their account.
func (s *Service) GetAccountSummary(ctx context.Context, debtorID string) (*domain.AccountSummary, error) {
	view, err := s.GetDebtor(ctx, debtorID)
	if err != nil {
		return nil, err
	}
	transactions, err := s.repo.ListTransactions(ctx, view.ID, summaryTxnLimit)
	if err != nil {
		return nil, storeError("failed to list transactions", err)
	}
	return &domain.AccountSummary{Debtor: *view, Transactions: transactions}, nil
}
