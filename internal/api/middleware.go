package api

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/g-99215544-beep/pinjamanhutang/internal/app"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const (
	operatorIDKey ContextKey = "operatorID"
	debtorIDKey   ContextKey = "debtorID"
)

// DebtorSessionVerifier resolves a debtor session token to a debtor id.
type DebtorSessionVerifier interface {
	VerifyDebtorSession(token string) (string, error)
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == authHeader || token == "" {
		return "", false
	}
	return token, true
}

// OperatorAuthMiddleware requires an HS256 token signed with secret and carrying role=operator.
func OperatorAuthMiddleware(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}
			if len(key) == 0 {
				http.Error(w, "Operator authentication not configured", http.StatusUnauthorized)
				return
			}
			claims, err := app.ParseSessionToken(token, key, app.RoleOperator)
			if err != nil {
				log.Printf("level=warn component=api msg=\"operator token rejected\" err=%v", err)
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), operatorIDKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// DebtorAuthMiddleware requires a debtor session token issued by Login.
func DebtorAuthMiddleware(verifier DebtorSessionVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}
			debtorID, err := verifier.VerifyDebtorSession(token)
			if err != nil {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), debtorIDKey, debtorID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetOperatorID retrieves the operator subject from the request context.
func GetOperatorID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(operatorIDKey).(string)
	return id, ok
}

// GetDebtorID retrieves the authenticated debtor id from the request context.
func GetDebtorID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(debtorIDKey).(string)
	return id, ok
}
