package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type contextKey string

const OperatorKey contextKey = "operator"

// Operator identifies the caller of an admin endpoint.
type Operator struct {
	Name string
}

func GetOperatorFromContext(ctx context.Context) (*Operator, bool) {
	op, ok := ctx.Value(OperatorKey).(*Operator)
	return op, ok
}

// RequireToken admits requests carrying "Authorization: Bearer <token>".
// An empty token admits everyone as the anonymous operator.
func RequireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			op := &Operator{Name: "anonymous"}
			if token != "" {
				got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
				if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
					return
				}
				op.Name = "token"
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), OperatorKey, op)))
		})
	}
}
