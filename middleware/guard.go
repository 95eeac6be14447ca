package middleware

import (
	"context"
	"errors"
	"net/http"

	goCred "github.com/MrEthical07/goCred"
)

type appTokenContextKey struct{}

// AppTokenFromContext returns the token RequireToken attached to the request.
func AppTokenFromContext(ctx context.Context) (goCred.AppToken, bool) {
	tok, ok := ctx.Value(appTokenContextKey{}).(goCred.AppToken)
	return tok, ok
}

// RequireToken rejects requests with 503 while the binding has no usable token, and
// otherwise attaches a snapshot of the token to the request context.
func RequireToken(binding goCred.AppBinding) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, err := binding.Token()
			if err != nil {
				status := http.StatusServiceUnavailable
				if errors.Is(err, goCred.ErrUnbound) {
					status = http.StatusBadGateway
				}
				http.Error(w, "upstream credential unavailable", status)
				return
			}

			ctx := context.WithValue(r.Context(), appTokenContextKey{}, tok)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
