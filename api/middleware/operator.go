package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/ispbox-backend/pkg/logger"
)

const operatorHeader = "X-Operator"

// Operator stamps the calling operator from the upstream admin gateway onto
// the request context and log fields. Authentication happens upstream.
func Operator(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			operator := strings.TrimSpace(r.Header.Get(operatorHeader))
			if operator == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := WithOperator(r.Context(), operator)
			if logg != nil {
				ctx = logg.WithField(ctx, "operator", operator)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PaymentSource reads the gateway name from header. Missing values fall back
// to fallback so single-bank deployments need no extra configuration.
func PaymentSource(header, fallback string, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			source := strings.ToLower(strings.TrimSpace(r.Header.Get(header)))
			if source == "" {
				source = fallback
			}
			ctx := WithPaymentSource(r.Context(), source)
			if logg != nil {
				ctx = logg.WithField(ctx, "payment_source", source)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
