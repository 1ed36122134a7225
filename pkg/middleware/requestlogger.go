package middleware

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/storefront/pkg/logger"
)

// RequestLogger stores a request-scoped logger in the context, enriched with
// whatever is known about the request so far (correlation_id, session_id,
// user_id, trace_id, span_id). Handlers retrieve it with logger.FromContext.
//
// Mount it after RequestLogging and Tracing. Middleware that learns more
// about the request later (the cart session scope, Auth) calls Enrich.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if userID := UserIDFromContext(ctx); userID != "" {
				ctx = logger.WithUserID(ctx, userID)
			}
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Enrich rebuilds the request-scoped logger from base after new identifiers
// were added to r's context.
func Enrich(r *http.Request, base *slog.Logger) *http.Request {
	ctx := r.Context()
	return r.WithContext(logger.NewContext(ctx, logger.WithContext(ctx, base)))
}
