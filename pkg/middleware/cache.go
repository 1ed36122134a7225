package middleware

import (
	"net/http"
)

// NoStore is the Cache-Control value for responses tied to one session.
const NoStore = "no-store"

// CacheControl sets the Cache-Control header on every response.
func CacheControl(value string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", value)
			next.ServeHTTP(w, r)
		})
	}
}
