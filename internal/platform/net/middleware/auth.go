package middleware

import (
	"crypto/subtle"
	"net/http"

	perr "tidemark/internal/platform/errors"
	pnet "tidemark/internal/platform/net"
)

// APIKey guards routes behind a shared X-API-Key header.
// An empty configured key disables the check, which is the local dev default
func APIKey(key string, write func(w http.ResponseWriter, status int, body any)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			got := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				status, body := pnet.Error(perr.Unauthorizedf("invalid api key"), pnet.RequestID(r.Context()))
				write(w, status, body)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
