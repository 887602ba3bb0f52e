package middleware

import (
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// MaxBodySize caps request bodies at n bytes. A declared length over the cap
// is refused with 413; otherwise reads past the cap fail, so JSON decoding of
// an oversized body returns an error.
func MaxBodySize(n int64) func(http.Handler) http.Handler {
	limit := chimw.RequestSize(n)
	return func(next http.Handler) http.Handler {
		limited := limit(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > n {
				writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}
