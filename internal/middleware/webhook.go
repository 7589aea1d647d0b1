package middleware

import (
	"bytes"
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"
)

const maxSignedBody = 1 << 20

// RequireSecretHeader rejects requests whose header does not carry secret.
// An empty secret disables the check.
func RequireSecretHeader(header, secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(header)
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				slog.Warn("Rejected webhook with bad secret", "path", r.URL.Path)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSignature buffers the body, checks verify(body, header value) and
// restores the body for the next handler. A nil verify disables the check.
func RequireSignature(header string, verify func(body []byte, signature string) error) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if verify == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSignedBody))
			if err != nil {
				http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			if err := verify(body, r.Header.Get(header)); err != nil {
				slog.Warn("Rejected webhook with bad signature", "path", r.URL.Path, "error", err)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}
