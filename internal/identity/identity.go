// Package identity provides admin authorization for chat commands and the
// admin HTTP API.
package identity

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
)

type contextKey int

const adminKey contextKey = iota

// Admins is the set of chat user ids allowed to run admin commands.
type Admins struct {
	ids map[int64]struct{}
}

// NewAdmins creates an admin set. Zero ids are ignored, so an unset
// ADMIN_ID authorizes nobody.
func NewAdmins(ids ...int64) *Admins {
	a := &Admins{ids: make(map[int64]struct{}, len(ids))}
	for _, id := range ids {
		if id != 0 {
			a.ids[id] = struct{}{}
		}
	}
	return a
}

// IsAdmin reports whether userID may run admin commands.
func (a *Admins) IsAdmin(userID int64) bool {
	if a == nil {
		return false
	}
	_, ok := a.ids[userID]
	return ok
}

// IDs returns the admin ids in ascending order.
func (a *Admins) IDs() []int64 {
	if a == nil {
		return nil
	}
	ids := make([]int64, 0, len(a.ids))
	for id := range a.ids {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// AdminFromContext reports whether the request was authenticated by
// BearerMiddleware.
func AdminFromContext(ctx context.Context) bool {
	v, _ := ctx.Value(adminKey).(bool)
	return v
}

// BearerMiddleware requires "Authorization: Bearer <token>". With an empty
// token the protected routes respond 404 as if they were not mounted.
func BearerMiddleware(token string, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				http.NotFound(w, r)
				return
			}
			got, ok := bearerToken(r)
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				logger.Warn("Rejected admin API request", "remote_ip", IPFromRequest(r), "path", r.URL.Path)
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), adminKey, true)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, value, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
