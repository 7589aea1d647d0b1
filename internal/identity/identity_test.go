package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAdmins(t *testing.T) {
	admins := NewAdmins(42, 0)
	if !admins.IsAdmin(42) {
		t.Errorf("Expected 42 to be admin")
	}
	if admins.IsAdmin(0) {
		t.Errorf("Zero id must never be admin")
	}
	if admins.IsAdmin(7) {
		t.Errorf("Expected 7 not to be admin")
	}
	var none *Admins
	if none.IsAdmin(42) {
		t.Errorf("Nil admin set must authorize nobody")
	}
}

func TestBearerMiddleware(t *testing.T) {
	var sawAdmin bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAdmin = AdminFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name   string
		token  string
		header string
		want   int
	}{
		{"disabled", "", "Bearer x", http.StatusNotFound},
		{"missing header", "secret", "", http.StatusUnauthorized},
		{"wrong scheme", "secret", "Basic secret", http.StatusUnauthorized},
		{"wrong token", "secret", "Bearer nope", http.StatusUnauthorized},
		{"valid", "secret", "Bearer secret", http.StatusOK},
		{"case-insensitive scheme", "secret", "bearer secret", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sawAdmin = false
			req := httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			BearerMiddleware(tt.token, nil)(next).ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, rr.Code)
			}
			if tt.want == http.StatusOK && !sawAdmin {
				t.Errorf("Expected admin flag in context")
			}
		})
	}
}

func TestIPFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	if got := IPFromRequest(req); got != "10.0.0.1" {
		t.Errorf("Expected 10.0.0.1, got %s", got)
	}
}
