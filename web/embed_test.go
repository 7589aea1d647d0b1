package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerServesChatPage(t *testing.T) {
	h := Handler()

	for _, path := range []string{"/", "/anything/else"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))

		if rr.Code != http.StatusOK {
			t.Errorf("%s: expected status 200, got %d", path, rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "/ws/chat") {
			t.Errorf("%s: expected the chat page, got %q", path, rr.Body.String())
		}
	}
}
