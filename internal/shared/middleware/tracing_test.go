package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTracing_PassesThrough(t *testing.T) {
	var seen *http.Request
	mux := http.NewServeMux()
	mux.HandleFunc("GET /items/{id}", func(w http.ResponseWriter, r *http.Request) {
		seen = r
		w.WriteHeader(http.StatusTeapot)
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/items/42", nil)
	Tracing(mux).ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Errorf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}
	if seen == nil {
		t.Fatal("handler was not called")
	}
	if got := routeOf(seen); got != "/items/{id}" {
		t.Errorf("expected route /items/{id}, got %q", got)
	}
}

func TestRouteOf(t *testing.T) {
	tests := []struct {
		pattern  string
		expected string
	}{
		{"", "unmatched"},
		{"GET /health", "/health"},
		{"/static/", "/static/"},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Pattern = tt.pattern
		if got := routeOf(r); got != tt.expected {
			t.Errorf("routeOf(%q) = %q, want %q", tt.pattern, got, tt.expected)
		}
	}
}
