package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIsHostAllowed(t *testing.T) {
	tests := []struct {
		name         string
		host         string
		allowedHosts []string
		want         bool
	}{
		{"empty allowed hosts returns true", "example.com", nil, true},
		{"exact match", "example.com:8080", []string{"example.com:8080"}, true},
		{"host without port matches allowed with port", "example.com", []string{"example.com:8080"}, true},
		{"host with port matches allowed without port", "example.com:8080", []string{"example.com"}, true},
		{"IPv6 loopback with port", "[::1]:8080", []string{"[::1]:8080"}, true},
		{"IPv6 with port matches allowed without port", "[::1]:8080", []string{"::1"}, true},
		{"case insensitive match", "EXAMPLE.com", []string{"example.COM"}, true},
		{"different host", "evil.com", []string{"example.com"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isHostAllowed(tt.host, tt.allowedHosts); got != tt.want {
				t.Errorf("isHostAllowed(%q, %v) = %v, want %v", tt.host, tt.allowedHosts, got, tt.want)
			}
		})
	}
}

func TestNoStore(t *testing.T) {
	rr := httptest.NewRecorder()
	NoStore(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/open-finance/connections", nil))

	if got := rr.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
}

func TestRedirectToHTTPS(t *testing.T) {
	handler := RedirectToHTTPS([]string{"api.example.com"})

	req := httptest.NewRequest(http.MethodGet, "http://api.example.com/open-finance/health?x=1", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusMovedPermanently {
		t.Fatalf("status = %d, want 301", rr.Code)
	}
	if got := rr.Header().Get("Location"); got != "https://api.example.com/open-finance/health?x=1" {
		t.Errorf("Location = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "http://evil.com/", nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status for disallowed host = %d, want 400", rr.Code)
	}
}
