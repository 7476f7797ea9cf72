package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIsOriginAllowed(t *testing.T) {
	tests := []struct {
		name         string
		origin       string
		allowedHosts []string
		want         bool
	}{
		{"exact match with port", "http://example.com:8080", []string{"example.com:8080"}, true},
		{"hostname match ignoring port", "http://example.com:3000", []string{"example.com"}, true},
		{"port mismatch", "http://example.com:3000", []string{"example.com:8080"}, false},
		{"no match", "http://evil.com", []string{"example.com"}, false},
		{"case insensitive", "http://Example.COM", []string{"example.com"}, true},
		{"invalid origin URL", "://invalid", []string{"example.com"}, false},
		{"subdomain mismatch", "http://sub.example.com", []string{"example.com"}, false},
		{"allowed host with whitespace", "http://example.com", []string{"  example.com  "}, true},
		{"ipv6 loopback", "http://[::1]:8080", []string{"::1"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isOriginAllowed(tt.origin, tt.allowedHosts)
			if got != tt.want {
				t.Errorf("isOriginAllowed(%q, %v) = %v, want %v", tt.origin, tt.allowedHosts, got, tt.want)
			}
		})
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name        string
		allowed     []string
		method      string
		path        string
		origin      string
		wantStatus  int
		wantAllowed string
	}{
		{"no allowed hosts", nil, http.MethodGet, "/", "http://any-origin.com", http.StatusOK, "*"},
		{"allowed origin", []string{"example.com"}, http.MethodGet, "/", "http://example.com", http.StatusOK, "http://example.com"},
		{"disallowed origin", []string{"example.com"}, http.MethodGet, "/", "http://evil.com", http.StatusForbidden, ""},
		{"preflight", nil, http.MethodOptions, "/", "", http.StatusNoContent, "*"},
		{"bank callback skips origin check", []string{"example.com"}, http.MethodGet, "/open-finance/callback", "https://bank.example.org", http.StatusOK, "*"},
		{"no origin header", []string{"example.com"}, http.MethodGet, "/", "", http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := CORS(tt.allowed)(okHandler())

			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllowed {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantAllowed)
			}
		})
	}
}
