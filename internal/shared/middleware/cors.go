package middleware

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// CORS applies Cross-Origin Resource Sharing headers. With no allowed hosts every
// origin is accepted. The bank redirect lands on /open-finance/callback from the
// bank's domain, so that path is never origin-checked.
func CORS(allowedHosts []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			switch {
			case len(allowedHosts) == 0 || r.URL.Path == "/open-finance/callback":
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin == "":
				// Same-origin or non-browser request
			case isOriginAllowed(origin, allowedHosts):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			default:
				http.Error(w, "Origin not allowed", http.StatusForbidden)
				return
			}

			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "3600")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isOriginAllowed(origin string, allowedHosts []string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return isHostAllowed(u.Host, allowedHosts)
}

// isHostAllowed matches host against the allow list, comparing hostnames
// case-insensitively and ignoring the port when either side omits it.
func isHostAllowed(host string, allowedHosts []string) bool {
	if len(allowedHosts) == 0 {
		return true
	}
	hostName, hostPort := splitHostPort(host)
	for _, allowed := range allowedHosts {
		allowed = strings.TrimSpace(allowed)
		if allowed == "" {
			continue
		}
		allowedName, allowedPort := splitHostPort(allowed)
		if !strings.EqualFold(hostName, allowedName) {
			continue
		}
		if hostPort == "" || allowedPort == "" || hostPort == allowedPort {
			return true
		}
	}
	return false
}

func splitHostPort(h string) (string, string) {
	if name, port, err := net.SplitHostPort(h); err == nil {
		return name, port
	}
	return strings.Trim(h, "[]"), ""
}
