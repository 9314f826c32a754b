package httpmw

import (
	"net/http"
	"net/url"
	"strings"
)

// CORS allows a single configured origin. An empty value allows any origin.
// localhost, 127.0.0.1 and ::1 count as the same origin on the same port.
func CORS(allowedOrigin string) func(http.Handler) http.Handler {
	allowed := strings.TrimSpace(allowedOrigin)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Vary", "Origin, Access-Control-Request-Headers")
			h.Set("Access-Control-Allow-Origin", originFor(allowed, r.Header.Get("Origin")))
			h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			if requested := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers")); requested != "" {
				h.Set("Access-Control-Allow-Headers", requested)
			} else {
				h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, datastar-request")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func originFor(allowed, requestOrigin string) string {
	if allowed == "" || allowed == "*" {
		return "*"
	}
	origin := strings.TrimSpace(requestOrigin)
	if origin == "" {
		return allowed
	}
	if origin == allowed || sameLoopbackOrigin(origin, allowed) {
		return origin
	}
	return allowed
}

func sameLoopbackOrigin(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return isLoopback(ua.Hostname()) && isLoopback(ub.Hostname()) &&
		ua.Port() == ub.Port() &&
		strings.EqualFold(ua.Scheme, ub.Scheme)
}

func isLoopback(host string) bool {
	switch strings.ToLower(strings.TrimSpace(host)) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}
