package api

import (
	"net/http"
	"net/url"
	"strings"
)

// corsMiddleware answers preflights and decorates responses for the allowed
// origins. Credentials are allowed, so the origin is echoed instead of "*".
func corsMiddleware(allowed []string, next http.Handler) http.Handler {
	origins := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		origins[strings.TrimRight(o, "/")] = struct{}{}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}
		_, ok := origins[origin]
		preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""

		h := w.Header()
		h.Add("Vary", "Origin")
		if !ok {
			if preflight {
				writeJSON(w, http.StatusForbidden, map[string]any{"error": "disallowed cors origin"})
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		if !preflight {
			next.ServeHTTP(w, r)
			return
		}
		h.Set("Access-Control-Allow-Methods", r.Header.Get("Access-Control-Request-Method"))
		if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
			h.Set("Access-Control-Allow-Headers", reqHeaders)
		}
		h.Set("Access-Control-Max-Age", "600")
		w.WriteHeader(http.StatusNoContent)
	})
}

// originPatterns converts allowed origins ("http://localhost:3000") into the
// host patterns the websocket handshake checks against.
func originPatterns(allowed []string) []string {
	var out []string
	for _, o := range allowed {
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			continue
		}
		out = append(out, u.Host)
	}
	return out
}
