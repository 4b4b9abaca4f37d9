package middleware

import "net/http"

// CORS answers preflight requests and sets the allow headers for listed
// origins. A "*" entry allows any origin without credentials.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allow := make(map[string]struct{}, len(allowedOrigins))
	wildcard := false
	for _, origin := range allowedOrigins {
		if origin == "*" {
			wildcard = true
			continue
		}
		allow[origin] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				_, listed := allow[origin]
				switch {
				case listed:
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Add("Vary", "Origin")
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				case wildcard:
					w.Header().Set("Access-Control-Allow-Origin", "*")
				}
				if listed || wildcard {
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Locale, X-Request-ID")
					w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
					w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, Retry-After")
				}
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
