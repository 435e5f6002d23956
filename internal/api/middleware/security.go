package middleware

import "net/http"

// SecurityHeaders returns middleware that sets HTTP security headers on every
// response. The service serves markup, JSON and audio but never HTML, so the
// content security policy denies everything. When tlsEnabled is true,
// Strict-Transport-Security (HSTS) is included.
func SecurityHeaders(tlsEnabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()

			h.Set("X-Frame-Options", "DENY")

			// Audio must never be sniffed into something executable.
			h.Set("X-Content-Type-Options", "nosniff")

			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

			if tlsEnabled {
				// max-age=63072000 is 2 years.
				h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}
