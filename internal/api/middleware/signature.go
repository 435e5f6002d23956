package middleware

import (
	"log/slog"
	"net/http"

	"github.com/twilio/twilio-go/client"
)

// SignatureHeader carries Twilio's HMAC of the webhook URL and form fields.
const SignatureHeader = "X-Twilio-Signature"

// TwilioSignature returns middleware that rejects webhook requests whose
// X-Twilio-Signature does not match. publicURL must return the absolute
// URL the provider requested, which is what Twilio signs; behind a proxy
// that differs from r.URL.
func TwilioSignature(authToken string, publicURL func(r *http.Request) string) func(http.Handler) http.Handler {
	validator := client.NewRequestValidator(authToken)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sig := r.Header.Get(SignatureHeader)
			if sig == "" {
				reject(w, r, "missing signature")
				return
			}

			if err := r.ParseForm(); err != nil {
				reject(w, r, "unparseable form")
				return
			}
			params := make(map[string]string, len(r.PostForm))
			for k, v := range r.PostForm {
				params[k] = v[0]
			}

			if !validator.Validate(publicURL(r), params, sig) {
				reject(w, r, "signature mismatch")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func reject(w http.ResponseWriter, r *http.Request, reason string) {
	slog.Warn("webhook signature rejected",
		"reason", reason,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr,
	)
	http.Error(w, "forbidden", http.StatusForbidden)
}
