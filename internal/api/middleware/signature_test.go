package middleware

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
)

const testAuthToken = "12345"

// sign computes a Twilio webhook signature: HMAC-SHA1 over the URL followed
// by each POST field's name and value in name order.
func sign(token, rawURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	payload := rawURL
	for _, k := range keys {
		payload += k + form.Get(k)
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func signedHandler(t *testing.T) (http.Handler, *bool) {
	t.Helper()
	called := false
	publicURL := func(r *http.Request) string {
		return "https://voice.example.com" + r.URL.RequestURI()
	}
	h := TwilioSignature(testAuthToken, publicURL)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if r.FormValue("CallSid") != "CA1" {
			t.Errorf("form not available downstream: %v", r.Form)
		}
		w.WriteHeader(http.StatusOK)
	}))
	return h, &called
}

func TestTwilioSignature(t *testing.T) {
	form := url.Values{
		"CallSid":      {"CA1"},
		"From":         {"+15551234567"},
		"RecordingUrl": {"https://api.twilio.com/rec/RE1"},
	}
	valid := sign(testAuthToken, "https://voice.example.com/process_recording", form)

	tests := []struct {
		name      string
		signature string
		want      int
	}{
		{"valid", valid, http.StatusOK},
		{"missing", "", http.StatusForbidden},
		{"wrong token", sign("other", "https://voice.example.com/process_recording", form), http.StatusForbidden},
		{"wrong url", sign(testAuthToken, "https://evil.example.com/process_recording", form), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, called := signedHandler(t)
			req := httptest.NewRequest(http.MethodPost, "/process_recording", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			if tt.signature != "" {
				req.Header.Set(SignatureHeader, tt.signature)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rr.Code)
			}
			if *called != (tt.want == http.StatusOK) {
				t.Fatalf("handler called = %v", *called)
			}
		})
	}
}

func TestTwilioSignatureTamperedForm(t *testing.T) {
	signed := url.Values{"CallSid": {"CA1"}, "RecordingUrl": {"https://api.twilio.com/rec/RE1"}}
	sig := sign(testAuthToken, "https://voice.example.com/process_recording", signed)

	sent := url.Values{"CallSid": {"CA1"}, "RecordingUrl": {"https://attacker.example.com/rec"}}
	req := httptest.NewRequest(http.MethodPost, "/process_recording", strings.NewReader(sent.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(SignatureHeader, sig)

	h, called := signedHandler(t)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden || *called {
		t.Fatalf("tampered form accepted: status %d", rr.Code)
	}
}
