package telephony

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type fakeCreator struct {
	params *twilioApi.CreateCallParams
	sid    string
	err    error
}

func (f *fakeCreator) CreateCall(params *twilioApi.CreateCallParams) (*twilioApi.ApiV2010Call, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	if f.sid == "" {
		return &twilioApi.ApiV2010Call{}, nil
	}
	sid := f.sid
	return &twilioApi.ApiV2010Call{Sid: &sid}, nil
}

func TestTwilioPlaceCall(t *testing.T) {
	api := &fakeCreator{sid: "CA123"}
	c := newTwilioCaller(api, "+15550001111", "https://voice.example.com/handle_call", "https://voice.example.com/call_status")

	sid, err := c.PlaceCall(context.Background(), "+15552223333")
	if err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}
	if sid != "CA123" {
		t.Errorf("sid = %q, want CA123", sid)
	}

	p := api.params
	if p == nil || p.To == nil || *p.To != "+15552223333" {
		t.Fatalf("To not set: %+v", p)
	}
	if p.From == nil || *p.From != "+15550001111" {
		t.Errorf("From = %v", p.From)
	}
	if p.Url == nil || *p.Url != "https://voice.example.com/handle_call" {
		t.Errorf("Url = %v", p.Url)
	}
	if p.StatusCallback == nil || *p.StatusCallback != "https://voice.example.com/call_status" {
		t.Errorf("StatusCallback = %v", p.StatusCallback)
	}
}

func TestTwilioPlaceCallFailures(t *testing.T) {
	tests := []struct {
		name string
		api  *fakeCreator
		to   string
	}{
		{"api error", &fakeCreator{err: errors.New("status: 400")}, "+15552223333"},
		{"missing sid", &fakeCreator{}, "+15552223333"},
		{"no destination", &fakeCreator{sid: "CA1"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTwilioCaller(tt.api, "+15550001111", "https://voice.example.com/handle_call", "")
			_, err := c.PlaceCall(context.Background(), tt.to)
			if !errors.Is(err, ErrCallFailed) {
				t.Fatalf("err = %v, want ErrCallFailed", err)
			}
		})
	}
}

func TestTwilioPlaceCallCancelled(t *testing.T) {
	api := &fakeCreator{sid: "CA1"}
	c := newTwilioCaller(api, "+15550001111", "https://voice.example.com/handle_call", "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.PlaceCall(ctx, "+15552223333"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if api.params != nil {
		t.Error("cancelled call reached the API")
	}
}

func TestExotelPlaceCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/v1/Accounts/acme1/Calls/connect.json" {
			t.Errorf("path = %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "token" {
			t.Errorf("basic auth = %q/%q/%v", user, pass, ok)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		want := map[string]string{
			"From":     "09876543210",
			"CallerId": "08012345678",
			"Url":      "https://voice.example.com/handle_call",
		}
		for k, v := range want {
			if got := r.PostForm.Get(k); got != v {
				t.Errorf("form %s = %q, want %q", k, got, v)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Call":{"Sid":"b6cfaf0e","Status":"in-progress"}}`))
	}))
	defer srv.Close()

	c := NewExotelCaller(srv.URL, "acme1", "key", "token", "08012345678", "https://voice.example.com/handle_call", "")
	sid, err := c.PlaceCall(context.Background(), "09876543210")
	if err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}
	if sid != "b6cfaf0e" {
		t.Errorf("sid = %q, want b6cfaf0e", sid)
	}
}

func TestExotelPlaceCallFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"RestException":{"Message":"Authentication is required"}}`},
		{"bad json", http.StatusOK, `<TwilioResponse/>`},
		{"missing sid", http.StatusOK, `{"Call":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewExotelCaller(srv.URL, "acme1", "key", "token", "08012345678", "https://voice.example.com/handle_call", "")
			if _, err := c.PlaceCall(context.Background(), "09876543210"); !errors.Is(err, ErrCallFailed) {
				t.Fatalf("err = %v, want ErrCallFailed", err)
			}
		})
	}
}

func TestNewExotelCallerBaseURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"api.exotel.com", "https://api.exotel.com"},
		{"api.in.exotel.com/", "https://api.in.exotel.com"},
		{"http://127.0.0.1:8080", "http://127.0.0.1:8080"},
	}
	for _, tt := range tests {
		c := NewExotelCaller(tt.in, "sid", "k", "t", "", "", "")
		if c.BaseURL != tt.want {
			t.Errorf("BaseURL(%q) = %q, want %q", tt.in, c.BaseURL, tt.want)
		}
	}
}
