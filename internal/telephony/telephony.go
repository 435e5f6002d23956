// Package telephony places outbound calls through the configured provider's
// REST API. Placed calls are pointed at the service's own /handle_call
// webhook so they enter the normal conversation loop.
package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// ErrCallFailed is returned when the provider refuses or fails to place a call.
var ErrCallFailed = errors.New("call placement failed")

// Caller places an outbound call to a phone number and returns the
// provider's call identifier.
type Caller interface {
	PlaceCall(ctx context.Context, to string) (string, error)
}

// callCreator is the slice of the Twilio REST client used here.
type callCreator interface {
	CreateCall(params *twilioApi.CreateCallParams) (*twilioApi.ApiV2010Call, error)
}

// TwilioCaller places calls through the Twilio REST API.
type TwilioCaller struct {
	api        callCreator
	from       string
	webhookURL string
	statusURL  string
	logger     *slog.Logger
}

// NewTwilioCaller creates a caller using the account credentials. webhookURL
// is fetched by Twilio when the callee answers; statusURL receives call
// progress events and may be empty.
func NewTwilioCaller(accountSID, authToken, from, webhookURL, statusURL string) *TwilioCaller {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return newTwilioCaller(client.Api, from, webhookURL, statusURL)
}

func newTwilioCaller(api callCreator, from, webhookURL, statusURL string) *TwilioCaller {
	return &TwilioCaller{
		api:        api,
		from:       from,
		webhookURL: webhookURL,
		statusURL:  statusURL,
		logger:     slog.With("subsystem", "telephony", "provider", "twilio"),
	}
}

// PlaceCall implements Caller. The twilio-go client has no context support,
// so ctx is only checked before the request is sent.
func (c *TwilioCaller) PlaceCall(ctx context.Context, to string) (string, error) {
	if to == "" {
		return "", fmt.Errorf("%w: no destination number", ErrCallFailed)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	params := &twilioApi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(c.from)
	params.SetUrl(c.webhookURL)
	params.SetMethod(http.MethodPost)
	if c.statusURL != "" {
		params.SetStatusCallback(c.statusURL)
		params.SetStatusCallbackMethod(http.MethodPost)
	}

	resp, err := c.api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCallFailed, err)
	}
	if resp == nil || resp.Sid == nil {
		return "", fmt.Errorf("%w: response carried no call sid", ErrCallFailed)
	}

	c.logger.Info("outbound call placed", "call_id", *resp.Sid, "to", to)
	return *resp.Sid, nil
}

// ExotelCaller places calls through the Exotel Calls/connect API.
type ExotelCaller struct {
	BaseURL    string // https://{subdomain}
	AccountSID string
	APIKey     string
	APIToken   string
	CallerID   string
	WebhookURL string
	StatusURL  string
	HTTPClient *http.Client
	logger     *slog.Logger
}

// NewExotelCaller creates a caller for the Exotel account. subdomain is the
// regional API host, e.g. api.exotel.com; a full URL is accepted as well.
func NewExotelCaller(subdomain, accountSID, apiKey, apiToken, callerID, webhookURL, statusURL string) *ExotelCaller {
	base := subdomain
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	return &ExotelCaller{
		BaseURL:    strings.TrimRight(base, "/"),
		AccountSID: accountSID,
		APIKey:     apiKey,
		APIToken:   apiToken,
		CallerID:   callerID,
		WebhookURL: webhookURL,
		StatusURL:  statusURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.With("subsystem", "telephony", "provider", "exotel"),
	}
}

type exotelConnectResponse struct {
	Call struct {
		Sid    string `json:"Sid"`
		Status string `json:"Status"`
	} `json:"Call"`
}

// PlaceCall implements Caller.
func (c *ExotelCaller) PlaceCall(ctx context.Context, to string) (string, error) {
	if to == "" {
		return "", fmt.Errorf("%w: no destination number", ErrCallFailed)
	}

	form := url.Values{}
	form.Set("From", to)
	form.Set("CallerId", c.CallerID)
	form.Set("Url", c.WebhookURL)
	form.Set("CallType", "trans")
	if c.StatusURL != "" {
		form.Set("StatusCallback", c.StatusURL)
	}

	endpoint := fmt.Sprintf("%s/v1/Accounts/%s/Calls/connect.json", c.BaseURL, url.PathEscape(c.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("building exotel request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.APIKey, c.APIToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCallFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: exotel returned %d: %s", ErrCallFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out exotelConnectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decoding exotel response: %w", ErrCallFailed, err)
	}
	if out.Call.Sid == "" {
		return "", fmt.Errorf("%w: response carried no call sid", ErrCallFailed)
	}

	c.logger.Info("outbound call placed", "call_id", out.Call.Sid, "to", to, "status", out.Call.Status)
	return out.Call.Sid, nil
}
