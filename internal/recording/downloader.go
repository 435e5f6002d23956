// Package recording fetches caller recordings from the telephony provider.
//
// Providers announce a recording before its media is fully available, so a
// freshly announced URL may answer 404 or an empty body for a few seconds.
// The Downloader absorbs that window with two layers of retry: a transport
// layer that repeats a single request on transient statuses, and a fetch
// matrix that walks the known media suffixes several times with a fixed
// delay between passes.
package recording

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// ErrDownloadFailed is returned when no fetch produced the recording.
var ErrDownloadFailed = errors.New("recording download failed")

// DefaultFormats is the fetch order: the URL as given, then the explicit
// media suffixes the providers expose.
var DefaultFormats = []string{"", ".wav", ".mp3"}

// Recording identifies a caller recording announced by the provider.
type Recording struct {
	URL    string
	Status string // provider status, e.g. "completed" or "in-progress"
	Suffix string // optional media suffix; only that format is tried
}

// Audio is a downloaded recording.
type Audio struct {
	Data        []byte
	ContentType string
	URL         string // the fetched URL that succeeded
}

// Config controls download behavior. Zero values select the defaults.
type Config struct {
	Username string
	Password string

	Passes    int           // passes over the format list (default 3)
	PassDelay time.Duration // wait between passes (default 2s)

	Retries      int           // transport retries per request (default 3; negative disables)
	RetryWaitMin time.Duration // first backoff (default 1s)
	RetryWaitMax time.Duration // backoff cap (default 8s)

	HTTPClient *http.Client
}

// Downloader fetches recordings across media formats with transport retry.
type Downloader struct {
	client    *retryablehttp.Client
	username  string
	password  string
	formats   []string
	passes    int
	passDelay time.Duration
	logger    *slog.Logger
}

// withDefaults fills zero values.
func (c Config) withDefaults() Config {
	if c.Passes <= 0 {
		c.Passes = 3
	}
	if c.PassDelay == 0 {
		c.PassDelay = 2 * time.Second
	}
	switch {
	case c.Retries == 0:
		c.Retries = 3
	case c.Retries < 0:
		c.Retries = 0
	}
	if c.RetryWaitMin <= 0 {
		c.RetryWaitMin = time.Second
	}
	if c.RetryWaitMax <= 0 {
		c.RetryWaitMax = 8 * time.Second
	}
	return c
}

// ExhaustWait is the time a Download that never succeeds spends sleeping:
// transport backoff inside every fetch plus the delay between passes.
// Request round trips come on top, so a deadline shorter than this cuts
// the fetch matrix short.
func (c Config) ExhaustWait() time.Duration {
	c = c.withDefaults()

	var perFetch time.Duration
	for attempt := 0; attempt < c.Retries; attempt++ {
		perFetch += backoff(c.RetryWaitMin, c.RetryWaitMax, attempt, nil)
	}
	fetches := time.Duration(len(DefaultFormats) * c.Passes)
	return fetches*perFetch + time.Duration(c.Passes-1)*c.PassDelay
}

// backoff is exponential from min, capped at max. Retry-After is ignored so
// the total wait stays what ExhaustWait reports.
func backoff(lo, hi time.Duration, attemptNum int, _ *http.Response) time.Duration {
	return retryablehttp.DefaultBackoff(lo, hi, attemptNum, nil)
}

// NewDownloader creates a Downloader.
func NewDownloader(cfg Config) *Downloader {
	cfg = cfg.withDefaults()

	logger := slog.With("subsystem", "recording")

	client := retryablehttp.NewClient()
	if cfg.HTTPClient != nil {
		client.HTTPClient = cfg.HTTPClient
	}
	client.RetryMax = cfg.Retries
	client.RetryWaitMin = cfg.RetryWaitMin
	client.RetryWaitMax = cfg.RetryWaitMax
	client.CheckRetry = checkRetry
	client.Backoff = backoff
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = logger

	return &Downloader{
		client:    client,
		username:  cfg.Username,
		password:  cfg.Password,
		formats:   DefaultFormats,
		passes:    cfg.Passes,
		passDelay: cfg.PassDelay,
		logger:    logger,
	}
}

// checkRetry retries connection errors and the statuses a recording returns
// while it is still being finalized.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true, nil
	}
	return false, nil
}

// Download returns the first fetch that answers 200 with a non-empty body.
// After len(formats)*passes unsuccessful fetches it returns an error wrapping
// ErrDownloadFailed.
func (d *Downloader) Download(ctx context.Context, rec Recording) (*Audio, error) {
	if rec.URL == "" {
		return nil, fmt.Errorf("%w: empty recording url", ErrDownloadFailed)
	}

	formats := d.formats
	if rec.Suffix != "" {
		formats = []string{normalizeSuffix(rec.Suffix)}
	}

	if rec.Status == "in-progress" {
		d.logger.Info("recording not final yet, fetching anyway", "url", rec.URL)
	}

	var lastErr error
	for pass := 1; pass <= d.passes; pass++ {
		for _, suffix := range formats {
			target := rec.URL + suffix

			audio, err := d.fetch(ctx, target)
			if err == nil {
				d.logger.Info("recording downloaded", "url", target, "bytes", len(audio.Data), "pass", pass)
				return audio, nil
			}
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %w", ErrDownloadFailed, ctx.Err())
			}
			lastErr = err
			d.logger.Debug("recording fetch failed", "url", target, "pass", pass, "error", err)
		}

		if pass == d.passes {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrDownloadFailed, ctx.Err())
		case <-time.After(d.passDelay):
		}
	}

	d.logger.Warn("recording unavailable", "url", rec.URL, "fetches", len(formats)*d.passes, "error", lastErr)
	return nil, fmt.Errorf("%w after %d fetches: %w", ErrDownloadFailed, len(formats)*d.passes, lastErr)
}

// fetch performs one logical request, including transport retries.
func (d *Downloader) fetch(ctx context.Context, target string) (*Audio, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if d.username != "" {
		req.SetBasicAuth(d.username, d.password)
	}

	resp, err := d.client.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", target, err)
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("empty body")
	}

	return &Audio{
		Data:        data,
		ContentType: contentType(resp.Header.Get("Content-Type"), target),
		URL:         target,
	}, nil
}

func normalizeSuffix(s string) string {
	if strings.HasPrefix(s, ".") {
		return s
	}
	return "." + s
}

// contentType prefers the server's header and falls back to the extension.
func contentType(header, target string) string {
	if header != "" && !strings.HasPrefix(header, "application/octet-stream") {
		return header
	}
	if strings.HasSuffix(strings.ToLower(target), ".mp3") {
		return "audio/mpeg"
	}
	return "audio/wav"
}
