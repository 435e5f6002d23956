// Package stt converts caller recordings into text through Deepgram's
// pre-recorded transcription API.
package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/rest"
	apiinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/rest/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/listen"
)

// ErrTranscriptionFailed wraps every failure to obtain a transcript. An empty
// transcript is not a failure.
var ErrTranscriptionFailed = errors.New("transcription failed")

// Client sends recordings to the listen endpoint. It performs no retries.
type Client struct {
	Model string // recognition tier; empty leaves the provider default

	dg     *api.Client
	logger *slog.Logger
}

// NewClient creates a transcription client. An empty baseURL selects the
// hosted API.
func NewClient(apiKey, baseURL, model string) *Client {
	c := &Client{
		Model:  model,
		logger: slog.With("subsystem", "stt"),
	}
	// NewREST returns nil when no key is available; calls then fail.
	if rc := listen.NewREST(apiKey, &interfaces.ClientOptions{Host: strings.TrimRight(baseURL, "/")}); rc != nil {
		c.dg = api.New(rc)
	}
	return c
}

func (c *Client) options() *interfaces.PreRecordedTranscriptionOptions {
	return &interfaces.PreRecordedTranscriptionOptions{
		Model:       c.Model,
		SmartFormat: true,
	}
}

// TranscribeAudio uploads raw audio bytes.
func (c *Client) TranscribeAudio(ctx context.Context, audio []byte, contentType string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("%w: no audio", ErrTranscriptionFailed)
	}
	if c.dg == nil {
		return "", fmt.Errorf("%w: no api key", ErrTranscriptionFailed)
	}
	if contentType == "" {
		contentType = "audio/wav"
	}
	ctx = interfaces.WithCustomHeaders(ctx, http.Header{"Content-Type": {contentType}})

	resp, err := c.dg.FromStream(ctx, bytes.NewReader(audio), c.options())
	if err != nil {
		return "", c.requestFailed(err)
	}
	return c.best(resp)
}

// TranscribeURL asks the provider to fetch the audio itself.
func (c *Client) TranscribeURL(ctx context.Context, audioURL string) (string, error) {
	if audioURL == "" {
		return "", fmt.Errorf("%w: no audio url", ErrTranscriptionFailed)
	}
	if c.dg == nil {
		return "", fmt.Errorf("%w: no api key", ErrTranscriptionFailed)
	}

	resp, err := c.dg.FromURL(ctx, audioURL, c.options())
	if err != nil {
		return "", c.requestFailed(err)
	}
	return c.best(resp)
}

func (c *Client) requestFailed(err error) error {
	var se *interfaces.StatusError
	if errors.As(err, &se) && se.Resp != nil {
		c.logger.Warn("transcription rejected", "status", se.Resp.StatusCode, "error", err)
	}
	return fmt.Errorf("%w: %w", ErrTranscriptionFailed, err)
}

// best picks the highest-confidence alternative of the first channel.
func (c *Client) best(resp *apiinterfaces.PreRecordedResponse) (string, error) {
	if resp == nil || resp.Results == nil || len(resp.Results.Channels) == 0 ||
		len(resp.Results.Channels[0].Alternatives) == 0 {
		return "", fmt.Errorf("%w: response has no alternatives", ErrTranscriptionFailed)
	}

	alts := resp.Results.Channels[0].Alternatives
	best := alts[0]
	for _, a := range alts[1:] {
		if a.Confidence > best.Confidence {
			best = a
		}
	}

	transcript := strings.TrimSpace(best.Transcript)
	c.logger.Debug("transcribed", "chars", len(transcript), "confidence", best.Confidence)
	return transcript, nil
}
