// Package tts synthesizes reply text into MP3 audio with an ElevenLabs
// compatible text-to-speech API.
package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jak0707/dially/internal/media"
)

// ErrSynthesisFailed wraps every failure to produce audio.
var ErrSynthesisFailed = errors.New("speech synthesis failed")

// Voice settings sent with every request.
const (
	Stability       = 0.5
	SimilarityBoost = 0.5
)

const defaultBaseURL = "https://api.elevenlabs.io"

// Publisher stores a finished audio stream under name.
type Publisher interface {
	Publish(name string, r io.Reader) (*media.Artifact, error)
}

// Synthesizer converts text to speech and publishes the result.
type Synthesizer struct {
	APIKey     string
	BaseURL    string
	VoiceID    string
	ModelID    string
	HTTPClient *http.Client

	store  Publisher
	logger *slog.Logger
}

// NewSynthesizer creates a Synthesizer that publishes into store.
func NewSynthesizer(apiKey, baseURL, voiceID, modelID string, store Publisher) *Synthesizer {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Synthesizer{
		APIKey:     apiKey,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		VoiceID:    voiceID,
		ModelID:    modelID,
		HTTPClient: http.DefaultClient,
		store:      store,
		logger:     slog.With("subsystem", "tts"),
	}
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type synthesisRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// Synthesize renders text and publishes it as name. The artifact only
// becomes visible once the whole response body has been written.
func (s *Synthesizer) Synthesize(ctx context.Context, text, name string) (*media.Artifact, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", ErrSynthesisFailed)
	}

	body, err := json.Marshal(synthesisRequest{
		Text:    text,
		ModelID: s.ModelID,
		VoiceSettings: voiceSettings{
			Stability:       Stability,
			SimilarityBoost: SimilarityBoost,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encoding request: %w", ErrSynthesisFailed, err)
	}

	endpoint := s.BaseURL + "/v1/text-to-speech/" + s.VoiceID
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", ErrSynthesisFailed, err)
	}
	req.Header.Set("xi-api-key", s.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSynthesisFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		s.logger.Warn("synthesis rejected", "status", resp.StatusCode, "body", string(preview))
		return nil, fmt.Errorf("%w: status %d", ErrSynthesisFailed, resp.StatusCode)
	}

	audio := bufio.NewReaderSize(resp.Body, 8192)
	if _, err := audio.Peek(1); err != nil {
		return nil, fmt.Errorf("%w: empty audio: %w", ErrSynthesisFailed, err)
	}

	art, err := s.store.Publish(name, audio)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSynthesisFailed, err)
	}

	s.logger.Debug("speech synthesized", "name", art.Name, "bytes", art.Size)
	return art, nil
}
