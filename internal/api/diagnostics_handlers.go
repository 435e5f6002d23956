package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/jak0707/dially/internal/call"
)

// maxUploadSize bounds audio uploaded to /test_pipeline (10 MB).
const maxUploadSize = 10 << 20

// upstreamStatus maps a failed upstream call to a response status.
func upstreamStatus(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

// handleTestSTT transcribes a recording URL.
func (s *Server) handleTestSTT(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AudioURL string `json:"audio_url"`
	}
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateAudioURL("audio_url", req.AudioURL); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	transcript, err := s.calls.Transcribe(r.Context(), req.AudioURL)
	if err != nil {
		slog.Warn("test stt: transcription failed", "error", err)
		writeError(w, upstreamStatus(err), "transcription failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"transcript": transcript})
}

// handleTestNLP generates a reply for text.
func (s *Server) handleTestNLP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateRequiredText("text", req.Text, maxTextLen); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	reply, err := s.calls.Reply(r.Context(), req.Text)
	if err != nil {
		slog.Warn("test nlp: generation failed", "error", err)
		writeError(w, upstreamStatus(err), "response generation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"response": reply})
}

// handleTestTTS synthesizes text and returns the published audio URL.
func (s *Server) handleTestTTS(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateRequiredText("text", req.Text, maxTextLen); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	art, err := s.calls.Synthesize(r.Context(), req.Text)
	if err != nil {
		slog.Warn("test tts: synthesis failed", "error", err)
		writeError(w, upstreamStatus(err), "speech synthesis failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"audio_url": s.baseURL(r) + call.PathStatic + art.Name})
}

// handleTestCall places an outbound call that lands on /handle_call.
func (s *Server) handleTestCall(w http.ResponseWriter, r *http.Request) {
	if s.caller == nil {
		writeError(w, http.StatusServiceUnavailable, "outbound calling is not configured")
		return
	}

	var req struct {
		ToNumber string `json:"to_number"`
	}
	// An empty body falls back to the configured destination.
	if r.ContentLength != 0 {
		if errMsg := readJSON(r, &req); errMsg != "" {
			writeError(w, http.StatusBadRequest, errMsg)
			return
		}
	}
	to := strings.TrimSpace(req.ToNumber)
	if to == "" {
		to = s.cfg.TestCallTo
	}
	if errMsg := validatePhoneNumber("to_number", to); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	sid, err := s.caller.PlaceCall(r.Context(), to)
	if err != nil {
		slog.Warn("test call: placement failed", "error", err, "to", to)
		writeError(w, upstreamStatus(err), "call placement failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"call_sid": sid})
}

// handleTestPipeline runs one full turn on an uploaded audio file, without
// a call: transcribe, reply, synthesize.
func (s *Server) handleTestPipeline(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart form with an audio file under 10 MB")
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read audio file")
		return
	}
	if len(audio) == 0 {
		writeError(w, http.StatusBadRequest, "audio file is empty")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "audio/") {
		contentType = audioContentTypes[strings.ToLower(filepath.Ext(header.Filename))]
		if contentType == "" {
			contentType = "audio/wav"
		}
	}

	transcript, err := s.calls.TranscribeAudio(r.Context(), audio, contentType)
	if err != nil {
		slog.Warn("test pipeline: transcription failed", "error", err)
		writeError(w, upstreamStatus(err), "transcription failed")
		return
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		writeError(w, http.StatusUnprocessableEntity, "no speech detected")
		return
	}

	reply, err := s.calls.Reply(r.Context(), transcript)
	if err != nil {
		slog.Warn("test pipeline: generation failed", "error", err)
		writeError(w, upstreamStatus(err), "response generation failed")
		return
	}

	result := map[string]string{
		"transcript": transcript,
		"response":   reply,
	}
	art, err := s.calls.Synthesize(r.Context(), reply)
	if err != nil {
		// The text result is still useful without audio.
		slog.Warn("test pipeline: synthesis failed", "error", err)
	} else {
		result["audio_url"] = s.baseURL(r) + call.PathStatic + art.Name
	}
	writeJSON(w, http.StatusOK, result)
}
