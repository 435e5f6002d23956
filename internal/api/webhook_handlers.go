package api

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/jak0707/dially/internal/call"
	"github.com/jak0707/dially/internal/markup"
)

// inbound reads the provider's webhook fields. Twilio posts a form; Exotel
// passthru sends the same names as query parameters.
func (s *Server) inbound(r *http.Request) call.Inbound {
	if err := r.ParseForm(); err != nil {
		slog.Warn("webhook: unparseable form", "path", r.URL.Path, "error", err)
	}

	in := call.Inbound{
		CallID:          r.FormValue("CallSid"),
		From:            r.FormValue("From"),
		RecordingURL:    r.FormValue("RecordingUrl"),
		RecordingStatus: r.FormValue("RecordingStatus"),
		BaseURL:         s.baseURL(r),
	}
	if s.cfg.BaseURL == "" {
		if u, err := url.Parse(in.BaseURL); err == nil && isLoopback(u.Host) {
			slog.Warn("webhook: public base url is a loopback address, the provider cannot fetch audio",
				"base_url", in.BaseURL)
		}
	}
	return in
}

// handleCall answers a new call. Exotel passthru re-enters here with the
// recording attached, which is processed like /process_recording.
func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	in := s.inbound(r)
	if in.CallID == "" {
		writeError(w, http.StatusBadRequest, "CallSid is required")
		return
	}

	var doc string
	var err error
	if in.RecordingURL != "" {
		doc, err = s.calls.ProcessRecording(r.Context(), in)
	} else {
		doc, err = s.calls.Greet(r.Context(), in)
	}
	if err != nil {
		slog.Error("handle call: failed to build markup", "call_id", in.CallID, "error", err)
		s.writeFallbackMarkup(w)
		return
	}
	writeMarkup(w, doc)
}

// handleProcessRecording runs one conversation turn.
func (s *Server) handleProcessRecording(w http.ResponseWriter, r *http.Request) {
	in := s.inbound(r)
	if in.CallID == "" {
		writeError(w, http.StatusBadRequest, "CallSid is required")
		return
	}

	doc, err := s.calls.ProcessRecording(r.Context(), in)
	if err != nil {
		slog.Error("process recording: failed to build markup", "call_id", in.CallID, "error", err)
		s.writeFallbackMarkup(w)
		return
	}
	writeMarkup(w, doc)
}

// handleRecordingStatus acknowledges the provider's recording callback.
func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	in := s.inbound(r)
	s.calls.RecordingStatus(r.Context(), in.CallID, in.RecordingStatus)
	writeAck(w)
}

// handleCallStatus acknowledges the provider's call progress callback.
func (s *Server) handleCallStatus(w http.ResponseWriter, r *http.Request) {
	in := s.inbound(r)
	s.calls.CallStatus(r.Context(), in.CallID, r.FormValue("CallStatus"))
	writeAck(w)
}

// fallbackMarkup is spoken when the turn markup itself cannot be built.
func (s *Server) fallbackMarkup() (string, error) {
	return s.dialect.Render(markup.Say{Text: call.SystemError}, markup.Hangup{})
}

func (s *Server) writeFallbackMarkup(w http.ResponseWriter) {
	doc, err := s.fallbackMarkup()
	if err != nil {
		slog.Error("failed to render fallback markup", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeMarkup(w, doc)
}

// markupOnPanic implements middleware.PanicResponder for webhooks.
func (s *Server) markupOnPanic(w http.ResponseWriter, _ *http.Request) {
	s.writeFallbackMarkup(w)
}
