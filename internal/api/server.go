package api

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jak0707/dially/internal/api/middleware"
	"github.com/jak0707/dially/internal/call"
	"github.com/jak0707/dially/internal/config"
	"github.com/jak0707/dially/internal/markup"
	"github.com/jak0707/dially/internal/media"
	"github.com/jak0707/dially/internal/telephony"
)

// CallHandler runs the conversation behind the provider webhooks and the
// test endpoints.
type CallHandler interface {
	Greet(ctx context.Context, in call.Inbound) (string, error)
	ProcessRecording(ctx context.Context, in call.Inbound) (string, error)
	RecordingStatus(ctx context.Context, callID, status string)
	CallStatus(ctx context.Context, callID, status string)

	Transcribe(ctx context.Context, audioURL string) (string, error)
	TranscribeAudio(ctx context.Context, audio []byte, contentType string) (string, error)
	Reply(ctx context.Context, text string) (string, error)
	Synthesize(ctx context.Context, text string) (*media.Artifact, error)
}

// AudioFiles opens published audio artifacts by name.
type AudioFiles interface {
	Open(name string) (*os.File, os.FileInfo, error)
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router   *chi.Mux
	cfg      *config.Config
	calls    CallHandler
	audio    AudioFiles
	caller   telephony.Caller // nil disables /test_call
	gatherer prometheus.Gatherer
	dialect  markup.Dialect

	webhookLimiter *middleware.Limiter
	audioLimiter   *middleware.Limiter
	diagLimiter    *middleware.Limiter
}

// NewServer creates the HTTP handler with all routes mounted. caller and
// gatherer may be nil.
func NewServer(cfg *config.Config, calls CallHandler, audio AudioFiles, caller telephony.Caller, gatherer prometheus.Gatherer) (*Server, error) {
	dialect, err := markup.ForProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}

	s := &Server{
		router:         chi.NewRouter(),
		cfg:            cfg,
		calls:          calls,
		audio:          audio,
		caller:         caller,
		gatherer:       gatherer,
		dialect:        dialect,
		webhookLimiter: middleware.NewLimiter(middleware.WebhookRateLimitConfig(callSidKey)),
		audioLimiter:   middleware.NewLimiter(middleware.WebhookRateLimitConfig(artifactKey)),
		diagLimiter:    middleware.NewLimiter(middleware.DiagnosticsRateLimitConfig()),
	}

	s.routes()
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops the rate limiters' background cleanup.
func (s *Server) Close() {
	s.webhookLimiter.Stop()
	s.audioLimiter.Stop()
	s.diagLimiter.Stop()
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SecurityHeaders(strings.HasPrefix(s.cfg.BaseURL, "https://")))

	r.Get("/health", s.handleHealth)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// Provider webhooks. A panic here still answers with markup so the
	// caller hears an apology instead of the provider's error tone.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(s.webhookLimiter))
		r.Use(middleware.Recover(s.markupOnPanic))
		if s.cfg.ValidateSignatures {
			r.Use(middleware.TwilioSignature(s.cfg.TwilioAuthToken, s.requestURL))
		}

		// Exotel passthru applets fetch with GET.
		r.Get(call.PathHandleCall, s.handleCall)
		r.Post(call.PathHandleCall, s.handleCall)
		r.Post(call.PathProcessRecording, s.handleProcessRecording)
		r.Post(call.PathRecordingStatus, s.handleRecordingStatus)
		r.Post(call.PathCallStatus, s.handleCallStatus)
	})

	r.With(middleware.RateLimit(s.audioLimiter)).Get(call.PathStatic+"{filename}", s.handleStaticAudio)

	// Manual test endpoints. Each spends upstream quota.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(s.diagLimiter))

		r.Post("/test_stt", s.handleTestSTT)
		r.Post("/test_nlp", s.handleTestNLP)
		r.Post("/test_tts", s.handleTestTTS)
		r.Post("/test_call", s.handleTestCall)
		r.Post("/test_pipeline", s.handleTestPipeline)
	})

	slog.Info("api routes mounted", "provider", s.dialect.Name(), "signatures", s.cfg.ValidateSignatures)
}

// handleHealth returns basic health status. Unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"provider": s.dialect.Name(),
	})
}
