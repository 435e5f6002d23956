package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jak0707/dially/internal/api"
	"github.com/jak0707/dially/internal/call"
	"github.com/jak0707/dially/internal/config"
	"github.com/jak0707/dially/internal/database"
	"github.com/jak0707/dially/internal/llm"
	"github.com/jak0707/dially/internal/markup"
	"github.com/jak0707/dially/internal/media"
	"github.com/jak0707/dially/internal/metrics"
	"github.com/jak0707/dially/internal/recording"
	"github.com/jak0707/dially/internal/stt"
	"github.com/jak0707/dially/internal/telephony"
	"github.com/jak0707/dially/internal/tts"
)

// audioCleanupInterval is how often expired audio is swept.
const audioCleanupInterval = 15 * time.Minute

func main() {
	startTime := time.Now()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, config.ErrMissingCredential) {
			fmt.Fprintln(os.Stderr, "set the missing keys in the environment or a .env file")
		}
		os.Exit(1)
	}

	// Configure structured logging.
	slog.SetDefault(slog.New(cfg.SlogHandler(os.Stdout)))

	slog.Info("starting dially",
		"http_port", cfg.HTTPPort,
		"provider", cfg.Provider,
		"transcribe_mode", cfg.EffectiveTranscribeMode(),
		"data_dir", cfg.DataDir,
	)

	// Open database and run migrations.
	db, err := openDatabase(cfg)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store, err := media.NewStore(filepath.Join(cfg.DataDir, "audio"))
	if err != nil {
		slog.Error("failed to open audio store", "error", err)
		os.Exit(1)
	}

	dialect, err := markup.ForProvider(cfg.Provider)
	if err != nil {
		slog.Error("failed to select markup dialect", "error", err)
		os.Exit(1)
	}

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	media.StartCleanupTicker(appCtx, store, cfg.AudioRetention, audioCleanupInterval)

	sessions := database.NewCallSessionRepository(db)
	turns := database.NewCallTurnRepository(db)

	orch := call.NewOrchestrator(call.Deps{
		Dialect:     dialect,
		Sessions:    sessions,
		Turns:       turns,
		Downloader:  recording.NewDownloader(cfg.DownloadConfig()),
		Transcriber: stt.NewClient(cfg.DeepgramAPIKey, cfg.DeepgramBaseURL, cfg.DeepgramModel),
		Generator:   llm.NewGenerator(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.LLMModel, cfg.LLMMaxTokens),
		Synthesizer: tts.NewSynthesizer(cfg.ElevenLabsAPIKey, cfg.ElevenLabsBaseURL, cfg.ElevenLabsVoiceID, cfg.ElevenLabsModel, store),
		Artifacts:   store,
	}, call.Options{
		TranscribeFromURL: cfg.EffectiveTranscribeMode() == config.TranscribeURL,
		DownloadTimeout:   cfg.DownloadTimeout,
		TranscribeTimeout: cfg.TranscribeTimeout,
		GenerateTimeout:   cfg.GenerateTimeout,
		SynthesizeTimeout: cfg.SynthesizeTimeout,
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewCollector(sessions, turns, store, startTime),
	)

	// HTTP server using the api package.
	handler, err := api.NewServer(cfg, orch, store, newCaller(cfg), registry)
	if err != nil {
		slog.Error("failed to create api server", "error", err)
		os.Exit(1)
	}
	defer handler.Close()

	// WriteTimeout covers a whole conversation turn: download, transcribe,
	// generate and synthesize, each with its own budget.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.DownloadTimeout + cfg.TranscribeTimeout + cfg.GenerateTimeout + cfg.SynthesizeTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr, "base_url", cfg.BaseURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout. In-flight turns get to finish so
	// callers are not cut off mid-reply.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	slog.Info("shutting down http server")
	appCancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("dially stopped")
}

func openDatabase(cfg *config.Config) (*database.DB, error) {
	if cfg.UsePostgres() {
		return database.OpenPostgres(cfg.DatabaseURL)
	}
	return database.Open(cfg.DataDir)
}

// newCaller builds the outbound caller behind /test_call. Placed calls need
// a public URL to fetch the greeting from, so without --base-url the
// endpoint stays disabled.
func newCaller(cfg *config.Config) telephony.Caller {
	if cfg.BaseURL == "" {
		slog.Warn("outbound test calls disabled: base url not configured")
		return nil
	}
	webhookURL := cfg.BaseURL + call.PathHandleCall
	statusURL := cfg.BaseURL + call.PathCallStatus

	switch cfg.Provider {
	case config.ProviderExotel:
		if cfg.ExotelCallerID == "" {
			slog.Warn("outbound test calls disabled: exotel caller id not configured")
			return nil
		}
		return telephony.NewExotelCaller(cfg.ExotelSubdomain, cfg.ExotelAccountSID,
			cfg.ExotelAPIKey, cfg.ExotelAPIToken, cfg.ExotelCallerID, webhookURL, statusURL)
	default:
		if cfg.TwilioFromNumber == "" {
			slog.Warn("outbound test calls disabled: twilio from number not configured")
			return nil
		}
		return telephony.NewTwilioCaller(cfg.TwilioAccountSID, cfg.TwilioAuthToken,
			cfg.TwilioFromNumber, webhookURL, statusURL)
	}
}
