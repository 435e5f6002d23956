package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/jak0707/dially/internal/recording"
)

// ErrMissingCredential is returned by Load when a credential required by the
// configured providers is absent. Startup must not continue past it.
var ErrMissingCredential = errors.New("missing credential")

// Telephony providers.
const (
	ProviderTwilio = "twilio"
	ProviderExotel = "exotel"
)

// Transcription modes.
const (
	TranscribeAuto  = "auto"
	TranscribeBytes = "bytes"
	TranscribeURL   = "url"
)

// Config holds all runtime configuration for the Dially server.
// Precedence: CLI flags > env vars > .env file > defaults.
type Config struct {
	DataDir     string
	HTTPPort    int
	LogLevel    string
	LogFormat   string // log output format: "text" or "json"
	BaseURL     string // public URL the telephony provider reaches us on
	DatabaseURL string // empty selects SQLite in DataDir; postgres:// selects PostgreSQL

	Provider           string // "twilio" or "exotel"
	TranscribeMode     string // "auto", "bytes" or "url"
	ValidateSignatures bool

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	ExotelAccountSID string
	ExotelAPIKey     string
	ExotelAPIToken   string
	ExotelSubdomain  string
	ExotelCallerID   string

	TestCallTo string // default destination for /test_call

	DeepgramAPIKey  string
	DeepgramBaseURL string
	DeepgramModel   string // recognition tier, e.g. nova-2, enhanced, whisper

	LLMAPIKey    string
	LLMBaseURL   string // OpenAI-compatible chat completions endpoint
	LLMModel     string
	LLMMaxTokens int

	ElevenLabsAPIKey  string
	ElevenLabsBaseURL string
	ElevenLabsVoiceID string
	ElevenLabsModel   string

	DownloadTimeout   time.Duration
	TranscribeTimeout time.Duration
	GenerateTimeout   time.Duration
	SynthesizeTimeout time.Duration

	DownloadPasses    int
	DownloadPassDelay time.Duration
	DownloadRetries   int

	AudioRetention time.Duration
}

// defaults
const (
	defaultDataDir           = "./data"
	defaultHTTPPort          = 5000
	defaultLogLevel          = "info"
	defaultLogFormat         = "text"
	defaultProvider          = ProviderTwilio
	defaultTranscribeMode    = TranscribeAuto
	defaultExotelSubdomain   = "api.exotel.com"
	defaultDeepgramBaseURL   = "https://api.deepgram.com"
	defaultDeepgramModel     = "nova-2"
	defaultLLMBaseURL        = "https://generativelanguage.googleapis.com/v1beta/openai/"
	defaultLLMModel          = "gemini-1.5-flash"
	defaultLLMMaxTokens      = 200
	defaultElevenLabsBaseURL = "https://api.elevenlabs.io"
	defaultElevenLabsVoiceID = "21m00Tcm4TlvDq8ikWAM"
	defaultElevenLabsModel   = "eleven_multilingual_v2"
	defaultStepTimeout       = 30 * time.Second
	defaultDownloadTimeout   = 90 * time.Second
	defaultDownloadPasses    = 3
	defaultDownloadPassDelay = 2 * time.Second
	defaultDownloadRetries   = 3
	defaultAudioRetention    = 24 * time.Hour
)

// envPrefix is the prefix for all Dially environment variables.
const envPrefix = "DIALLY_"

// legacyEnv lists unprefixed variable names accepted as a fallback after the
// DIALLY_ variant. They match the names existing deployments put in .env.
var legacyEnv = map[string][]string{
	"http-port":          {"PORT"},
	"base-url":           {"BASE_URL"},
	"twilio-account-sid": {"TWILIO_SID", "TWILIO_ACCOUNT_SID"},
	"twilio-auth-token":  {"TWILIO_AUTH_TOKEN"},
	"twilio-from-number": {"TWILIO_PHONE_NUMBER"},
	"test-call-to":       {"TO_PHONE_NUMBER"},
	"deepgram-api-key":   {"DEEPGRAM_API_KEY"},
	"llm-api-key":        {"GEMINI_API_KEY", "OPENAI_API_KEY"},
	"elevenlabs-api-key": {"ELEVENLABS_API_KEY"},
	"exotel-account-sid": {"EXOTEL_SID"},
	"exotel-api-key":     {"EXOTEL_API_KEY"},
	"exotel-api-token":   {"EXOTEL_API_TOKEN"},
}

// Load parses configuration from CLI flags, environment variables and an
// optional .env file in the working directory.
func Load() (*Config, error) {
	// godotenv never overrides variables that are already set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := &Config{}

	fs := flag.NewFlagSet("dially", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the database and synthesized audio")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.BaseURL, "base-url", "", "public base URL used in webhook markup (derived from request headers if empty)")
	fs.StringVar(&cfg.DatabaseURL, "database-url", "", "postgres:// URL for PostgreSQL (SQLite in data-dir if empty)")

	fs.StringVar(&cfg.Provider, "provider", defaultProvider, "telephony provider (twilio, exotel)")
	fs.StringVar(&cfg.TranscribeMode, "transcribe-mode", defaultTranscribeMode, "how recordings reach the transcriber (auto, bytes, url)")
	fs.BoolVar(&cfg.ValidateSignatures, "validate-signatures", false, "reject webhooks without a valid X-Twilio-Signature")

	fs.StringVar(&cfg.TwilioAccountSID, "twilio-account-sid", "", "Twilio account SID")
	fs.StringVar(&cfg.TwilioAuthToken, "twilio-auth-token", "", "Twilio auth token")
	fs.StringVar(&cfg.TwilioFromNumber, "twilio-from-number", "", "Twilio number used as caller id for test calls")

	fs.StringVar(&cfg.ExotelAccountSID, "exotel-account-sid", "", "Exotel account SID")
	fs.StringVar(&cfg.ExotelAPIKey, "exotel-api-key", "", "Exotel API key")
	fs.StringVar(&cfg.ExotelAPIToken, "exotel-api-token", "", "Exotel API token")
	fs.StringVar(&cfg.ExotelSubdomain, "exotel-subdomain", defaultExotelSubdomain, "Exotel API host")
	fs.StringVar(&cfg.ExotelCallerID, "exotel-caller-id", "", "Exotel virtual number used as caller id for test calls")

	fs.StringVar(&cfg.TestCallTo, "test-call-to", "", "default destination number for /test_call")

	fs.StringVar(&cfg.DeepgramAPIKey, "deepgram-api-key", "", "Deepgram API key")
	fs.StringVar(&cfg.DeepgramBaseURL, "deepgram-base-url", defaultDeepgramBaseURL, "Deepgram API base URL")
	fs.StringVar(&cfg.DeepgramModel, "deepgram-model", defaultDeepgramModel, "Deepgram recognition model tier")

	fs.StringVar(&cfg.LLMAPIKey, "llm-api-key", "", "API key for the response generator")
	fs.StringVar(&cfg.LLMBaseURL, "llm-base-url", defaultLLMBaseURL, "OpenAI-compatible chat completions base URL")
	fs.StringVar(&cfg.LLMModel, "llm-model", defaultLLMModel, "model used for replies")
	fs.IntVar(&cfg.LLMMaxTokens, "llm-max-tokens", defaultLLMMaxTokens, "maximum tokens per reply")

	fs.StringVar(&cfg.ElevenLabsAPIKey, "elevenlabs-api-key", "", "ElevenLabs API key")
	fs.StringVar(&cfg.ElevenLabsBaseURL, "elevenlabs-base-url", defaultElevenLabsBaseURL, "ElevenLabs API base URL")
	fs.StringVar(&cfg.ElevenLabsVoiceID, "elevenlabs-voice-id", defaultElevenLabsVoiceID, "ElevenLabs voice id")
	fs.StringVar(&cfg.ElevenLabsModel, "elevenlabs-model", defaultElevenLabsModel, "ElevenLabs model id")

	fs.DurationVar(&cfg.DownloadTimeout, "download-timeout", defaultDownloadTimeout, "budget for fetching one recording, including retries")
	fs.DurationVar(&cfg.TranscribeTimeout, "transcribe-timeout", defaultStepTimeout, "budget for one transcription request")
	fs.DurationVar(&cfg.GenerateTimeout, "generate-timeout", defaultStepTimeout, "budget for one reply generation")
	fs.DurationVar(&cfg.SynthesizeTimeout, "synthesize-timeout", defaultStepTimeout, "budget for one speech synthesis")

	fs.IntVar(&cfg.DownloadPasses, "download-passes", defaultDownloadPasses, "passes over the recording format list")
	fs.DurationVar(&cfg.DownloadPassDelay, "download-pass-delay", defaultDownloadPassDelay, "wait between download passes")
	fs.IntVar(&cfg.DownloadRetries, "download-retries", defaultDownloadRetries, "transport retries per recording request")

	fs.DurationVar(&cfg.AudioRetention, "audio-retention", defaultAudioRetention, "how long synthesized audio is kept (0 keeps forever)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	if err := applyEnvOverrides(fs); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// envName maps a flag name to its prefixed environment variable,
// e.g. "http-port" -> "DIALLY_HTTP_PORT".
func envName(flagName string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// applyEnvOverrides sets every flag that was not given on the command line
// from its environment variable, falling back to the legacy names.
func applyEnvOverrides(fs *flag.FlagSet) error {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	var firstErr error
	fs.VisitAll(func(f *flag.Flag) {
		if set[f.Name] || firstErr != nil {
			return
		}
		names := append([]string{envName(f.Name)}, legacyEnv[f.Name]...)
		for _, env := range names {
			val, ok := os.LookupEnv(env)
			if !ok || val == "" {
				continue
			}
			if err := fs.Set(f.Name, val); err != nil {
				firstErr = fmt.Errorf("env %s: %w", env, err)
			}
			return
		}
	})
	return firstErr
}

// validate checks that the config values are sane and that every credential
// the configured providers need is present.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	c.Provider = strings.ToLower(c.Provider)
	if c.Provider != ProviderTwilio && c.Provider != ProviderExotel {
		return fmt.Errorf("provider must be one of twilio, exotel; got %q", c.Provider)
	}
	if c.ValidateSignatures && c.Provider != ProviderTwilio {
		return fmt.Errorf("validate-signatures is only supported for provider twilio")
	}

	c.TranscribeMode = strings.ToLower(c.TranscribeMode)
	switch c.TranscribeMode {
	case TranscribeAuto, TranscribeBytes, TranscribeURL:
	default:
		return fmt.Errorf("transcribe-mode must be one of auto, bytes, url; got %q", c.TranscribeMode)
	}

	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("base-url must be an absolute URL, got %q", c.BaseURL)
		}
		c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	}

	if c.DatabaseURL != "" && !c.UsePostgres() {
		return fmt.Errorf("database-url must start with postgres:// or postgresql://")
	}

	if c.DownloadPasses < 1 {
		return fmt.Errorf("download-passes must be at least 1, got %d", c.DownloadPasses)
	}
	if c.DownloadRetries < 0 {
		return fmt.Errorf("download-retries must not be negative, got %d", c.DownloadRetries)
	}
	if c.LLMMaxTokens < 1 {
		return fmt.Errorf("llm-max-tokens must be at least 1, got %d", c.LLMMaxTokens)
	}
	for name, d := range map[string]time.Duration{
		"download-timeout":   c.DownloadTimeout,
		"transcribe-timeout": c.TranscribeTimeout,
		"generate-timeout":   c.GenerateTimeout,
		"synthesize-timeout": c.SynthesizeTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if wait := c.DownloadConfig().ExhaustWait(); c.DownloadTimeout < wait {
		return fmt.Errorf("download-timeout %s is shorter than the %s the download passes and retries can wait; raise it or lower download-passes/download-retries", c.DownloadTimeout, wait)
	}

	return c.requireCredentials()
}

func (c *Config) requireCredentials() error {
	required := []struct {
		flag, val string
	}{
		{"deepgram-api-key", c.DeepgramAPIKey},
		{"llm-api-key", c.LLMAPIKey},
		{"elevenlabs-api-key", c.ElevenLabsAPIKey},
	}
	switch c.Provider {
	case ProviderTwilio:
		required = append(required,
			struct{ flag, val string }{"twilio-account-sid", c.TwilioAccountSID},
			struct{ flag, val string }{"twilio-auth-token", c.TwilioAuthToken},
		)
	case ProviderExotel:
		required = append(required,
			struct{ flag, val string }{"exotel-account-sid", c.ExotelAccountSID},
			struct{ flag, val string }{"exotel-api-key", c.ExotelAPIKey},
			struct{ flag, val string }{"exotel-api-token", c.ExotelAPIToken},
		)
	}

	var missing []string
	for _, r := range required {
		if r.val == "" {
			missing = append(missing, r.flag)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCredential, strings.Join(missing, ", "))
	}
	return nil
}

// UsePostgres reports whether DatabaseURL selects PostgreSQL.
func (c *Config) UsePostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

// RecordingCredentials returns the basic auth pair used to fetch recordings
// from the configured provider.
func (c *Config) RecordingCredentials() (user, pass string) {
	if c.Provider == ProviderExotel {
		return c.ExotelAPIKey, c.ExotelAPIToken
	}
	return c.TwilioAccountSID, c.TwilioAuthToken
}

// DownloadConfig returns the recording downloader settings. Zero retries
// means none, not the downloader default.
func (c *Config) DownloadConfig() recording.Config {
	user, pass := c.RecordingCredentials()
	retries := c.DownloadRetries
	if retries == 0 {
		retries = -1
	}
	return recording.Config{
		Username:  user,
		Password:  pass,
		Passes:    c.DownloadPasses,
		PassDelay: c.DownloadPassDelay,
		Retries:   retries,
	}
}

// EffectiveTranscribeMode resolves "auto" for the configured provider.
// Twilio recordings need account auth so bytes are pushed; Exotel recording
// URLs are fetchable by the transcriber directly.
func (c *Config) EffectiveTranscribeMode() string {
	if c.TranscribeMode != TranscribeAuto {
		return c.TranscribeMode
	}
	if c.Provider == ProviderExotel {
		return TranscribeURL
	}
	return TranscribeBytes
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
