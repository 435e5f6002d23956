// Package call drives a phone call through its record, transcribe, reply
// and playback turns and produces the provider markup for each webhook.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jak0707/dially/internal/database"
	"github.com/jak0707/dially/internal/database/models"
	"github.com/jak0707/dially/internal/llm"
	"github.com/jak0707/dially/internal/markup"
	"github.com/jak0707/dially/internal/media"
	"github.com/jak0707/dially/internal/recording"
)

// Downloader fetches a caller recording.
type Downloader interface {
	Download(ctx context.Context, rec recording.Recording) (*recording.Audio, error)
}

// Transcriber turns audio into text.
type Transcriber interface {
	TranscribeAudio(ctx context.Context, audio []byte, contentType string) (string, error)
	TranscribeURL(ctx context.Context, audioURL string) (string, error)
}

// Generator produces the reply to one transcript.
type Generator interface {
	Generate(ctx context.Context, transcript string) (string, error)
}

// Synthesizer renders and publishes reply audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, name string) (*media.Artifact, error)
}

// ArtifactRemover deletes a call's audio when the call ends.
type ArtifactRemover interface {
	RemoveCall(callID string) (int, error)
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Dialect     markup.Dialect
	Sessions    database.CallSessionRepository
	Turns       database.CallTurnRepository
	Downloader  Downloader
	Transcriber Transcriber
	Generator   Generator
	Synthesizer Synthesizer
	Artifacts   ArtifactRemover
}

// Options tune the pipeline.
type Options struct {
	// TranscribeFromURL hands the recording URL to the transcriber instead
	// of downloading the audio first.
	TranscribeFromURL bool

	DownloadTimeout   time.Duration
	TranscribeTimeout time.Duration
	GenerateTimeout   time.Duration
	SynthesizeTimeout time.Duration
}

// Orchestrator owns the per-call state machine. Each webhook runs its
// pipeline steps strictly in order on the caller's goroutine.
type Orchestrator struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
}

// NewOrchestrator creates an Orchestrator. A zero download timeout defaults
// to 90s, which covers the downloader's default retry budget; the other
// zero timeouts default to 30s.
func NewOrchestrator(deps Deps, opts Options) *Orchestrator {
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = 90 * time.Second
	}
	for _, d := range []*time.Duration{&opts.TranscribeTimeout, &opts.GenerateTimeout, &opts.SynthesizeTimeout} {
		if *d <= 0 {
			*d = 30 * time.Second
		}
	}
	return &Orchestrator{
		deps:   deps,
		opts:   opts,
		logger: slog.With("subsystem", "call"),
	}
}

// recordVerbs ends every turn: record the caller, and if the provider
// skips the action because nothing was captured, come back without a
// recording so the no-audio branch runs.
func recordVerbs(baseURL string) []markup.Verb {
	return []markup.Verb{
		markup.Record{
			Action:         baseURL + PathProcessRecording,
			StatusCallback: baseURL + PathRecordingStatus,
			MaxLength:      recordMaxSeconds,
			Timeout:        recordSilenceSecs,
			TrimSilence:    true,
			PlayBeep:       true,
		},
		markup.Redirect{URL: baseURL + PathProcessRecording},
	}
}

func (o *Orchestrator) render(verbs ...markup.Verb) (string, error) {
	doc, err := o.deps.Dialect.Render(verbs...)
	if err != nil {
		return "", fmt.Errorf("rendering markup: %w", err)
	}
	return doc, nil
}

// Greet answers a new call: it opens the session and prompts the caller
// for the first recording.
func (o *Orchestrator) Greet(ctx context.Context, in Inbound) (string, error) {
	logger := o.logger.With("call_id", in.CallID)

	err := o.deps.Sessions.Begin(ctx, &models.CallSession{
		CallID:   in.CallID,
		Provider: o.deps.Dialect.Name(),
		Caller:   in.From,
		State:    string(StateAwaitingFirstInput),
	})
	if err != nil {
		logger.Error("failed to open call session", "error", err)
	}

	verbs := append([]markup.Verb{
		markup.Pause{Seconds: 1},
		markup.Say{Text: Greeting},
	}, recordVerbs(in.BaseURL)...)

	doc, err := o.render(verbs...)
	if err != nil {
		return "", err
	}

	o.setState(ctx, logger, in.CallID, StateAwaitingRecording)
	logger.Info("call answered", "from", in.From)
	return doc, nil
}

// ProcessRecording runs one turn for a finished recording.
func (o *Orchestrator) ProcessRecording(ctx context.Context, in Inbound) (string, error) {
	logger := o.logger.With("call_id", in.CallID)

	session, err := o.deps.Sessions.GetByCallID(ctx, in.CallID)
	if err != nil {
		logger.Error("failed to load call session", "error", err)
	}
	if session != nil && session.State == string(StateTerminated) {
		logger.Warn("recording webhook for ended call")
		return o.render(markup.Say{Text: CallAlreadyEnded}, markup.Hangup{})
	}

	if in.RecordingURL == "" {
		logger.Info("no recording received, ending call")
		doc, err := o.render(markup.Say{Text: NoAudioGoodbye}, markup.Hangup{})
		if err != nil {
			return "", err
		}
		o.endSession(ctx, logger, in.CallID)
		return doc, nil
	}

	start := time.Now()
	turnNo, artifactName := o.nextTurn(ctx, logger, in.CallID)
	logger = logger.With("turn", turnNo)

	turn := &models.CallTurn{
		CallID:       in.CallID,
		Turn:         turnNo,
		RecordingURL: in.RecordingURL,
	}

	verbs := o.runTurn(ctx, logger, in, turn, artifactName)
	verbs = append(verbs, recordVerbs(in.BaseURL)...)

	doc, err := o.render(verbs...)
	if err != nil {
		return "", err
	}

	turn.DurationMS = time.Since(start).Milliseconds()
	o.saveTurn(ctx, logger, turn)
	o.setState(ctx, logger, in.CallID, StateResponded)

	logger.Info("turn complete", "outcome", turn.Outcome, "duration_ms", turn.DurationMS)
	return doc, nil
}

// runTurn executes download, transcribe, generate and synthesize in order
// and returns the verbs that precede the next record prompt.
func (o *Orchestrator) runTurn(ctx context.Context, logger *slog.Logger, in Inbound, turn *models.CallTurn, artifactName string) []markup.Verb {
	transcript, err := o.transcribe(ctx, logger, in)
	transcript = strings.TrimSpace(transcript)
	switch {
	case errors.Is(err, recording.ErrDownloadFailed):
		logger.Warn("recording download failed", "error", err)
		turn.Outcome = OutcomeRetryDownload
		return []markup.Verb{markup.Say{Text: RetryDownload}}
	case err != nil:
		// stt.ErrTranscriptionFailed, or the request was cancelled.
		logger.Warn("transcription failed", "error", err)
		turn.Outcome = OutcomeRetryTranscription
		return []markup.Verb{markup.Say{Text: RetryTranscribe}}
	case transcript == "":
		logger.Info("empty transcript")
		turn.Outcome = OutcomeRetryEmpty
		return []markup.Verb{markup.Say{Text: RetryEmpty}}
	}
	turn.Transcript = transcript
	logger.Info("caller said", "transcript", transcript)

	reply := o.generate(ctx, logger, transcript)
	turn.Reply = reply

	sctx, cancel := context.WithTimeout(ctx, o.opts.SynthesizeTimeout)
	defer cancel()
	art, err := o.deps.Synthesizer.Synthesize(sctx, reply, artifactName)
	if err != nil {
		logger.Warn("synthesis failed, falling back to provider voice", "error", err)
		turn.Outcome = OutcomeSaid
		o.saveReply(ctx, logger, in.CallID, transcript, reply, "")
		return []markup.Verb{markup.Say{Text: reply}}
	}

	turn.AudioFile = art.Name
	turn.Outcome = OutcomePlayed
	o.saveReply(ctx, logger, in.CallID, transcript, reply, art.Name)
	return []markup.Verb{markup.Play{URL: in.BaseURL + PathStatic + art.Name}}
}

// transcribe obtains the caller's words, downloading the recording first
// unless the transcriber fetches URLs itself.
func (o *Orchestrator) transcribe(ctx context.Context, logger *slog.Logger, in Inbound) (string, error) {
	if o.opts.TranscribeFromURL {
		tctx, cancel := context.WithTimeout(ctx, o.opts.TranscribeTimeout)
		defer cancel()
		return o.deps.Transcriber.TranscribeURL(tctx, in.RecordingURL)
	}

	dctx, cancel := context.WithTimeout(ctx, o.opts.DownloadTimeout)
	audio, err := o.deps.Downloader.Download(dctx, recording.Recording{
		URL:    in.RecordingURL,
		Status: in.RecordingStatus,
	})
	cancel()
	if err != nil {
		return "", err
	}
	logger.Debug("recording fetched", "url", audio.URL, "bytes", len(audio.Data))

	tctx, cancel := context.WithTimeout(ctx, o.opts.TranscribeTimeout)
	defer cancel()
	return o.deps.Transcriber.TranscribeAudio(tctx, audio.Data, audio.ContentType)
}

// generate never fails: provider errors become the spoken apology.
func (o *Orchestrator) generate(ctx context.Context, logger *slog.Logger, transcript string) string {
	gctx, cancel := context.WithTimeout(ctx, o.opts.GenerateTimeout)
	defer cancel()

	reply, err := o.deps.Generator.Generate(gctx, transcript)
	if err != nil {
		if !errors.Is(err, llm.ErrGenerationFailed) {
			err = fmt.Errorf("%w: %w", llm.ErrGenerationFailed, err)
		}
		logger.Warn("reply generation failed", "error", err)
		return llm.FallbackReply
	}
	return reply
}

// nextTurn reserves a turn number. If the store is unavailable the call
// continues with a unique ad hoc artifact name.
func (o *Orchestrator) nextTurn(ctx context.Context, logger *slog.Logger, callID string) (int, string) {
	turn, err := o.deps.Sessions.NextTurn(ctx, callID, o.deps.Dialect.Name(), string(StateProcessing))
	if err != nil {
		logger.Error("failed to reserve turn", "error", err)
		return 0, media.AdHocName()
	}
	return turn, media.ArtifactName(callID, turn)
}

// RecordingStatus stores the provider's recording status callback.
func (o *Orchestrator) RecordingStatus(ctx context.Context, callID, status string) {
	logger := o.logger.With("call_id", callID)
	logger.Debug("recording status", "status", status)
	if callID == "" {
		return
	}
	if err := o.deps.Sessions.SetRecordingStatus(ctx, callID, status); err != nil {
		logger.Error("failed to store recording status", "error", err)
	}
}

// CallStatus handles the provider's call status callback. Terminal statuses
// end the session and delete the call's audio.
func (o *Orchestrator) CallStatus(ctx context.Context, callID, status string) {
	logger := o.logger.With("call_id", callID)
	if callID == "" || !IsTerminalStatus(status) {
		logger.Debug("call status", "status", status)
		return
	}
	o.endSession(ctx, logger, callID)
	logger.Info("call ended", "status", status)
}

func (o *Orchestrator) endSession(ctx context.Context, logger *slog.Logger, callID string) {
	if err := o.deps.Sessions.End(ctx, callID, string(StateTerminated)); err != nil {
		logger.Error("failed to end call session", "error", err)
	}
	if o.deps.Artifacts == nil {
		return
	}
	removed, err := o.deps.Artifacts.RemoveCall(callID)
	if err != nil {
		logger.Warn("failed to remove call audio", "error", err)
		return
	}
	if removed > 0 {
		logger.Debug("call audio removed", "files", removed)
	}
}

func (o *Orchestrator) setState(ctx context.Context, logger *slog.Logger, callID string, state State) {
	if err := o.deps.Sessions.SetState(ctx, callID, string(state)); err != nil {
		logger.Error("failed to update call state", "state", state, "error", err)
	}
}

func (o *Orchestrator) saveReply(ctx context.Context, logger *slog.Logger, callID, transcript, reply, audio string) {
	if err := o.deps.Sessions.SaveReply(ctx, callID, transcript, reply, audio); err != nil {
		logger.Error("failed to save reply", "error", err)
	}
}

func (o *Orchestrator) saveTurn(ctx context.Context, logger *slog.Logger, turn *models.CallTurn) {
	if turn.Turn == 0 {
		return
	}
	if err := o.deps.Turns.Create(ctx, turn); err != nil {
		logger.Error("failed to record turn", "error", err)
	}
}

// Synthesize renders text outside a call, for the test endpoint.
func (o *Orchestrator) Synthesize(ctx context.Context, text string) (*media.Artifact, error) {
	sctx, cancel := context.WithTimeout(ctx, o.opts.SynthesizeTimeout)
	defer cancel()
	return o.deps.Synthesizer.Synthesize(sctx, text, media.AdHocName())
}

// Transcribe transcribes a recording URL with the configured mode, for the
// test endpoint.
func (o *Orchestrator) Transcribe(ctx context.Context, audioURL string) (string, error) {
	return o.transcribe(ctx, o.logger, Inbound{RecordingURL: audioURL})
}

// TranscribeAudio transcribes uploaded audio, for the test endpoint.
func (o *Orchestrator) TranscribeAudio(ctx context.Context, audio []byte, contentType string) (string, error) {
	tctx, cancel := context.WithTimeout(ctx, o.opts.TranscribeTimeout)
	defer cancel()
	return o.deps.Transcriber.TranscribeAudio(tctx, audio, contentType)
}

// Reply generates a reply for text, for the test endpoint. Unlike a call
// turn, failures are returned to the caller.
func (o *Orchestrator) Reply(ctx context.Context, text string) (string, error) {
	gctx, cancel := context.WithTimeout(ctx, o.opts.GenerateTimeout)
	defer cancel()
	return o.deps.Generator.Generate(gctx, text)
}
