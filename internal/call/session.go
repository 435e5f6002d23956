package call

// State is the lifecycle position of a call.
type State string

// Call states. A call moves AwaitingFirstInput -> AwaitingRecording ->
// Processing -> Responded, loops back through Processing on every recording,
// and ends in Terminated.
const (
	StateAwaitingFirstInput State = "awaiting_first_input"
	StateAwaitingRecording  State = "awaiting_recording"
	StateProcessing         State = "processing"
	StateResponded          State = "responded"
	StateTerminated         State = "terminated"
)

// Turn outcomes stored with each CallTurn.
const (
	OutcomePlayed             = "played"
	OutcomeSaid               = "said"
	OutcomeRetryDownload      = "retry_download"
	OutcomeRetryTranscription = "retry_transcription"
	OutcomeRetryEmpty         = "retry_empty"
)

// Webhook paths the provider is pointed at.
const (
	PathHandleCall       = "/handle_call"
	PathProcessRecording = "/process_recording"
	PathRecordingStatus  = "/recording_status"
	PathCallStatus       = "/call_status"
	PathStatic           = "/static/"
)

// Caller-facing phrases.
const (
	Greeting          = "Hello! Please speak after the beep, and I will respond."
	NoAudioGoodbye    = "Sorry, I did not receive any audio. Goodbye."
	RetryDownload     = "Sorry, I could not retrieve your recording. Please try again after the beep."
	RetryTranscribe   = "Sorry, I had trouble understanding the audio. Please try again after the beep."
	RetryEmpty        = "Sorry, I didn't catch that. Please try again after the beep."
	CallAlreadyEnded  = "This call has ended. Goodbye."
	SystemError       = "Sorry, something went wrong on our side. Goodbye."
	recordMaxSeconds  = 30
	recordSilenceSecs = 5
)

// Inbound carries the provider fields of one webhook request.
type Inbound struct {
	CallID          string
	From            string
	RecordingURL    string
	RecordingStatus string
	// BaseURL is the absolute public URL of this service, without a
	// trailing slash. Action and audio URLs in the markup are built on it.
	BaseURL string
}

// terminalCallStatuses are provider call statuses that end a call.
var terminalCallStatuses = map[string]bool{
	"completed": true,
	"busy":      true,
	"failed":    true,
	"no-answer": true,
	"canceled":  true,
}

// IsTerminalStatus reports whether a provider call status ends the call.
func IsTerminalStatus(status string) bool {
	return terminalCallStatuses[status]
}
