package models

import "time"

// CallSession is the persisted state of one phone call.
type CallSession struct {
	CallID          string
	Provider        string // "twilio" | "exotel"
	Caller          string
	State           string
	Turn            int // number of turns started so far
	LastTranscript  string
	LastReply       string
	LastAudio       string // artifact file name of the last synthesized reply
	RecordingStatus string // last status reported by the provider's recording callback
	StartedAt       time.Time
	UpdatedAt       time.Time
	EndedAt         *time.Time
}

// CallTurn records one record-transcribe-reply cycle.
type CallTurn struct {
	ID           int64
	CallID       string
	Turn         int
	RecordingURL string
	Transcript   string
	Reply        string
	AudioFile    string
	Outcome      string
	DurationMS   int64
	CreatedAt    time.Time
}
