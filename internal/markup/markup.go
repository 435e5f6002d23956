// Package markup renders call-control instructions in the XML dialect of
// the telephony provider.
package markup

import "fmt"

// ContentType is sent with every markup response.
const ContentType = "text/xml"

// Verb is one call-control instruction.
type Verb interface {
	verb()
}

// Pause waits silently.
type Pause struct {
	Seconds int
}

// Say speaks text with the provider's built-in voice.
type Say struct {
	Text string
}

// Play streams audio from a URL.
type Play struct {
	URL string
}

// Record captures caller audio and posts the result to Action.
type Record struct {
	Action         string
	StatusCallback string
	MaxLength      int  // seconds
	Timeout        int  // seconds of silence that end the recording
	TrimSilence    bool // strip leading and trailing silence
	PlayBeep       bool
}

// Redirect moves call control to another webhook.
type Redirect struct {
	URL string
}

// Hangup ends the call.
type Hangup struct{}

func (Pause) verb()    {}
func (Say) verb()      {}
func (Play) verb()     {}
func (Record) verb()   {}
func (Redirect) verb() {}
func (Hangup) verb()   {}

// Dialect renders verbs into a complete provider response document.
type Dialect interface {
	Name() string
	Render(verbs ...Verb) (string, error)
}

// ForProvider returns the dialect for a configured provider name.
func ForProvider(provider string) (Dialect, error) {
	switch provider {
	case "twilio":
		return Twilio{}, nil
	case "exotel":
		return Exotel{}, nil
	default:
		return nil, fmt.Errorf("unknown telephony provider %q", provider)
	}
}
