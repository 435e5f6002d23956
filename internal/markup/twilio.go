package markup

import (
	"fmt"
	"strconv"

	"github.com/twilio/twilio-go/twiml"
)

// Twilio renders TwiML.
type Twilio struct{}

// Name implements Dialect.
func (Twilio) Name() string { return "twilio" }

// Render implements Dialect.
func (Twilio) Render(verbs ...Verb) (string, error) {
	elems := make([]twiml.Element, 0, len(verbs))
	for _, v := range verbs {
		switch v := v.(type) {
		case Pause:
			elems = append(elems, &twiml.VoicePause{Length: strconv.Itoa(v.Seconds)})
		case Say:
			elems = append(elems, &twiml.VoiceSay{Message: v.Text})
		case Play:
			elems = append(elems, &twiml.VoicePlay{Url: v.URL})
		case Record:
			rec := &twiml.VoiceRecord{
				Action:    v.Action,
				Method:    "POST",
				MaxLength: strconv.Itoa(v.MaxLength),
				Timeout:   strconv.Itoa(v.Timeout),
				PlayBeep:  strconv.FormatBool(v.PlayBeep),
			}
			if v.TrimSilence {
				rec.Trim = "trim-silence"
			}
			if v.StatusCallback != "" {
				rec.RecordingStatusCallback = v.StatusCallback
				rec.RecordingStatusCallbackMethod = "POST"
			}
			elems = append(elems, rec)
		case Redirect:
			elems = append(elems, &twiml.VoiceRedirect{Url: v.URL, Method: "POST"})
		case Hangup:
			elems = append(elems, &twiml.VoiceHangup{})
		default:
			return "", fmt.Errorf("twiml: unsupported verb %T", v)
		}
	}

	doc, err := twiml.Voice(elems)
	if err != nil {
		return "", fmt.Errorf("building twiml: %w", err)
	}
	return doc, nil
}
