package markup

import (
	"encoding/xml"
	"fmt"
)

// Exotel renders ExoML, which shares TwiML's verb names but has no Go
// builder library.
type Exotel struct{}

// Name implements Dialect.
func (Exotel) Name() string { return "exotel" }

type exoResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

type exoPause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr"`
}

type exoSay struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type exoPlay struct {
	XMLName xml.Name `xml:"Play"`
	URL     string   `xml:",chardata"`
}

type exoRecord struct {
	XMLName        xml.Name `xml:"Record"`
	Action         string   `xml:"action,attr"`
	Method         string   `xml:"method,attr"`
	MaxLength      int      `xml:"maxLength,attr"`
	Timeout        int      `xml:"timeout,attr"`
	PlayBeep       bool     `xml:"playBeep,attr"`
	Trim           string   `xml:"trim,attr,omitempty"`
	StatusCallback string   `xml:"recordingStatusCallback,attr,omitempty"`
}

type exoRedirect struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr"`
	URL     string   `xml:",chardata"`
}

type exoHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// Render implements Dialect.
func (Exotel) Render(verbs ...Verb) (string, error) {
	resp := exoResponse{Verbs: make([]any, 0, len(verbs))}
	for _, v := range verbs {
		switch v := v.(type) {
		case Pause:
			resp.Verbs = append(resp.Verbs, exoPause{Length: v.Seconds})
		case Say:
			resp.Verbs = append(resp.Verbs, exoSay{Text: v.Text})
		case Play:
			resp.Verbs = append(resp.Verbs, exoPlay{URL: v.URL})
		case Record:
			rec := exoRecord{
				Action:         v.Action,
				Method:         "POST",
				MaxLength:      v.MaxLength,
				Timeout:        v.Timeout,
				PlayBeep:       v.PlayBeep,
				StatusCallback: v.StatusCallback,
			}
			if v.TrimSilence {
				rec.Trim = "trim-silence"
			}
			resp.Verbs = append(resp.Verbs, rec)
		case Redirect:
			resp.Verbs = append(resp.Verbs, exoRedirect{Method: "POST", URL: v.URL})
		case Hangup:
			resp.Verbs = append(resp.Verbs, exoHangup{})
		default:
			return "", fmt.Errorf("exoml: unsupported verb %T", v)
		}
	}

	out, err := xml.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("building exoml: %w", err)
	}
	return xml.Header + string(out), nil
}
