package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jak0707/dially/internal/call"
	"github.com/jak0707/dially/internal/config"
	"github.com/jak0707/dially/internal/database"
	"github.com/jak0707/dially/internal/llm"
	"github.com/jak0707/dially/internal/markup"
	"github.com/jak0707/dially/internal/media"
	"github.com/jak0707/dially/internal/recording"
	"github.com/jak0707/dially/internal/stt"
	"github.com/jak0707/dially/internal/tts"
)

// upstream stands in for the recording host, Deepgram, the chat completions
// endpoint and ElevenLabs on one test server.
type upstream struct {
	srv *httptest.Server

	mu      sync.Mutex
	prompts []string
	speech  []byte
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{speech: bytes.Repeat([]byte{0xff, 0xf3, 0x44, 0xc4}, 2048)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /rec/RE1", func(w http.ResponseWriter, r *http.Request) {
		if user, pass, ok := r.BasicAuth(); !ok || user != "AC1" || pass != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		w.Write([]byte("RIFF....WAVEfmt "))
	})
	mux.HandleFunc("POST /v1/listen", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":{"channels":[{"alternatives":[{"transcript":"What is the weather","confidence":0.98}]}]}}`))
	})
	mux.HandleFunc("POST /v1beta/openai/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		u.mu.Lock()
		for _, m := range req.Messages {
			u.prompts = append(u.prompts, m.Content)
		}
		u.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"It is sunny and warm."}}]}`))
	})
	mux.HandleFunc("POST /v1/text-to-speech/voice1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write(u.speech)
	})

	u.srv = httptest.NewServer(mux)
	t.Cleanup(u.srv.Close)
	return u
}

func newPipelineServer(t *testing.T, up *upstream) (*Server, *media.Store) {
	t.Helper()
	dir := t.TempDir()
	db, err := database.Open(dir)
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := media.NewStore(dir + "/audio")
	if err != nil {
		t.Fatalf("media.NewStore: %v", err)
	}

	orch := call.NewOrchestrator(call.Deps{
		Dialect:  markup.Twilio{},
		Sessions: database.NewCallSessionRepository(db),
		Turns:    database.NewCallTurnRepository(db),
		Downloader: recording.NewDownloader(recording.Config{
			Username:  "AC1",
			Password:  "tok",
			Passes:    1,
			PassDelay: time.Millisecond,
			Retries:   -1,
		}),
		Transcriber: stt.NewClient("dg-key", up.srv.URL, "nova-2"),
		Generator:   llm.NewGenerator("llm-key", up.srv.URL+"/v1beta/openai/", "gemini-1.5-flash", 200),
		Synthesizer: tts.NewSynthesizer("el-key", up.srv.URL, "voice1", "eleven_multilingual_v2", store),
		Artifacts:   store,
	}, call.Options{})

	srv, err := NewServer(&config.Config{Provider: config.ProviderTwilio, BaseURL: testBaseURL}, orch, store, nil, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(srv.Close)
	return srv, store
}

var playRe = regexp.MustCompile(`<Play>([^<]+)</Play>`)

func TestConversationTurnEndToEnd(t *testing.T) {
	up := newUpstream(t)
	srv, store := newPipelineServer(t, up)

	serve := func(req *http.Request) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		srv.ServeHTTP(rr, req)
		return rr
	}

	rr := serve(formRequest("/handle_call", url.Values{"CallSid": {"CA9"}, "From": {"+15551234567"}}))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), call.Greeting) {
		t.Fatalf("greeting: %d %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), testBaseURL+"/process_recording") {
		t.Errorf("greeting does not record into /process_recording: %s", rr.Body.String())
	}

	rr = serve(formRequest("/process_recording", url.Values{
		"CallSid":      {"CA9"},
		"RecordingUrl": {up.srv.URL + "/rec/RE1"},
	}))
	if rr.Code != http.StatusOK {
		t.Fatalf("process_recording: %d", rr.Code)
	}
	doc := rr.Body.String()

	m := playRe.FindStringSubmatch(doc)
	if m == nil {
		t.Fatalf("turn markup has no <Play>: %s", doc)
	}
	if m[1] != testBaseURL+"/static/CA9-1.mp3" {
		t.Errorf("play url = %q", m[1])
	}
	if !strings.Contains(doc, "<Record") {
		t.Errorf("turn markup does not record again: %s", doc)
	}

	up.mu.Lock()
	prompts := strings.Join(up.prompts, "\n")
	up.mu.Unlock()
	if !strings.Contains(prompts, "Respond to the following user input concisely and naturally: What is the weather") {
		t.Errorf("generator prompt = %q", prompts)
	}

	// The provider fetches the artifact it was told to play.
	rr = serve(httptest.NewRequest(http.MethodGet, strings.TrimPrefix(m[1], testBaseURL), nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("static fetch: %d", rr.Code)
	}
	if !bytes.Equal(rr.Body.Bytes(), up.speech) {
		t.Error("served audio differs from synthesized audio")
	}

	// Hanging up removes the call's audio.
	rr = serve(formRequest("/call_status", url.Values{"CallSid": {"CA9"}, "CallStatus": {"completed"}}))
	if rr.Code != http.StatusOK {
		t.Fatalf("call_status: %d", rr.Code)
	}
	if count, _, err := store.Stats(); err != nil || count != 0 {
		t.Errorf("artifacts after hangup = %d, %v", count, err)
	}
}
