package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestArtifactName(t *testing.T) {
	tests := []struct {
		callID string
		turn   int
		want   string
	}{
		{"CA123", 1, "CA123-1.mp3"},
		{"CA123", 12, "CA123-12.mp3"},
		{"../../etc/passwd", 2, "______etc_passwd-2.mp3"},
		{"", 1, "call-1.mp3"},
		{"ab-cd", 3, "ab_cd-3.mp3"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := ArtifactName(tt.callID, tt.turn); got != tt.want {
				t.Errorf("ArtifactName(%q, %d) = %q, want %q", tt.callID, tt.turn, got, tt.want)
			}
		})
	}

	if AdHocName() == AdHocName() {
		t.Error("AdHocName() returned the same name twice")
	}
}

func TestArtifactCallID(t *testing.T) {
	tests := []struct {
		name   string
		wantID string
		wantOK bool
	}{
		{ArtifactName("CA123", 4), "CA123", true},
		{ArtifactName("ab-cd", 1), "ab_cd", true},
		{"CA123-12.mp3", "CA123", true},
		{AdHocName(), "", false},
		{"CA123.mp3", "", false},
		{"CA123-x.mp3", "", false},
		{"CA123-1.wav", "", false},
		{"-1.mp3", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := ArtifactCallID(tt.name)
			if id != tt.wantID || ok != tt.wantOK {
				t.Errorf("ArtifactCallID(%q) = %q, %v, want %q, %v", tt.name, id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}

func TestPublishAndOpen(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "audio"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	// Larger than one chunk so the copy loop runs more than once.
	payload := bytes.Repeat([]byte{0x49, 0x44, 0x33}, 10000)
	art, err := store.Publish("CA1-1.mp3", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if art.Size != int64(len(payload)) {
		t.Errorf("Size = %d, want %d", art.Size, len(payload))
	}

	f, info, err := store.Open("CA1-1.mp3")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	got, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("reading artifact: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("artifact content differs from published bytes")
	}
	if info.Size() != int64(len(payload)) {
		t.Errorf("info.Size() = %d", info.Size())
	}

	entries, _ := os.ReadDir(store.Dir())
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), tempPrefix) {
			t.Errorf("temp file %s left behind", e.Name())
		}
	}
}

// sizedReader records every buffer size it is asked to fill. It embeds a
// bufio-style WriteTo so a plain io.Copy would bypass Read entirely.
type sizedReader struct {
	r     *bytes.Reader
	sizes []int
}

func (s *sizedReader) Read(p []byte) (int, error) {
	s.sizes = append(s.sizes, len(p))
	return s.r.Read(p)
}

func (s *sizedReader) WriteTo(w io.Writer) (int64, error) {
	s.sizes = append(s.sizes, -1)
	return s.r.WriteTo(w)
}

func TestPublishCopiesInChunks(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	payload := bytes.Repeat([]byte{0xff, 0xf3}, 3*chunkSize)
	src := &sizedReader{r: bytes.NewReader(payload)}
	art, err := store.Publish("CA2-1.mp3", src)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if art.Size != int64(len(payload)) {
		t.Errorf("Size = %d, want %d", art.Size, len(payload))
	}
	if len(src.sizes) < len(payload)/chunkSize {
		t.Fatalf("reads = %v, want at least %d chunked reads", src.sizes, len(payload)/chunkSize)
	}
	for _, n := range src.sizes {
		if n != chunkSize {
			t.Fatalf("read sizes = %v, want every read to be %d bytes", src.sizes, chunkSize)
		}
	}
}

type failingReader struct{ n int }

func (r *failingReader) Read(p []byte) (int, error) {
	if r.n > 0 {
		r.n--
		return copy(p, "partial"), nil
	}
	return 0, errors.New("upstream reset")
}

func TestPublishFailureLeavesNothing(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	if _, err := store.Publish("CA1-1.mp3", &failingReader{n: 3}); err == nil {
		t.Fatal("Publish succeeded with a failing reader")
	}
	if _, _, err := store.Open("CA1-1.mp3"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open after failed publish: err = %v, want ErrNotFound", err)
	}
	entries, _ := os.ReadDir(store.Dir())
	if len(entries) != 0 {
		t.Errorf("directory has %d entries after failed publish, want 0", len(entries))
	}
}

func TestOpenRejectsTraversal(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	for _, name := range []string{"", ".", "..", "../secret.mp3", "a/b.mp3", `a\b.mp3`, ".partial-123"} {
		if _, _, err := store.Open(name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Open(%q) err = %v, want ErrInvalidName", name, err)
		}
	}
	if _, err := store.Publish("../escape.mp3", strings.NewReader("x")); !errors.Is(err, ErrInvalidName) {
		t.Errorf("Publish(../escape.mp3) err = %v, want ErrInvalidName", err)
	}
}

func TestRemoveCall(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	for _, name := range []string{
		ArtifactName("CA1", 1), ArtifactName("CA1", 2),
		ArtifactName("CA12", 1), ArtifactName("CA2", 1), "CA1-notes.mp3",
	} {
		if _, err := store.Publish(name, strings.NewReader("audio")); err != nil {
			t.Fatalf("Publish(%s): %v", name, err)
		}
	}

	removed, err := store.RemoveCall("CA1")
	if err != nil {
		t.Fatalf("RemoveCall: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	for _, keep := range []string{"CA12-1.mp3", "CA2-1.mp3", "CA1-notes.mp3"} {
		if _, _, err := store.Open(keep); err != nil {
			t.Errorf("%s was removed: %v", keep, err)
		}
	}
}

func TestRemoveOlderThan(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	old, _ := store.Publish("old-1.mp3", strings.NewReader("old"))
	if _, err := store.Publish("new-1.mp3", strings.NewReader("new")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(old.Path, past, past); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	removed, err := store.RemoveOlderThan(time.Hour)
	if err != nil {
		t.Fatalf("RemoveOlderThan: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	count, size, err := store.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if count != 1 || size != 3 {
		t.Errorf("Stats() = %d, %d; want 1, 3", count, size)
	}
}

func TestStartCleanupTicker(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	art, _ := store.Publish("stale-1.mp3", strings.NewReader("x"))
	past := time.Now().Add(-time.Hour)
	os.Chtimes(art.Path, past, past)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartCleanupTicker(ctx, store, time.Minute, 10*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, _, err := store.Open("stale-1.mp3"); errors.Is(err, ErrNotFound) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("stale artifact was not removed by the cleanup ticker")
}
