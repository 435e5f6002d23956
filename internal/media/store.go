package media

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// chunkSize is the buffer used when streaming audio to disk.
const chunkSize = 8192

// tempPrefix marks files that are still being written. They are never
// served and are ignored by listing operations.
const tempPrefix = ".partial-"

var (
	// ErrNotFound is returned by Open for names with no published artifact.
	ErrNotFound = errors.New("artifact not found")
	// ErrInvalidName is returned for names that could escape the store
	// directory or refer to an unpublished file.
	ErrInvalidName = errors.New("invalid artifact name")
)

// Artifact is a published audio file.
type Artifact struct {
	Name string
	Path string
	Size int64
}

// Store keeps synthesized audio on local disk. Files become visible only
// once completely written.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates the directory if needed and returns a store rooted there.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating audio directory: %w", err)
	}
	return &Store{
		dir:    dir,
		logger: slog.With("subsystem", "media"),
	}, nil
}

// Dir returns the directory artifacts are stored in.
func (s *Store) Dir() string {
	return s.dir
}

// ArtifactName returns the file name for a call's turn. Distinct calls and
// distinct turns of the same call never collide.
func ArtifactName(callID string, turn int) string {
	return sanitizeCallID(callID) + "-" + strconv.Itoa(turn) + ".mp3"
}

// ArtifactCallID returns the sanitized call id an ArtifactName was built
// from. Ad hoc and foreign names report false.
func ArtifactCallID(name string) (string, bool) {
	base, ok := strings.CutSuffix(name, ".mp3")
	if !ok {
		return "", false
	}
	i := strings.LastIndexByte(base, '-')
	if i <= 0 || i == len(base)-1 {
		return "", false
	}
	id, turn := base[:i], base[i+1:]
	if _, err := strconv.Atoi(turn); err != nil || strings.ContainsAny(id, "-.") {
		return "", false
	}
	return id, true
}

// AdHocName returns a unique file name for synthesis outside a call.
func AdHocName() string {
	return "adhoc-" + uuid.NewString() + ".mp3"
}

// sanitizeCallID keeps only characters that are safe in a file name.
func sanitizeCallID(callID string) string {
	var b strings.Builder
	for _, r := range callID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "call"
	}
	return b.String()
}

func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if name != filepath.Base(name) || strings.ContainsAny(name, `/\`) {
		return false
	}
	return !strings.HasPrefix(name, ".")
}

// Publish streams r to a temporary file and renames it to name once the
// write has completed, so readers never observe a partial artifact.
func (s *Store) Publish(name string, r io.Reader) (*Artifact, error) {
	if !validName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	tmp, err := os.CreateTemp(s.dir, tempPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	n, err := copyChunks(tmp, r)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("writing audio: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return nil, fmt.Errorf("syncing audio: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("closing audio: %w", err)
	}

	final := filepath.Join(s.dir, name)
	if err := os.Rename(tmpPath, final); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("publishing audio: %w", err)
	}

	s.logger.Debug("artifact published", "name", name, "bytes", n)
	return &Artifact{Name: name, Path: final, Size: n}, nil
}

// copyChunks moves r to w in reads of at most chunkSize bytes. io.Copy
// would hand the whole transfer to ReaderFrom or WriterTo when either side
// implements them.
func copyChunks(w io.Writer, r io.Reader) (int64, error) {
	buf := make([]byte, chunkSize)
	var written int64
	for {
		nr, rerr := r.Read(buf)
		if nr > 0 {
			nw, werr := w.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// Open returns a published artifact for reading. The caller closes the file.
func (s *Store) Open(name string) (*os.File, os.FileInfo, error) {
	if !validName(name) {
		return nil, nil, ErrInvalidName
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("opening artifact: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("stat artifact: %w", err)
	}
	if info.IsDir() {
		f.Close()
		return nil, nil, ErrNotFound
	}
	return f, info, nil
}

// RemoveCall deletes every artifact produced for callID and returns how
// many were removed.
func (s *Store) RemoveCall(callID string) (int, error) {
	prefix := sanitizeCallID(callID) + "-"
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("reading audio directory: %w", err)
	}

	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".mp3") {
			continue
		}
		// Only <prefix><turn>.mp3 belongs to the call.
		turn := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".mp3")
		if _, err := strconv.Atoi(turn); err != nil {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("removing %s: %w", name, err)
		}
		removed++
	}
	return removed, nil
}

// RemoveOlderThan deletes artifacts and abandoned temp files whose
// modification time is older than age.
func (s *Store) RemoveOlderThan(age time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("reading audio directory: %w", err)
	}

	cutoff := time.Now().Add(-age)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove audio file", "name", e.Name(), "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// Stats returns the number and total size of published artifacts.
func (s *Store) Stats() (count int, bytes int64, err error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, 0, fmt.Errorf("reading audio directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		count++
		bytes += info.Size()
	}
	return count, bytes, nil
}
