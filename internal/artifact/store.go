// Package artifact persists and serves named files inside a session's
// directory. It knows nothing about HTTP; refs carry just enough for the
// API surface to build retrieval URLs.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dudu/inpaintd/internal/session"
)

// ErrNotFound is returned when the named artifact does not exist in the
// session directory.
var ErrNotFound = errors.New("artifact: not found")

// ErrUnsafeName is returned for names outside the safe character set or
// containing path-escaping sequences. Such names are always rejected,
// never written or read.
var ErrUnsafeName = errors.New("artifact: unsafe filename")

// safeName restricts artifact names to a flat, portable character set.
var safeName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Ref identifies a stored artifact externally by (session id, filename).
type Ref struct {
	SessionID string
	Name      string
}

// Store reads and writes artifacts under session directories.
type Store struct{}

// NewStore creates an artifact store.
func NewStore() *Store {
	return &Store{}
}

// checkName rejects anything that could resolve outside a session dir.
func checkName(name string) error {
	if !safeName.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrUnsafeName, name)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrUnsafeName, name)
	}
	return nil
}

// Save writes data as a named artifact in the session's directory.
// The file is immutable once written; saving the same name twice is a
// caller bug and fails.
func (st *Store) Save(s *session.Session, name string, data []byte) (Ref, error) {
	if err := checkName(name); err != nil {
		return Ref{}, err
	}

	path := filepath.Join(s.Dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return Ref{}, fmt.Errorf("failed to create artifact %s: %w", name, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return Ref{}, fmt.Errorf("failed to write artifact %s: %w", name, err)
	}

	return Ref{SessionID: s.ID, Name: name}, nil
}

// Open reads a named artifact back from the session's directory.
func (st *Store) Open(s *session.Session, name string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.Dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read artifact %s: %w", name, err)
	}
	return data, nil
}

// ContentType maps an artifact name to the MIME type it is served with.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
