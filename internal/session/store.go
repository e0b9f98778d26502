// Package session persists the browser authentication state (cookies and
// local storage) between runs so the exporter does not log in every time.
package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// DefaultPath is where the session file lives when nothing else is configured.
const DefaultPath = "./auth-state.json"

// Entry is a single local storage key/value pair.
type Entry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Origin holds the local storage snapshot of one origin.
type Origin struct {
	Origin       string  `json:"origin"`
	LocalStorage []Entry `json:"localStorage"`
}

// State is the serialized authentication bundle. The exporter treats it as
// opaque: it is captured from one browsing context and replayed into the next.
type State struct {
	Cookies []*network.Cookie `json:"cookies"`
	Origins []Origin          `json:"origins"`
	SavedAt time.Time         `json:"savedAt"`
}

// Empty reports whether the state carries nothing worth restoring.
func (s *State) Empty() bool {
	return s == nil || (len(s.Cookies) == 0 && len(s.Origins) == 0)
}

// Store reads and writes State to a single file.
type Store struct {
	path string
}

// NewStore returns a store backed by path (DefaultPath when empty).
func NewStore(path string) *Store {
	if path == "" {
		path = DefaultPath
	}
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Exists reports whether a session file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Load returns the persisted state, or (nil, nil) when no session was saved.
func (s *Store) Load() (*State, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode session file %s: %w", s.path, err)
	}
	return &st, nil
}

// Save writes state atomically with owner-only permissions.
func (s *Store) Save(st *State) error {
	if st == nil {
		return errors.New("nil session state")
	}

	data, err := json.Marshal(st, jsontext.WithIndent("  "))
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".auth-state-*.json")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close session file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

// Clear removes the session file. It is idempotent: removed is false when
// there was nothing to remove.
func (s *Store) Clear() (removed bool, err error) {
	err = os.Remove(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("remove session file: %w", err)
	}
	return true, nil
}
