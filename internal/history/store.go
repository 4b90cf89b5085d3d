package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/photonicat/inky_photo_frame/internal/fsutil"
)

var (
	// ErrCorrupt is returned by Load when the history file cannot be decoded.
	ErrCorrupt = errors.New("history file is corrupt")
	// ErrSchema is returned by Load for files written by a newer release.
	ErrSchema = errors.New("unsupported history schema version")
)

// Store reads and writes the history document at a fixed path.
type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

// Load reads the history, returning an empty one when the file does not exist.
func (s *Store) Load() (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewState(), nil
		}
		return nil, fmt.Errorf("read history: %w", err)
	}

	st := &State{}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if st.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrSchema, st.SchemaVersion)
	}
	st.normalize()
	return st, nil
}

// Save writes the history atomically: a reader sees either the old or the new
// document, never a partial one.
func (s *Store) Save(st *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st.SchemaVersion = SchemaVersion
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	return fsutil.WriteFileAtomic(s.path, data)
}
