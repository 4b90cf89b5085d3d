// Package prefs handles the persisted color-mode preference.
// It is stored as JSON in ~/.inky_color_mode.json.
package prefs

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/photonicat/inky_photo_frame/internal/fsutil"
	"github.com/photonicat/inky_photo_frame/internal/render"
)

const schemaVersion = 1

// Preference is the document written to disk.
type Preference struct {
	SchemaVersion int    `json:"schema_version"`
	ColorMode     string `json:"color_mode"`
}

// Store reads and writes the preference at a fixed path.
type Store struct {
	path     string
	fallback render.ColorMode
}

// NewStore returns a store that answers fallback when nothing usable is saved.
func NewStore(path string, fallback render.ColorMode) *Store {
	return &Store{path: path, fallback: fallback}
}

// Load returns the saved color mode. A missing, unreadable or unknown
// preference yields the fallback together with the reason, so the caller can
// log it and carry on.
func (s *Store) Load() (render.ColorMode, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s.fallback, nil
		}
		return s.fallback, fmt.Errorf("read color mode: %w", err)
	}

	var p Preference
	if err := json.Unmarshal(data, &p); err != nil {
		return s.fallback, fmt.Errorf("decode color mode: %w", err)
	}
	mode, err := render.ParseColorMode(p.ColorMode)
	if err != nil {
		return s.fallback, err
	}
	return mode, nil
}

// Save persists mode atomically.
func (s *Store) Save(mode render.ColorMode) error {
	data, err := json.MarshalIndent(Preference{SchemaVersion: schemaVersion, ColorMode: mode.String()}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode color mode: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("write color mode: %w", err)
	}
	return nil
}
