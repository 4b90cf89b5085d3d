// Package pool enumerates the photos eligible for display.
package pool

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var extensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
	".heic": true,
	".heif": true,
}

// Photo is one eligible file. ID is the file name relative to the photo directory.
type Photo struct {
	ID      string
	Size    int64
	ModTime time.Time
}

// Pool is a snapshot of the photo directory, sorted by ID.
type Pool struct {
	Dir    string
	Photos []Photo
	index  map[string]int
}

// IsPhoto reports whether name has a supported image extension, ignoring case.
func IsPhoto(name string) bool {
	if strings.HasPrefix(filepath.Base(name), ".") {
		return false
	}
	return extensions[strings.ToLower(filepath.Ext(name))]
}

// Scan lists the eligible files directly inside dir. A missing directory is an
// empty pool.
func Scan(dir string) (*Pool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return New(dir, nil), nil
		}
		return nil, fmt.Errorf("read photo dir: %w", err)
	}

	photos := make([]Photo, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || !IsPhoto(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		photos = append(photos, Photo{ID: e.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	return New(dir, photos), nil
}

// New builds a pool from an explicit photo list.
func New(dir string, photos []Photo) *Pool {
	sorted := append([]Photo(nil), photos...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	p := &Pool{Dir: dir, Photos: sorted, index: make(map[string]int, len(sorted))}
	for i, ph := range sorted {
		p.index[ph.ID] = i
	}
	return p
}

func (p *Pool) Len() int { return len(p.Photos) }

func (p *Pool) Contains(id string) bool {
	_, ok := p.index[id]
	return ok
}

// Get returns the photo with the given id.
func (p *Pool) Get(id string) (Photo, bool) {
	i, ok := p.index[id]
	if !ok {
		return Photo{}, false
	}
	return p.Photos[i], true
}

// IDs returns the ids in lexicographic order.
func (p *Pool) IDs() []string {
	ids := make([]string, len(p.Photos))
	for i, ph := range p.Photos {
		ids[i] = ph.ID
	}
	return ids
}

// Path returns the absolute path of id.
func (p *Pool) Path(id string) string {
	return filepath.Join(p.Dir, id)
}

// Remove deletes the file behind id from disk.
func (p *Pool) Remove(id string) error {
	if err := os.Remove(p.Path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
