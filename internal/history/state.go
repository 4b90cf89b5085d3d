// Package history keeps the persisted display history of the frame and the
// selection and storage policies that read it.
package history

import (
	"slices"
	"time"

	"github.com/photonicat/inky_photo_frame/internal/pool"
)

// SchemaVersion is the version written by this package.
const SchemaVersion = 1

// PhotoRecord is the per-photo metadata kept in the history file.
type PhotoRecord struct {
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastShownAt time.Time `json:"last_shown_at"`
	ShowCount   int       `json:"show_count"`
	SizeBytes   int64     `json:"size_bytes"`
	// Seq orders photos first seen at the same instant.
	Seq uint64 `json:"seq"`
}

// State is the whole history document.
type State struct {
	SchemaVersion int `json:"schema_version"`
	// Shown lists the photos displayed in the current cycle, oldest first, without duplicates.
	Shown []string `json:"shown"`
	// Current is the photo on screen.
	Current string `json:"current,omitempty"`
	// Queued holds uploads waiting for the next rotation, oldest first.
	Queued     []string                `json:"queued"`
	LastChange time.Time               `json:"last_change"`
	NextSeq    uint64                  `json:"next_seq"`
	Photos     map[string]*PhotoRecord `json:"photos"`
}

// NewState returns an empty history.
func NewState() *State {
	return &State{
		SchemaVersion: SchemaVersion,
		Shown:         []string{},
		Queued:        []string{},
		Photos:        make(map[string]*PhotoRecord),
	}
}

func (s *State) normalize() {
	if s.Photos == nil {
		s.Photos = make(map[string]*PhotoRecord)
	}
	if s.Shown == nil {
		s.Shown = []string{}
	}
	if s.Queued == nil {
		s.Queued = []string{}
	}
	s.Shown = dedupe(s.Shown)
	s.Queued = dedupe(s.Queued)
	for _, rec := range s.Photos {
		if rec.Seq >= s.NextSeq {
			s.NextSeq = rec.Seq + 1
		}
	}
	s.SchemaVersion = SchemaVersion
}

// WasShown reports whether id was displayed in the current cycle.
func (s *State) WasShown(id string) bool {
	return slices.Contains(s.Shown, id)
}

// Track returns the record for id, creating it first seen at firstSeen.
func (s *State) Track(id string, size int64, firstSeen time.Time) *PhotoRecord {
	if rec, ok := s.Photos[id]; ok {
		if size > 0 {
			rec.SizeBytes = size
		}
		return rec
	}
	rec := &PhotoRecord{FirstSeenAt: firstSeen, SizeBytes: size, Seq: s.NextSeq}
	s.NextSeq++
	s.Photos[id] = rec
	return rec
}

// Record marks id as successfully displayed at now.
func (s *State) Record(id string, size int64, now time.Time) {
	rec := s.Track(id, size, now)
	rec.LastShownAt = now
	rec.ShowCount++

	s.Current = id
	if !s.WasShown(id) {
		s.Shown = append(s.Shown, id)
	}
	s.Queued = remove(s.Queued, id)
}

// MarkRotated stamps the time of a scheduled rotation.
func (s *State) MarkRotated(now time.Time) {
	s.LastChange = now
}

// Enqueue parks an upload for the next rotation. Photos already on screen,
// already shown this cycle or already queued are ignored. It reports whether
// id was added.
func (s *State) Enqueue(id string, size int64, now time.Time) bool {
	s.Track(id, size, now)
	if id == s.Current || s.WasShown(id) || slices.Contains(s.Queued, id) {
		return false
	}
	s.Queued = append(s.Queued, id)
	return true
}

// Refresh reconciles the history with the photo directory: untracked files get
// a record first seen at their modification time, and every trace of files
// that disappeared is dropped. The current id is kept even when its file is
// gone. It returns the number of records added and pruned.
func (s *State) Refresh(p *pool.Pool) (added, pruned int) {
	for _, ph := range p.Photos {
		if _, ok := s.Photos[ph.ID]; !ok {
			s.Track(ph.ID, ph.Size, ph.ModTime)
			added++
		}
	}
	for id := range s.Photos {
		if !p.Contains(id) {
			s.forget(id)
			pruned++
		}
	}
	s.Shown = slices.DeleteFunc(s.Shown, func(id string) bool { return !p.Contains(id) })
	s.Queued = slices.DeleteFunc(s.Queued, func(id string) bool { return !p.Contains(id) })
	return added, pruned
}

func (s *State) forget(id string) {
	delete(s.Photos, id)
	s.Shown = remove(s.Shown, id)
	s.Queued = remove(s.Queued, id)
}

// ShouldRotate reports whether the daily rotation is due: it never happened,
// or it is past changeHour and the last one was on an earlier calendar day.
func (s *State) ShouldRotate(now time.Time, changeHour int) bool {
	if s.LastChange.IsZero() {
		return true
	}
	if now.Hour() < changeHour {
		return false
	}
	return startOfDay(s.LastChange.In(now.Location())).Before(startOfDay(now))
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func remove(list []string, id string) []string {
	return slices.DeleteFunc(list, func(v string) bool { return v == id })
}

func dedupe(list []string) []string {
	seen := make(map[string]bool, len(list))
	out := list[:0]
	for _, id := range list {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
