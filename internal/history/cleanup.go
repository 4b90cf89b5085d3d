package history

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/photonicat/inky_photo_frame/internal/pool"
)

// LedgerEntry is one photo as seen by storage cleanup.
type LedgerEntry struct {
	ID          string
	FirstSeenAt time.Time
	Seq         uint64
	Size        int64
}

// Ledger lists the tracked photos of p, oldest added first. Photos added at
// the same instant are ordered by insertion sequence.
func (s *State) Ledger(p *pool.Pool) []LedgerEntry {
	entries := make([]LedgerEntry, 0, p.Len())
	for _, ph := range p.Photos {
		rec, ok := s.Photos[ph.ID]
		if !ok {
			continue
		}
		size := rec.SizeBytes
		if ph.Size > 0 {
			size = ph.Size
		}
		entries = append(entries, LedgerEntry{ID: ph.ID, FirstSeenAt: rec.FirstSeenAt, Seq: rec.Seq, Size: size})
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.FirstSeenAt.Equal(b.FirstSeenAt) {
			return a.FirstSeenAt.Before(b.FirstSeenAt)
		}
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		return a.ID < b.ID
	})
	return entries
}

// CleanupReport summarizes one cleanup pass.
type CleanupReport struct {
	Deleted        []string
	BytesReclaimed int64
	Remaining      int
}

// RemoveFunc deletes the file behind a photo id.
type RemoveFunc func(id string) error

// Cleanup deletes the oldest-added photos until p holds at most limit photos.
// The photo on screen is never deleted. Deleted photos disappear from the
// history as well. Removal failures are collected and the pass continues with
// the next oldest photo.
func (s *State) Cleanup(p *pool.Pool, limit int, remove RemoveFunc) (CleanupReport, error) {
	s.Refresh(p)

	report := CleanupReport{Remaining: p.Len()}
	excess := p.Len() - limit
	if excess <= 0 {
		return report, nil
	}

	var errs []error
	for _, e := range s.Ledger(p) {
		if len(report.Deleted) == excess {
			break
		}
		if e.ID == s.Current {
			continue
		}
		if err := remove(e.ID); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", e.ID, err))
			continue
		}
		s.forget(e.ID)
		report.Deleted = append(report.Deleted, e.ID)
		report.BytesReclaimed += e.Size
	}
	report.Remaining = p.Len() - len(report.Deleted)
	return report, errors.Join(errs...)
}
