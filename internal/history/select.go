package history

import (
	"errors"
	"math/rand/v2"
	"sort"

	"github.com/photonicat/inky_photo_frame/internal/pool"
)

var (
	// ErrEmptyPool means there is nothing to show.
	ErrEmptyPool = errors.New("photo pool is empty")
	// ErrNotInPool means a requested photo is no longer in the directory.
	ErrNotInPool = errors.New("photo is not in the pool")
)

// Direction tells Select how to pick the next photo.
type Direction int

const (
	// RandomUnseen picks uniformly among photos not shown in the current cycle.
	RandomUnseen Direction = iota
	// NewArrival picks the given newly added photo.
	NewArrival
	// Forward steps to the next photo in name order.
	Forward
	// Backward steps to the previous photo in name order.
	Backward
)

func (d Direction) String() string {
	switch d {
	case RandomUnseen:
		return "random"
	case NewArrival:
		return "new_arrival"
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	}
	return "unknown"
}

// Selection is the outcome of Select.
type Selection struct {
	ID string
	// CycleReset is set when every photo had been shown and the cycle restarted.
	CycleReset bool
	// FromQueue is set when a queued upload was picked.
	FromQueue bool
}

// Selector picks photos. The zero value uses math/rand/v2.
type Selector struct {
	// IntN returns a uniform integer in [0, n).
	IntN func(n int) int
}

func (s Selector) intN(n int) int {
	if s.IntN != nil {
		return s.IntN(n)
	}
	return rand.IntN(n)
}

// Select returns one photo from p according to d. arrival names the new
// photo for NewArrival and is ignored otherwise. A cycle reset clears
// st.Shown; nothing else in st is changed until Record.
func (s Selector) Select(st *State, p *pool.Pool, d Direction, arrival string) (Selection, error) {
	if p.Len() == 0 {
		return Selection{}, ErrEmptyPool
	}

	switch d {
	case NewArrival:
		if !p.Contains(arrival) {
			return Selection{}, ErrNotInPool
		}
		return Selection{ID: arrival}, nil
	case Forward, Backward:
		return Selection{ID: step(p.IDs(), st.Current, d == Forward)}, nil
	default:
		return s.randomUnseen(st, p), nil
	}
}

func (s Selector) randomUnseen(st *State, p *pool.Pool) Selection {
	shown := make(map[string]bool, len(st.Shown))
	for _, id := range st.Shown {
		shown[id] = true
	}

	for _, id := range st.Queued {
		if p.Contains(id) && !shown[id] {
			return Selection{ID: id, FromQueue: true}
		}
	}

	var unseen []string
	for _, id := range p.IDs() {
		if !shown[id] {
			unseen = append(unseen, id)
		}
	}
	if len(unseen) > 0 {
		return Selection{ID: unseen[s.intN(len(unseen))]}
	}

	// Every photo was shown: start a new cycle without repeating the one on screen.
	st.Shown = []string{}
	candidates := p.IDs()
	if len(candidates) > 1 {
		candidates = slicesWithout(candidates, st.Current)
	}
	return Selection{ID: candidates[s.intN(len(candidates))], CycleReset: true}
}

// step moves one position through the sorted ids, wrapping at both ends. When
// current is absent the step starts from where it would sort.
func step(ids []string, current string, forward bool) string {
	n := len(ids)
	i := sort.SearchStrings(ids, current)
	found := i < n && ids[i] == current
	switch {
	case forward && found:
		return ids[(i+1)%n]
	case forward:
		return ids[i%n]
	default:
		return ids[(i-1+n)%n]
	}
}

func slicesWithout(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
