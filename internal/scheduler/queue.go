// Package scheduler collects display requests from the watcher, the buttons
// and the daily timer, and hands them to the single display worker in
// priority order.
package scheduler

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/photonicat/inky_photo_frame/internal/buttons"
)

// Kind orders requests: lower values are served first.
type Kind int

const (
	NewArrival Kind = iota
	Button
	Daily
)

func (k Kind) String() string {
	switch k {
	case NewArrival:
		return "new_arrival"
	case Button:
		return "button"
	case Daily:
		return "daily"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Request is one unit of work for the display worker.
type Request struct {
	// ID correlates the log lines of one request.
	ID   string
	Kind Kind
	At   time.Time

	// Photo is the arrived photo id for NewArrival.
	Photo string
	// Queued are uploads to show at later rotations, oldest first.
	Queued []string

	// Action is the button intent for Button.
	Action buttons.Action
}

// Queue holds at most one request per kind. Newer requests replace older
// ones of the same kind.
type Queue struct {
	mu      sync.Mutex
	arrival *Request
	button  *Request
	daily   *Request
	backlog []string
	ready   chan struct{}
	now     func() time.Time
}

func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1), now: time.Now}
}

// Ready is signalled whenever a request may be waiting.
func (q *Queue) Ready() <-chan struct{} { return q.ready }

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *Queue) newRequest(k Kind) *Request {
	return &Request{ID: uuid.NewString(), Kind: k, At: q.now()}
}

// PushArrival schedules photo for immediate display. others arrived in the
// same burst and wait for later rotations. A pending arrival that photo
// replaces moves to the backlog too.
func (q *Queue) PushArrival(photo string, others ...string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.arrival != nil && q.arrival.Photo != photo {
		q.addBacklog(q.arrival.Photo)
	}
	for _, o := range others {
		if o != photo {
			q.addBacklog(o)
		}
	}
	q.backlog = slices.DeleteFunc(q.backlog, func(id string) bool { return id == photo })

	if q.arrival == nil || q.arrival.Photo != photo {
		q.arrival = q.newRequest(NewArrival)
		q.arrival.Photo = photo
	}
	q.signal()
}

func (q *Queue) addBacklog(id string) {
	if !slices.Contains(q.backlog, id) {
		q.backlog = append(q.backlog, id)
	}
}

// PushButton records a button intent. Only the latest one is kept.
func (q *Queue) PushButton(a buttons.Action) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r := q.newRequest(Button)
	r.Action = a
	q.button = r
	q.signal()
}

// PushDaily flags a scheduled rotation.
func (q *Queue) PushDaily() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.daily == nil {
		q.daily = q.newRequest(Daily)
	}
	q.signal()
}

// Pop returns the most urgent request.
func (q *Queue) Pop() (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var r *Request
	switch {
	case q.arrival != nil:
		r, q.arrival = q.arrival, nil
		r.Queued, q.backlog = q.backlog, nil
	case q.button != nil:
		r, q.button = q.button, nil
	case q.daily != nil:
		r, q.daily = q.daily, nil
	default:
		return Request{}, false
	}
	if q.arrival != nil || q.button != nil || q.daily != nil {
		q.signal()
	}
	return *r, true
}

// Len returns the number of pending requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, r := range []*Request{q.arrival, q.button, q.daily} {
		if r != nil {
			n++
		}
	}
	return n
}
