// Package buttons turns the four front buttons of the HAT into frame actions.
package buttons

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Action is what a button asks the frame to do.
type Action int

const (
	Next Action = iota
	Previous
	CycleMode
	ResetMode
)

func (a Action) String() string {
	switch a {
	case Next:
		return "next"
	case Previous:
		return "previous"
	case CycleMode:
		return "cycle_mode"
	case ResetMode:
		return "reset_mode"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// Labels are the silkscreen names of the buttons, by line.
var Labels = [4]string{"A", "B", "C", "D"}

// Press is one raw button press.
type Press struct {
	// Line is 0 to 3 for buttons A to D.
	Line int
	At   time.Time
}

// Source reports raw presses until ctx is done.
type Source interface {
	Run(ctx context.Context, presses chan<- Press) error
	Close() error
}

const DEFAULT_DEBOUNCE = 20 * time.Millisecond

// Controller debounces presses and drops those that arrive while the
// display is busy.
type Controller struct {
	src      Source
	debounce time.Duration
	busy     func() bool
	log      *slog.Logger

	mu   sync.Mutex
	last [len(Labels)]time.Time
}

// NewController wraps src. A nil src gives a controller that is not
// Available and whose Run returns at once.
func NewController(src Source, debounce time.Duration, busy func() bool, log *slog.Logger) *Controller {
	if debounce <= 0 {
		debounce = DEFAULT_DEBOUNCE
	}
	if log == nil {
		log = slog.Default()
	}
	return &Controller{src: src, debounce: debounce, busy: busy, log: log}
}

// Available reports whether button input was set up.
func (c *Controller) Available() bool { return c.src != nil }

// Run dispatches accepted presses to handle until ctx is done. handle runs
// on the controller goroutine and should not block.
func (c *Controller) Run(ctx context.Context, handle func(Action)) error {
	if c.src == nil {
		return nil
	}
	defer c.src.Close()

	presses := make(chan Press, 8)
	errc := make(chan error, 1)
	go func() { errc <- c.src.Run(ctx, presses) }()

	for {
		select {
		case <-ctx.Done():
			<-errc
			return nil
		case err := <-errc:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("button source: %w", err)
		case p := <-presses:
			if a, ok := c.accept(p); ok {
				handle(a)
			}
		}
	}
}

func (c *Controller) accept(p Press) (Action, bool) {
	if p.Line < 0 || p.Line >= len(Labels) {
		return 0, false
	}
	c.mu.Lock()
	prev := c.last[p.Line]
	c.last[p.Line] = p.At
	c.mu.Unlock()

	if !prev.IsZero() && p.At.Sub(prev) < c.debounce {
		return 0, false
	}
	a := Action(p.Line)
	if c.busy != nil && c.busy() {
		c.log.Info("button ignored, display busy", "button", Labels[p.Line], "action", a.String())
		return 0, false
	}
	c.log.Info("button pressed", "button", Labels[p.Line], "action", a.String())
	return a, true
}
