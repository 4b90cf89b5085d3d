// Package display owns the single handle to the e-paper panel.
//
// A Gateway is opened once at startup and closed once at shutdown. Every
// frame goes through Display, which marks the gateway busy for the duration
// of the refresh and retries transient bus failures with exponential backoff.
package display

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/photonicat/inky_photo_frame/internal/render"
)

// State is the lifecycle position of a Gateway.
type State int32

const (
	Uninitialized State = iota
	Ready
	Busy
	ShuttingDown
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Busy:
		return "busy"
	case ShuttingDown:
		return "shutting_down"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

var (
	// ErrTransient wraps failures that survived every retry but may clear later.
	ErrTransient = errors.New("display: transient failure")
	// ErrFatal wraps failures that retrying cannot fix.
	ErrFatal = errors.New("display: fatal failure")
	// ErrClosed is returned once shutdown has begun.
	ErrClosed = errors.New("display: closed")
	// ErrBusy is returned when a refresh is already in flight.
	ErrBusy = errors.New("display: busy")
	// ErrNotOpen is returned before Open succeeded.
	ErrNotOpen = errors.New("display: not open")
)

// Panel is the hardware the gateway drives.
type Panel interface {
	fmt.Stringer
	Bounds() image.Rectangle
	Palette() color.Palette
	SetSaturation(s float64)
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
}

// Opener brings up the hardware. The closer releases the buses.
type Opener func(ctx context.Context) (Panel, io.Closer, error)

// Options tune the retry policy.
type Options struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Gateway serializes access to the panel.
type Gateway struct {
	state atomic.Int32
	// op is held while the hardware is in use.
	op sync.Mutex

	open   Opener
	opts   Options
	panel  Panel
	closer io.Closer
	log    *slog.Logger

	openOnce  sync.Once
	openErr   error
	closeOnce sync.Once
	closeErr  error

	sleep func(ctx context.Context, d time.Duration) error
}

// New returns an unopened gateway.
func New(open Opener, opts Options, log *slog.Logger) *Gateway {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff < 0 {
		opts.Backoff = 0
	}
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		open:  open,
		opts:  opts,
		log:   log,
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// State returns the current lifecycle state.
func (g *Gateway) State() State { return State(g.state.Load()) }

// Busy reports whether a refresh is in flight. It never blocks.
func (g *Gateway) Busy() bool { return g.State() == Busy }

// Open initializes the hardware. Only the first call does any work; later
// calls return its result.
func (g *Gateway) Open(ctx context.Context) error {
	g.openOnce.Do(func() {
		g.op.Lock()
		defer g.op.Unlock()
		if g.State() != Uninitialized {
			g.openErr = ErrClosed
			return
		}
		panel, closer, err := g.open(ctx)
		if err != nil {
			g.openErr = fmt.Errorf("%w: open: %w", ErrFatal, err)
			return
		}
		if !g.state.CompareAndSwap(int32(Uninitialized), int32(Ready)) {
			// Closed while opening.
			if closer != nil {
				closer.Close()
			}
			g.openErr = ErrClosed
			return
		}
		g.panel, g.closer = panel, closer
		b := panel.Bounds()
		g.log.Info("display ready", "panel", panel.String(), "width", b.Dx(), "height", b.Dy())
	})
	return g.openErr
}

// Bounds returns the panel resolution, or an empty rectangle before Open.
func (g *Gateway) Bounds() image.Rectangle {
	if g.panel == nil {
		return image.Rectangle{}
	}
	return g.panel.Bounds()
}

// Palette returns the calibrated panel inks.
func (g *Gateway) Palette() color.Palette {
	if g.panel == nil {
		return nil
	}
	return g.panel.Palette()
}

// Name describes the attached panel.
func (g *Gateway) Name() string {
	if g.panel == nil {
		return "none"
	}
	return g.panel.String()
}

// Display pushes frame to the panel, retrying transient failures.
func (g *Gateway) Display(ctx context.Context, frame *render.Frame) error {
	if frame == nil || frame.Image == nil {
		return fmt.Errorf("%w: empty frame", ErrFatal)
	}
	if !g.state.CompareAndSwap(int32(Ready), int32(Busy)) {
		switch g.State() {
		case Busy:
			return ErrBusy
		case Uninitialized:
			return ErrNotOpen
		default:
			return ErrClosed
		}
	}
	defer g.state.CompareAndSwap(int32(Busy), int32(Ready))

	g.op.Lock()
	defer g.op.Unlock()
	if g.State() != Busy {
		return ErrClosed
	}

	delay := g.opts.Backoff
	var last error
	for attempt := 1; attempt <= g.opts.MaxAttempts; attempt++ {
		start := time.Now()
		last = g.push(frame)
		if last == nil {
			g.log.Info("display refreshed", "mode", frame.Mode.String(), "attempt", attempt,
				"elapsed", time.Since(start).Round(time.Millisecond))
			return nil
		}
		if !IsTransient(last) {
			g.log.Error("display failed", "attempt", attempt, "error", last)
			return fmt.Errorf("%w: %w", ErrFatal, last)
		}
		g.log.Warn("display attempt failed", "attempt", attempt, "max_attempts", g.opts.MaxAttempts,
			"retry_in", delay, "error", last)
		// The panel gets its settle delay after the final attempt too.
		if err := g.sleep(ctx, delay); err != nil {
			break
		}
		delay *= 2
	}
	g.log.Error("display gave up", "attempts", g.opts.MaxAttempts, "error", last)
	return fmt.Errorf("%w: %w", ErrTransient, last)
}

func (g *Gateway) push(frame *render.Frame) error {
	if !frame.Quantized {
		g.panel.SetSaturation(frame.Saturation)
	}
	img := frame.Image
	return g.panel.Draw(g.panel.Bounds(), img, img.Bounds().Min)
}

// Close releases the hardware. It waits for an in-flight refresh, is safe
// to call more than once and before Open.
func (g *Gateway) Close() error {
	g.closeOnce.Do(func() {
		prev := State(g.state.Swap(int32(ShuttingDown)))
		g.op.Lock()
		defer g.op.Unlock()
		if g.closer != nil {
			g.closeErr = g.closer.Close()
		}
		g.state.Store(int32(Closed))
		g.log.Info("display closed", "previous_state", prev.String())
	})
	return g.closeErr
}
