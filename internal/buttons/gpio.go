package buttons

import (
	"context"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Edge waits are bounded so cancellation is noticed.
const edgePoll = 200 * time.Millisecond

// GPIOSource reads active-low buttons with pull-ups.
type GPIOSource struct {
	pins []gpio.PinIn
	now  func() time.Time
}

// NewGPIOSource uses pins in A, B, C, D order.
func NewGPIOSource(pins []gpio.PinIn) (*GPIOSource, error) {
	if len(pins) != len(Labels) {
		return nil, fmt.Errorf("need %d button pins, got %d", len(Labels), len(pins))
	}
	for i, p := range pins {
		if err := p.In(gpio.PullUp, gpio.FallingEdge); err != nil {
			return nil, fmt.Errorf("button %s (%s): %w", Labels[i], p, err)
		}
	}
	return &GPIOSource{pins: pins, now: time.Now}, nil
}

// OpenGPIO looks the pins up by name.
func OpenGPIO(names []string) (*GPIOSource, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	pins := make([]gpio.PinIn, len(names))
	for i, n := range names {
		p := gpioreg.ByName(n)
		if p == nil {
			return nil, fmt.Errorf("gpio %q not found", n)
		}
		pins[i] = p
	}
	return NewGPIOSource(pins)
}

func (s *GPIOSource) Run(ctx context.Context, presses chan<- Press) error {
	var wg sync.WaitGroup
	for line, pin := range s.pins {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.watch(ctx, line, pin, presses)
		}()
	}
	wg.Wait()
	return nil
}

func (s *GPIOSource) watch(ctx context.Context, line int, pin gpio.PinIn, presses chan<- Press) {
	for ctx.Err() == nil {
		if !pin.WaitForEdge(edgePoll) {
			continue
		}
		if pin.Read() != gpio.Low {
			continue
		}
		select {
		case presses <- Press{Line: line, At: s.now()}:
		case <-ctx.Done():
			return
		}
	}
}

// Close stops edge detection on every pin.
func (s *GPIOSource) Close() error {
	for _, p := range s.pins {
		p.In(gpio.PullUp, gpio.NoEdge)
	}
	return nil
}
