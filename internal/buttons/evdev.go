package buttons

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	evdev "github.com/holoplot/go-evdev"
)

// eventReader is the part of *evdev.InputDevice the source uses.
type eventReader interface {
	ReadOne() (*evdev.InputEvent, error)
	Close() error
}

// EvdevSource reads the buttons from a gpio-keys input device.
type EvdevSource struct {
	dev   eventReader
	codes map[evdev.EvCode]int
	log   *slog.Logger
}

// OpenEvdev opens path, or the first gpio-keys device when path is empty.
// codes are the key codes of buttons A to D.
func OpenEvdev(path string, codes []int, log *slog.Logger) (*EvdevSource, error) {
	if len(codes) != len(Labels) {
		return nil, fmt.Errorf("need %d key codes, got %d", len(Labels), len(codes))
	}
	if path == "" {
		paths, err := evdev.ListDevicePaths()
		if err != nil {
			return nil, fmt.Errorf("list input devices: %w", err)
		}
		for _, ip := range paths {
			name := strings.ReplaceAll(ip.Name, "_", "-")
			if strings.Contains(name, "gpio-keys") {
				path = ip.Path
				break
			}
		}
		if path == "" {
			return nil, errors.New("no gpio-keys input device found")
		}
	}

	dev, err := evdev.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := dev.Grab(); err != nil {
		log.Warn("failed to grab input device", "path", path, "error", err)
	}
	name, _ := dev.Name()
	log.Info("using input device", "path", path, "name", name)
	return newEvdevSource(dev, codes, log), nil
}

func newEvdevSource(dev eventReader, codes []int, log *slog.Logger) *EvdevSource {
	m := make(map[evdev.EvCode]int, len(codes))
	for line, c := range codes {
		m[evdev.EvCode(c)] = line
	}
	return &EvdevSource{dev: dev, codes: m, log: log}
}

func (s *EvdevSource) Run(ctx context.Context, presses chan<- Press) error {
	stop := context.AfterFunc(ctx, func() { s.dev.Close() })
	defer stop()

	for {
		ev, err := s.dev.ReadOne()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read input event: %w", err)
		}
		if ev.Type != evdev.EV_KEY || ev.Value != 1 {
			continue
		}
		line, ok := s.codes[ev.Code]
		if !ok {
			continue
		}
		at := time.Unix(int64(ev.Time.Sec), int64(ev.Time.Usec)*1000)
		select {
		case presses <- Press{Line: line, At: at}:
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *EvdevSource) Close() error {
	return s.dev.Close()
}
