package display

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/photonicat/inky_photo_frame/internal/epd"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// HardwareConfig names the buses and pins of the HAT.
type HardwareConfig struct {
	// Model skips EEPROM detection when set.
	Model       string
	SPIPort     string
	I2CBus      string
	DCPin       string
	ResetPin    string
	BusyPin     string
	SPISpeed    physic.Frequency
	BusyTimeout time.Duration
}

// HardwareOpener returns an Opener for an Inky HAT on the local header.
func HardwareOpener(cfg HardwareConfig, log *slog.Logger) Opener {
	return func(ctx context.Context) (Panel, io.Closer, error) {
		if _, err := host.Init(); err != nil {
			return nil, nil, fmt.Errorf("host init: %w", err)
		}

		model, err := resolveModel(cfg, log)
		if err != nil {
			return nil, nil, err
		}

		dc, err := pinOut(cfg.DCPin)
		if err != nil {
			return nil, nil, err
		}
		rst, err := pinOut(cfg.ResetPin)
		if err != nil {
			return nil, nil, err
		}
		busy := gpioreg.ByName(cfg.BusyPin)
		if busy == nil {
			return nil, nil, fmt.Errorf("busy pin %q not found", cfg.BusyPin)
		}

		port, err := spireg.Open(cfg.SPIPort)
		if err != nil {
			return nil, nil, fmt.Errorf("open spi %q: %w", cfg.SPIPort, err)
		}
		dev, err := epd.New(port, dc, rst, busy, &epd.Opts{
			Model:       model,
			SPISpeed:    cfg.SPISpeed,
			BusyTimeout: cfg.BusyTimeout,
		})
		if err != nil {
			port.Close()
			return nil, nil, err
		}
		return dev, port, nil
	}
}

func pinOut(name string) (gpio.PinOut, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio %q not found", name)
	}
	return p, nil
}

func resolveModel(cfg HardwareConfig, log *slog.Logger) (*epd.Model, error) {
	if cfg.Model != "" {
		m, err := epd.ModelByName(cfg.Model)
		if err != nil {
			return nil, err
		}
		log.Info("display model forced by config", "model", m.Name)
		return m, nil
	}

	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		return nil, fmt.Errorf("open i2c %q: %w", cfg.I2CBus, err)
	}
	defer bus.Close()

	m, e, err := epd.Detect(bus)
	if err != nil {
		if e != nil {
			log.Error("unsupported display", "variant", e.DisplayVariant, "width", e.Width, "height", e.Height)
		}
		var be *epd.BusError
		if errors.As(err, &be) {
			return nil, fmt.Errorf("no Inky EEPROM found, set display.model: %w", err)
		}
		return nil, err
	}
	log.Info("display detected", "model", m.Name, "variant", e.DisplayVariant,
		"pcb", e.PCBVariant, "written", e.WriteTime)
	return m, nil
}
