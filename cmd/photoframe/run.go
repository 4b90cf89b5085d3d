package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"periph.io/x/conn/v3/physic"

	"github.com/photonicat/inky_photo_frame/internal/buttons"
	"github.com/photonicat/inky_photo_frame/internal/config"
	"github.com/photonicat/inky_photo_frame/internal/display"
	"github.com/photonicat/inky_photo_frame/internal/frame"
	"github.com/photonicat/inky_photo_frame/internal/history"
	"github.com/photonicat/inky_photo_frame/internal/logger"
	"github.com/photonicat/inky_photo_frame/internal/netinfo"
	"github.com/photonicat/inky_photo_frame/internal/prefs"
	"github.com/photonicat/inky_photo_frame/internal/preview"
	"github.com/photonicat/inky_photo_frame/internal/render"
)

func newLogger(cfg config.LogConfig) (*slog.Logger, func(), error) {
	logCfg := logger.DefaultConfig()
	if os.Getenv("PHOTOFRAME_LOG_LEVEL") == "" {
		if lvl, ok := logger.ParseLevel(cfg.Level); ok {
			logCfg.Level = lvl
		}
	}
	if cfg.Format != "" {
		logCfg.Format = cfg.Format
	}
	logCfg.File = cfg.File

	log, closer, err := logger.NewLogger(logCfg)
	if err != nil {
		return nil, nil, err
	}
	return log, func() { closer.Close() }, nil
}

func runFrame(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, closeLog, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	mode, err := render.ParseColorMode(cfg.DefaultColorMode)
	if err != nil {
		return fmt.Errorf("default_color_mode: %w", err)
	}
	profiles, err := modeProfiles(cfg.Modes)
	if err != nil {
		return err
	}

	log.Info("photo frame starting", "version", version, "photos_dir", cfg.PhotosDir)

	gw := display.New(display.HardwareOpener(display.HardwareConfig{
		Model:       cfg.Display.Model,
		SPIPort:     cfg.Display.SPIPort,
		I2CBus:      cfg.Display.I2CBus,
		DCPin:       cfg.Display.DCPin,
		ResetPin:    cfg.Display.ResetPin,
		BusyPin:     cfg.Display.BusyPin,
		SPISpeed:    physic.Frequency(cfg.Display.SPISpeedHz) * physic.Hertz,
		BusyTimeout: cfg.Display.BusyTimeout.Std(),
	}, log), display.Options{
		MaxAttempts: cfg.Display.MaxAttempts,
		Backoff:     cfg.Display.Backoff.Std(),
	}, log)
	defer gw.Close()

	if err := gw.Open(ctx); err != nil {
		log.Error("display init failed", "error", err)
		return err
	}

	ctrl := buttons.NewController(openButtons(cfg.Buttons, log), cfg.Buttons.Debounce.Std(), gw.Busy, log)

	app, err := frame.New(frame.Config{
		PhotosDir:           cfg.PhotosDir,
		ChangeHour:          cfg.ChangeHour,
		MaxPhotos:           cfg.MaxPhotos,
		CleanupInterval:     cfg.CleanupInterval.Std(),
		MaintenanceInterval: cfg.MaintenanceEvery.Std(),
		UploadSettle:        cfg.UploadSettle.Std(),
		WelcomeOnStart:      cfg.WelcomeOnStart,
		ProbeHost:           cfg.Network.ProbeHost,
		Profiles:            profiles,
	}, frame.Deps{
		Display: gw,
		History: history.NewStore(cfg.HistoryFile),
		Prefs:   prefs.NewStore(cfg.ColorModeFile, mode),
		Buttons: ctrl,
		Pinger:  netinfo.ICMP,
		Log:     log,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	if cfg.Preview.Enabled {
		srv := preview.New(app, log.With("component", "preview"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx, cfg.Preview.Addr); err != nil {
				log.Error("preview server stopped", "error", err)
			}
		}()
	}

	err = app.Run(ctx)
	cancel()
	wg.Wait()
	if err != nil {
		return err
	}
	log.Info("photo frame stopped")
	return nil
}

// openButtons sets up the configured button source. Any failure leaves the
// frame without buttons rather than stopping it.
func openButtons(cfg config.ButtonConfig, log *slog.Logger) buttons.Source {
	if !cfg.Enabled || cfg.Source == "none" {
		log.Info("buttons disabled")
		return nil
	}
	switch cfg.Source {
	case "evdev":
		src, err := buttons.OpenEvdev(cfg.EvdevDevice, cfg.EvdevCodes, log)
		if err != nil {
			log.Warn("buttons unavailable", "source", "evdev", "error", err)
			return nil
		}
		return src
	default:
		src, err := buttons.OpenGPIO(cfg.Pins)
		if err != nil {
			log.Warn("buttons unavailable", "source", "gpio", "error", err)
			return nil
		}
		return src
	}
}
