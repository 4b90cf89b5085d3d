package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Default pin assignments for an Inky Impression HAT on a 40-pin header.
const (
	DC_PIN       = "GPIO22"
	RESET_PIN    = "GPIO27"
	BUSY_PIN     = "GPIO17"
	SPI_PORT     = "SPI0.0"
	I2C_BUS      = "1"
	BUTTON_A_PIN = "GPIO5"
	BUTTON_B_PIN = "GPIO6"
	BUTTON_C_PIN = "GPIO16"
	BUTTON_D_PIN = "GPIO24"
)

const (
	defaultConfigPath    = "~/.config/photoframe/config.toml"
	defaultPhotosDir     = "~/Images"
	defaultHistoryFile   = "~/.inky_history.json"
	defaultColorModeFile = "~/.inky_color_mode.json"
	defaultColorMode     = "spectra_palette"
	defaultChangeHour    = 5
	defaultMaxPhotos     = 1000
	defaultPreviewAddr   = ":8081"
	defaultProbeHost     = "8.8.8.8"
	defaultSPISpeedHz    = 3_000_000
	defaultMaxAttempts   = 3
)

// Config is the full runtime configuration of the photo frame.
type Config struct {
	PhotosDir        string   `toml:"photos_dir" yaml:"photos_dir"`
	HistoryFile      string   `toml:"history_file" yaml:"history_file"`
	ColorModeFile    string   `toml:"color_mode_file" yaml:"color_mode_file"`
	DefaultColorMode string   `toml:"default_color_mode" yaml:"default_color_mode"`
	ChangeHour       int      `toml:"change_hour" yaml:"change_hour"`
	MaxPhotos        int      `toml:"max_photos" yaml:"max_photos"`
	CleanupInterval  Duration `toml:"cleanup_interval" yaml:"cleanup_interval"`
	MaintenanceEvery Duration `toml:"maintenance_interval" yaml:"maintenance_interval"`
	UploadSettle     Duration `toml:"upload_settle" yaml:"upload_settle"`
	// WelcomeOnStart forces the welcome frame at startup even with photos present.
	WelcomeOnStart bool `toml:"welcome_on_start" yaml:"welcome_on_start"`

	Log     LogConfig              `toml:"log" yaml:"log"`
	Display DisplayConfig          `toml:"display" yaml:"display"`
	Buttons ButtonConfig           `toml:"buttons" yaml:"buttons"`
	Modes   map[string]ModeProfile `toml:"modes" yaml:"modes"`
	Preview PreviewConfig          `toml:"preview" yaml:"preview"`
	Network NetworkConfig          `toml:"network" yaml:"network"`
}

type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
	File   string `toml:"file" yaml:"file"`
}

// DisplayConfig selects the panel and its wiring.
type DisplayConfig struct {
	// Model forces a panel model ("ac073tc1a", "e673", "uc8159_600x448",
	// "uc8159_640x400") instead of reading the HAT EEPROM.
	Model       string   `toml:"model" yaml:"model"`
	SPIPort     string   `toml:"spi_port" yaml:"spi_port"`
	I2CBus      string   `toml:"i2c_bus" yaml:"i2c_bus"`
	DCPin       string   `toml:"dc_pin" yaml:"dc_pin"`
	ResetPin    string   `toml:"reset_pin" yaml:"reset_pin"`
	BusyPin     string   `toml:"busy_pin" yaml:"busy_pin"`
	SPISpeedHz  int64    `toml:"spi_speed_hz" yaml:"spi_speed_hz"`
	BusyTimeout Duration `toml:"busy_timeout" yaml:"busy_timeout"`
	MaxAttempts int      `toml:"max_attempts" yaml:"max_attempts"`
	Backoff     Duration `toml:"backoff" yaml:"backoff"`
}

// ButtonConfig maps the four front buttons to input lines.
type ButtonConfig struct {
	Enabled bool `toml:"enabled" yaml:"enabled"`
	// Source is "gpio", "evdev" or "none".
	Source      string   `toml:"source" yaml:"source"`
	Pins        []string `toml:"pins" yaml:"pins"`
	EvdevDevice string   `toml:"evdev_device" yaml:"evdev_device"`
	// EvdevCodes are the key codes for A, B, C and D.
	EvdevCodes []int    `toml:"evdev_codes" yaml:"evdev_codes"`
	Debounce   Duration `toml:"debounce" yaml:"debounce"`
}

// ModeProfile overrides the tone settings of one color mode. Zero values keep
// the built-in setting.
type ModeProfile struct {
	Contrast       float64 `toml:"contrast" yaml:"contrast"`
	ContrastCutoff float64 `toml:"contrast_cutoff" yaml:"contrast_cutoff"`
	Saturation     float64 `toml:"saturation" yaml:"saturation"`
	Brightness     float64 `toml:"brightness" yaml:"brightness"`
	RedGain        float64 `toml:"red_gain" yaml:"red_gain"`
	GreenGain      float64 `toml:"green_gain" yaml:"green_gain"`
	BlueGain       float64 `toml:"blue_gain" yaml:"blue_gain"`
	// DriverSaturation is handed to the panel quantizer.
	DriverSaturation float64 `toml:"driver_saturation" yaml:"driver_saturation"`
	ConvertP3        *bool   `toml:"convert_p3" yaml:"convert_p3"`
}

type PreviewConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Addr    string `toml:"addr" yaml:"addr"`
}

type NetworkConfig struct {
	ProbeHost string `toml:"probe_host" yaml:"probe_host"`
}

// Default returns the built-in configuration with all paths expanded.
func Default() Config {
	return Config{
		PhotosDir:        mustExpand(defaultPhotosDir),
		HistoryFile:      mustExpand(defaultHistoryFile),
		ColorModeFile:    mustExpand(defaultColorModeFile),
		DefaultColorMode: defaultColorMode,
		ChangeHour:       defaultChangeHour,
		MaxPhotos:        defaultMaxPhotos,
		CleanupInterval:  Duration(6 * time.Hour),
		MaintenanceEvery: Duration(time.Hour),
		UploadSettle:     Duration(3 * time.Second),
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			File:   mustExpand("~/inky_photo_frame.log"),
		},
		Display: DisplayConfig{
			SPIPort:     SPI_PORT,
			I2CBus:      I2C_BUS,
			DCPin:       DC_PIN,
			ResetPin:    RESET_PIN,
			BusyPin:     BUSY_PIN,
			SPISpeedHz:  defaultSPISpeedHz,
			BusyTimeout: Duration(45 * time.Second),
			MaxAttempts: defaultMaxAttempts,
			Backoff:     Duration(time.Second),
		},
		Buttons: ButtonConfig{
			Enabled:    true,
			Source:     "gpio",
			Pins:       []string{BUTTON_A_PIN, BUTTON_B_PIN, BUTTON_C_PIN, BUTTON_D_PIN},
			EvdevCodes: []int{30, 48, 46, 32}, // KEY_A, KEY_B, KEY_C, KEY_D
			Debounce:   Duration(20 * time.Millisecond),
		},
		Preview: PreviewConfig{
			Enabled: true,
			Addr:    defaultPreviewAddr,
		},
		Network: NetworkConfig{
			ProbeHost: defaultProbeHost,
		},
	}
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	return defaultConfigPath
}

// Load locates and parses the config file, falling back to defaults when missing.
// Files ending in .yaml or .yml are parsed as YAML, everything else as TOML.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(resolved)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = toml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	for _, p := range []*string{&c.PhotosDir, &c.HistoryFile, &c.ColorModeFile} {
		expanded, err := expandPath(*p)
		if err != nil {
			return fmt.Errorf("expand %q: %w", *p, err)
		}
		*p = expanded
	}
	if strings.TrimSpace(c.Log.File) != "" {
		c.Log.File = mustExpand(c.Log.File)
	}
	c.DefaultColorMode = strings.TrimSpace(c.DefaultColorMode)
	c.Buttons.Source = strings.ToLower(strings.TrimSpace(c.Buttons.Source))
	c.Display.Model = strings.ToLower(strings.TrimSpace(c.Display.Model))
	return nil
}

// Validate reports the first out-of-range setting.
func (c Config) Validate() error {
	switch {
	case c.ChangeHour < 0 || c.ChangeHour > 23:
		return fmt.Errorf("change_hour %d out of range 0-23", c.ChangeHour)
	case c.MaxPhotos <= 0:
		return fmt.Errorf("max_photos must be positive, got %d", c.MaxPhotos)
	case c.CleanupInterval <= 0:
		return errors.New("cleanup_interval must be positive")
	case c.MaintenanceEvery <= 0:
		return errors.New("maintenance_interval must be positive")
	case c.UploadSettle < 0:
		return errors.New("upload_settle must not be negative")
	case c.Display.MaxAttempts <= 0:
		return fmt.Errorf("display.max_attempts must be positive, got %d", c.Display.MaxAttempts)
	case c.Display.Backoff < 0:
		return errors.New("display.backoff must not be negative")
	case c.Display.BusyTimeout <= 0:
		return errors.New("display.busy_timeout must be positive")
	}
	switch c.Buttons.Source {
	case "gpio", "evdev", "none", "":
	default:
		return fmt.Errorf("buttons.source %q must be gpio, evdev or none", c.Buttons.Source)
	}
	if c.Buttons.Source == "gpio" && len(c.Buttons.Pins) != 4 {
		return fmt.Errorf("buttons.pins needs 4 entries, got %d", len(c.Buttons.Pins))
	}
	if c.Buttons.Source == "evdev" && len(c.Buttons.EvdevCodes) != 4 {
		return fmt.Errorf("buttons.evdev_codes needs 4 entries, got %d", len(c.Buttons.EvdevCodes))
	}
	return nil
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
