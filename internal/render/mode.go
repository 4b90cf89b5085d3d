package render

import "fmt"

// ColorMode selects how a photo is mapped onto the panel inks.
type ColorMode int

const (
	// Pimoroni leaves the photo untouched and lets the panel driver
	// quantize it with a blended palette.
	Pimoroni ColorMode = iota
	// SpectraPalette tones the photo and dithers it onto the calibrated inks.
	SpectraPalette
	// WarmthBoost shifts the channels warm and hands the result to the driver
	// with a low saturation.
	WarmthBoost
)

var modeNames = [...]string{
	Pimoroni:       "pimoroni",
	SpectraPalette: "spectra_palette",
	WarmthBoost:    "warmth_boost",
}

// Modes lists every mode in cycle order.
func Modes() []ColorMode {
	return []ColorMode{Pimoroni, SpectraPalette, WarmthBoost}
}

func (m ColorMode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("ColorMode(%d)", int(m))
	}
	return modeNames[m]
}

// Next returns the mode after m, wrapping to the first.
func (m ColorMode) Next() ColorMode {
	return ColorMode((int(m) + 1) % len(modeNames))
}

// First is the mode the reset action returns to.
func First() ColorMode { return Pimoroni }

// ParseColorMode accepts the persisted mode names.
func ParseColorMode(name string) (ColorMode, error) {
	for i, n := range modeNames {
		if n == name {
			return ColorMode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown color mode %q", name)
}
