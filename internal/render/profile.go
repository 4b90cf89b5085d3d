package render

// Profile holds the tone settings of one color mode. Factors of 0 are treated
// as 1 (no change).
type Profile struct {
	// ContrastCutoff is the fraction of darkest and brightest pixels clipped
	// by the contrast stretch. 0 disables the stretch.
	ContrastCutoff float64
	Contrast       float64
	Saturation     float64
	Brightness     float64
	RedGain        float64
	GreenGain      float64
	BlueGain       float64

	// Quantize dithers onto the panel palette instead of leaving it to the driver.
	Quantize bool
	// DriverSaturation is handed to the panel driver when Quantize is false.
	DriverSaturation float64
	// ConvertP3 maps Display P3 photos to sRGB before anything else.
	ConvertP3 bool
}

// DefaultProfile returns the built-in settings of m.
func DefaultProfile(m ColorMode) Profile {
	switch m {
	case SpectraPalette:
		return Profile{
			Contrast:         1.2,
			Saturation:       1.3,
			Quantize:         true,
			DriverSaturation: 0.5,
			ConvertP3:        true,
		}
	case WarmthBoost:
		return Profile{
			Brightness:       1.12,
			RedGain:          1.15,
			GreenGain:        0.92,
			BlueGain:         0.75,
			DriverSaturation: 0.3,
			ConvertP3:        true,
		}
	default:
		return Profile{
			DriverSaturation: 0.5,
			ConvertP3:        true,
		}
	}
}

func factor(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}

func (p Profile) hasTone() bool {
	return p.ContrastCutoff > 0 ||
		factor(p.Contrast) != 1 ||
		factor(p.Saturation) != 1 ||
		factor(p.Brightness) != 1 ||
		factor(p.RedGain) != 1 ||
		factor(p.GreenGain) != 1 ||
		factor(p.BlueGain) != 1
}
