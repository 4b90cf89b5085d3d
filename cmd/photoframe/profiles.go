package main

import (
	"fmt"

	"github.com/photonicat/inky_photo_frame/internal/config"
	"github.com/photonicat/inky_photo_frame/internal/render"
)

// modeProfiles layers the [modes.<name>] overrides over the built-in profiles.
func modeProfiles(overrides map[string]config.ModeProfile) (map[render.ColorMode]render.Profile, error) {
	out := make(map[render.ColorMode]render.Profile, len(overrides))
	for name, o := range overrides {
		mode, err := render.ParseColorMode(name)
		if err != nil {
			return nil, fmt.Errorf("modes.%s: %w", name, err)
		}
		p := render.DefaultProfile(mode)
		set := func(dst *float64, v float64) {
			if v != 0 {
				*dst = v
			}
		}
		set(&p.Contrast, o.Contrast)
		set(&p.ContrastCutoff, o.ContrastCutoff)
		set(&p.Saturation, o.Saturation)
		set(&p.Brightness, o.Brightness)
		set(&p.RedGain, o.RedGain)
		set(&p.GreenGain, o.GreenGain)
		set(&p.BlueGain, o.BlueGain)
		set(&p.DriverSaturation, o.DriverSaturation)
		if o.ConvertP3 != nil {
			p.ConvertP3 = *o.ConvertP3
		}
		out[mode] = p
	}
	return out, nil
}
