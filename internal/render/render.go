// Package render turns decoded photos into frames the e-ink panel can show.
//
// The pipeline is fixed: color space, orientation, fit, tone, quantize. Every
// step is a pure function of its input, so Render is safe for concurrent use.
package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	xdraw "golang.org/x/image/draw"
)

// Options describe the target panel and the mode to render in.
type Options struct {
	Width, Height int
	Mode          ColorMode
	// Palette holds the calibrated ink colors of the panel.
	Palette color.Palette
	// Profiles overrides DefaultProfile per mode.
	Profiles map[ColorMode]Profile
}

func (o Options) profile() Profile {
	if p, ok := o.Profiles[o.Mode]; ok {
		return p
	}
	return DefaultProfile(o.Mode)
}

// Frame is a rendered photo ready for the panel.
type Frame struct {
	// Image is exactly Width x Height. It is an *image.Paletted over the panel
	// palette when Quantized is set.
	Image     image.Image
	Quantized bool
	// Saturation is handed to the panel driver for frames it quantizes itself.
	Saturation float64
	Mode       ColorMode
}

var errNoPalette = errors.New("render: quantizing needs a palette")

// Render runs src through the pipeline.
func Render(src *Source, opts Options) (*Frame, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("render: invalid target size %dx%d", opts.Width, opts.Height)
	}
	if src == nil || src.Image == nil {
		return nil, errors.New("render: no image")
	}
	if src.Image.Bounds().Empty() {
		return nil, errors.New("render: empty image")
	}
	p := opts.profile()
	if p.Quantize && len(opts.Palette) == 0 {
		return nil, errNoPalette
	}

	img := flatten(src.Image)
	if p.ConvertP3 && isDisplayP3(src.Profile) {
		img = convertP3(img)
	}
	img = Orient(img, src.Orientation)
	img = Fit(img, opts.Width, opts.Height)
	img = Tone(img, p)

	frame := &Frame{Image: img, Saturation: p.DriverSaturation, Mode: opts.Mode}
	if p.Quantize {
		frame.Image = Quantize(img, opts.Palette)
		frame.Quantized = true
	}
	return frame, nil
}

// RenderFile opens path and renders it.
func RenderFile(path string, opts Options) (*Frame, error) {
	src, err := Open(path)
	if err != nil {
		return nil, err
	}
	return Render(src, opts)
}

// Quantize error-diffuses img onto pal with Floyd-Steinberg.
func Quantize(img image.Image, pal color.Palette) *image.Paletted {
	b := img.Bounds()
	dst := image.NewPaletted(image.Rect(0, 0, b.Dx(), b.Dy()), pal)
	xdraw.FloydSteinberg.Draw(dst, dst.Bounds(), img, b.Min)
	return dst
}
