package render

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// Orient applies an EXIF orientation so the photo is upright.
func Orient(img image.Image, o int) image.Image {
	switch o {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	}
	return img
}

// flatten composites translucent images onto white.
func flatten(img image.Image) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Point{}, 1.0)
}

// Fit crops img to the aspect ratio of w x h and resamples it to exactly that
// size. Wide photos are cropped around the center; tall photos keep more of
// the top, where faces usually are.
func Fit(img image.Image, w, h int) image.Image {
	b := img.Bounds()
	sw, sh := b.Dx(), b.Dy()
	target := float64(w) / float64(h)

	var crop image.Rectangle
	if float64(sw)/float64(sh) > target {
		nw := max(1, int(float64(sh)*target))
		left := (sw - nw) / 2
		crop = image.Rect(left, 0, left+nw, sh)
	} else {
		nh := max(1, int(float64(sw)/target))
		top := (sh - nh) / 3
		crop = image.Rect(0, top, sw, top+nh)
	}
	cropped := imaging.Crop(img, crop.Add(b.Min))
	return imaging.Resize(cropped, w, h, imaging.Lanczos)
}

// Tone applies the contrast, saturation and temperature settings of p, in that order.
func Tone(img image.Image, p Profile) image.Image {
	if !p.hasTone() {
		return img
	}
	out := img

	if p.ContrastCutoff > 0 {
		lo, hi := cutoffRange(imaging.Histogram(out), p.ContrastCutoff)
		if hi > lo {
			scale := 255 / (hi - lo)
			out = imaging.AdjustFunc(out, func(c color.NRGBA) color.NRGBA {
				c.R = clamp((float64(c.R) - lo) * scale)
				c.G = clamp((float64(c.G) - lo) * scale)
				c.B = clamp((float64(c.B) - lo) * scale)
				return c
			})
		}
	}

	if k := factor(p.Contrast); k != 1 {
		mean := histogramMean(imaging.Histogram(out))
		out = imaging.AdjustFunc(out, func(c color.NRGBA) color.NRGBA {
			c.R = clamp(mean + (float64(c.R)-mean)*k)
			c.G = clamp(mean + (float64(c.G)-mean)*k)
			c.B = clamp(mean + (float64(c.B)-mean)*k)
			return c
		})
	}

	if k := factor(p.Saturation); k != 1 {
		out = imaging.AdjustFunc(out, func(c color.NRGBA) color.NRGBA {
			gray := luma(c)
			c.R = clamp(gray + (float64(c.R)-gray)*k)
			c.G = clamp(gray + (float64(c.G)-gray)*k)
			c.B = clamp(gray + (float64(c.B)-gray)*k)
			return c
		})
	}

	br := factor(p.Brightness)
	rg, gg, bg := br*factor(p.RedGain), br*factor(p.GreenGain), br*factor(p.BlueGain)
	if rg != 1 || gg != 1 || bg != 1 {
		out = imaging.AdjustFunc(out, func(c color.NRGBA) color.NRGBA {
			c.R = clamp(float64(c.R) * rg)
			c.G = clamp(float64(c.G) * gg)
			c.B = clamp(float64(c.B) * bg)
			return c
		})
	}
	return out
}

// cutoffRange returns the luminance levels below and above which the given
// fraction of pixels lies.
func cutoffRange(hist [256]float64, cutoff float64) (lo, hi float64) {
	var acc float64
	lo = 0
	for i := 0; i < 256; i++ {
		acc += hist[i]
		if acc > cutoff {
			lo = float64(i)
			break
		}
	}
	acc = 0
	hi = 255
	for i := 255; i >= 0; i-- {
		acc += hist[i]
		if acc > cutoff {
			hi = float64(i)
			break
		}
	}
	return lo, hi
}

func histogramMean(hist [256]float64) float64 {
	var mean float64
	for i, v := range hist {
		mean += float64(i) * v
	}
	return math.Round(mean)
}

func luma(c color.NRGBA) float64 {
	return 0.299*float64(c.R) + 0.587*float64(c.G) + 0.114*float64(c.B)
}

func clamp(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v + 0.5)
}
