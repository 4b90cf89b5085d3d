package welcome

import (
	"context"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photonicat/inky_photo_frame/internal/render"
)

func countNonWhite(img image.Image, r image.Rectangle) int {
	n := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			if c.R < 250 || c.G < 250 || c.B < 250 {
				n++
			}
		}
	}
	return n
}

func TestRender(t *testing.T) {
	f, err := Render(800, 480, Info{IP: "10.0.0.7", PhotosDir: "/home/pi/Images", Online: true})
	require.NoError(t, err)

	assert.Equal(t, image.Rect(0, 0, 800, 480), f.Image.Bounds())
	assert.False(t, f.Quantized)
	assert.Equal(t, SATURATION, f.Saturation)
	assert.Equal(t, render.Pimoroni, f.Mode)

	// Title band carries ink, the background stays white.
	assert.Positive(t, countNonWhite(f.Image, image.Rect(200, 40, 600, 110)))
	assert.Zero(t, countNonWhite(f.Image, image.Rect(30, 200, 60, 260)))
}

func TestRender_InvalidSize(t *testing.T) {
	_, err := Render(0, 480, Info{})
	assert.Error(t, err)
}

func TestRender_SmallPanel(t *testing.T) {
	f, err := Render(600, 448, Info{})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 600, 448), f.Image.Bounds())
}

func TestStatusIcon(t *testing.T) {
	online, err := statusIcon(48, true)
	require.NoError(t, err)
	offline, err := statusIcon(48, false)
	require.NoError(t, err)

	assert.Positive(t, countOpaque(online))
	// The strike-through adds ink.
	assert.Greater(t, countOpaque(offline), countOpaque(online))
}

func countOpaque(img *image.RGBA) int {
	n := 0
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] > 0 {
			n++
		}
	}
	return n
}

func TestStatusSVG(t *testing.T) {
	assert.Contains(t, string(statusSVG(true)), `viewBox="0 0 24 24"`)
	assert.Contains(t, string(statusSVG(true)), "#608050")
	assert.Contains(t, string(statusSVG(false)), "#A02020")
}

func TestGather(t *testing.T) {
	up := func(context.Context, string) (time.Duration, error) { return time.Millisecond, nil }
	info := Gather(context.Background(), "/photos", "", up)

	assert.Equal(t, "/photos", info.PhotosDir)
	assert.NotEmpty(t, info.IP)
	assert.False(t, info.Online, "no probe host means offline")
}
