// Package welcome draws the placeholder frame shown while the photo directory
// is empty.
package welcome

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/llgcode/draw2d/draw2dimg"
	"github.com/llgcode/draw2d/draw2dkit"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/photonicat/inky_photo_frame/internal/netinfo"
	"github.com/photonicat/inky_photo_frame/internal/render"
)

// SATURATION is handed to the panel driver with the welcome frame.
const SATURATION = 0.6

const minIconSize = 8

var (
	INK_BLACK = color.RGBA{0, 0, 0, 255}
	INK_WHITE = color.RGBA{255, 255, 255, 255}
	INK_RED   = color.RGBA{160, 32, 32, 255}
	INK_GREEN = color.RGBA{96, 128, 80, 255}
	INK_BLUE  = color.RGBA{80, 128, 184, 255}
	INK_GREY  = color.RGBA{128, 128, 128, 255}
)

// Info is what the welcome frame tells the user.
type Info struct {
	IP        string
	PhotosDir string
	Online    bool
}

// Gather looks up the LAN address and probes connectivity.
func Gather(ctx context.Context, photosDir, probeHost string, ping netinfo.Pinger) Info {
	return Info{
		IP:        netinfo.LocalIP(probeHost),
		PhotosDir: photosDir,
		Online:    netinfo.Online(ctx, ping, probeHost),
	}
}

type faces struct {
	title, body, small font.Face
}

// newFaces sizes the Go fonts relative to the frame height.
func newFaces(h int) (faces, error) {
	bold, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return faces{}, fmt.Errorf("error parsing font: %w", err)
	}
	regular, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return faces{}, fmt.Errorf("error parsing font: %w", err)
	}
	face := func(f *opentype.Font, size float64) (font.Face, error) {
		return opentype.NewFace(f, &opentype.FaceOptions{
			Size:    size,
			DPI:     72,
			Hinting: font.HintingFull,
		})
	}
	var fs faces
	if fs.title, err = face(bold, float64(h)/9); err != nil {
		return faces{}, err
	}
	if fs.body, err = face(regular, float64(h)/18); err != nil {
		return faces{}, err
	}
	if fs.small, err = face(regular, float64(h)/24); err != nil {
		return faces{}, err
	}
	return fs, nil
}

// Render draws the welcome frame at w x h.
func Render(w, h int, info Info) (*render.Frame, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("welcome: invalid size %dx%d", w, h)
	}
	fs, err := newFaces(h)
	if err != nil {
		return nil, err
	}
	ip := info.IP
	if ip == "" {
		ip = netinfo.FallbackIP
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(INK_WHITE), image.Point{}, draw.Src)

	gc := draw2dimg.NewGraphicContext(img)
	margin := float64(h) / 24
	gc.SetStrokeColor(INK_BLACK)
	gc.SetLineWidth(float64(h) / 120)
	draw2dkit.RoundedRectangle(gc, margin, margin, float64(w)-margin, float64(h)-margin, margin, margin)
	gc.Stroke()

	cx := w / 2
	lineGap := h / 40
	y := h / 10

	_, y = drawText(img, "Photo Frame", cx, y, fs.title, INK_RED, true)
	y += lineGap
	y = separator(gc, w, y, INK_BLACK)

	_, y = drawText(img, "IP: "+ip, cx, y+lineGap, fs.body, INK_BLACK, true)
	_, y = drawText(img, "Photos directory:", cx, y+lineGap, fs.body, INK_BLACK, true)
	_, y = drawText(img, info.PhotosDir, cx, y+lineGap/2, fs.small, INK_BLUE, true)
	y += lineGap
	y = separator(gc, w, y, INK_GREY)

	_, y = drawText(img, "Sync/copy images here", cx, y+lineGap, fs.body, INK_BLACK, true)
	drawText(img, "New photos show automatically", cx, y+lineGap, fs.body, INK_BLACK, true)

	if size := h / 10; size >= minIconSize {
		icon, err := statusIcon(size, info.Online)
		if err != nil {
			return nil, err
		}
		at := image.Pt(w-int(margin)*2-size, int(margin)*2)
		draw.Draw(img, icon.Bounds().Add(at), icon, image.Point{}, draw.Over)
	}

	return &render.Frame{
		Image:      img,
		Saturation: SATURATION,
		Mode:       render.Pimoroni,
	}, nil
}

// separator strokes a horizontal rule across the middle two thirds at y and
// returns the y below it.
func separator(gc *draw2dimg.GraphicContext, w, y int, clr color.Color) int {
	gc.SetStrokeColor(clr)
	gc.BeginPath()
	gc.MoveTo(float64(w)/6, float64(y))
	gc.LineTo(float64(w)*5/6, float64(y))
	gc.Stroke()
	return y + 1
}

// drawText draws text with its top at posY, centered on posX when center is
// set, and returns the bottom-right corner of what was drawn.
func drawText(img *image.RGBA, text string, posX, posY int, face font.Face, clr color.Color, center bool) (finishX, finishY int) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(clr),
		Face: face,
	}
	metrics := face.Metrics()
	width := d.MeasureString(text).Round()

	x := posX
	if center {
		x = posX - width/2
	}
	d.Dot = fixed.P(x, posY+metrics.Ascent.Round())
	d.DrawString(text)

	return x + width, posY + metrics.Ascent.Round() + metrics.Descent.Round()
}
