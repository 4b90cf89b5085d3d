package welcome

import (
	"bytes"
	"fmt"
	"image"

	svg "github.com/ajstarks/svgo"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

const iconBox = 24

func hex(c interface{ RGBA() (r, g, b, a uint32) }) string {
	r, g, b, _ := c.RGBA()
	return fmt.Sprintf("#%02X%02X%02X", r>>8, g>>8, b>>8)
}

// statusSVG draws a globe in a ring: green when online, red and struck
// through when offline.
func statusSVG(online bool) []byte {
	var buf bytes.Buffer
	canvas := svg.New(&buf)
	canvas.Startview(iconBox, iconBox, 0, 0, iconBox, iconBox)

	ring := hex(INK_RED)
	if online {
		ring = hex(INK_GREEN)
	}
	canvas.Circle(12, 12, 10, "fill:none;stroke:"+ring+";stroke-width:2")
	canvas.Ellipse(12, 12, 4, 10, "fill:none;stroke:"+hex(INK_BLACK)+";stroke-width:1.5")
	canvas.Line(2, 12, 22, 12, "stroke:"+hex(INK_BLACK)+";stroke-width:1.5")
	if !online {
		canvas.Line(5, 19, 19, 5, "stroke:"+ring+";stroke-width:3")
	}
	canvas.End()
	return buf.Bytes()
}

// statusIcon rasterizes the status icon into a size x size image.
func statusIcon(size int, online bool) (*image.RGBA, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(statusSVG(online)))
	if err != nil {
		return nil, fmt.Errorf("parse status icon: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	dasher := rasterx.NewDasher(size, size, scanner)
	icon.Draw(dasher, 1.0)
	return img, nil
}
