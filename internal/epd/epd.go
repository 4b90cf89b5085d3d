// Package epd drives Pimoroni Inky Impression color e-paper panels over
// periph.io SPI and GPIO.
package epd

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"time"

	xdraw "golang.org/x/image/draw"
	"periph.io/x/conn/v3/display"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

var (
	// ErrBusyTimeout is returned when the panel holds BUSY past the timeout.
	ErrBusyTimeout = errors.New("epd: busy timeout")
	// ErrUnsupported is returned for panels this driver cannot drive.
	ErrUnsupported = errors.New("epd: unsupported panel")
)

// BusError is a failed bus or pin operation. Such failures are usually
// transient on a loaded SPI bus.
type BusError struct {
	Op  string
	Err error
}

func (e *BusError) Error() string { return "epd: " + e.Op + ": " + e.Err.Error() }

func (e *BusError) Unwrap() error { return e.Err }

// Temporary reports that a retry may succeed.
func (e *BusError) Temporary() bool { return true }

const (
	DEFAULT_SPI_SPEED    = 3 * physic.MegaHertz
	DEFAULT_BUSY_TIMEOUT = 45 * time.Second
	DEFAULT_SATURATION   = 0.5

	// spidev rejects transfers above its buffer size.
	maxTransfer  = 4096
	pollInterval = 10 * time.Millisecond
)

// Opts configures a Dev.
type Opts struct {
	Model       *Model
	SPISpeed    physic.Frequency
	BusyTimeout time.Duration
	Saturation  float64
}

// Dev is an open panel.
type Dev struct {
	mu   sync.Mutex
	c    spi.Conn
	dc   gpio.PinOut
	rst  gpio.PinOut
	busy gpio.PinIn

	model       *Model
	busyTimeout time.Duration
	saturation  float64
	// pix holds one controller ink per pixel.
	pix []byte

	sleep func(time.Duration)
	now   func() time.Time
}

var _ display.Drawer = (*Dev)(nil)

// New connects to the panel on port. Nothing is sent until the first Draw.
func New(p spi.Port, dc, rst gpio.PinOut, busy gpio.PinIn, opts *Opts) (*Dev, error) {
	if opts == nil || opts.Model == nil {
		return nil, fmt.Errorf("%w: no model", ErrUnsupported)
	}
	speed := opts.SPISpeed
	if speed == 0 {
		speed = DEFAULT_SPI_SPEED
	}
	timeout := opts.BusyTimeout
	if timeout <= 0 {
		timeout = DEFAULT_BUSY_TIMEOUT
	}
	sat := opts.Saturation
	if sat == 0 {
		sat = DEFAULT_SATURATION
	}

	c, err := p.Connect(speed, spi.Mode0, 8)
	if err != nil {
		return nil, &BusError{Op: "spi connect", Err: err}
	}
	if err := busy.In(gpio.Float, gpio.NoEdge); err != nil {
		return nil, &BusError{Op: "busy pin", Err: err}
	}
	if err := dc.Out(gpio.Low); err != nil {
		return nil, &BusError{Op: "dc pin", Err: err}
	}
	if err := rst.Out(gpio.High); err != nil {
		return nil, &BusError{Op: "reset pin", Err: err}
	}

	m := opts.Model
	d := &Dev{
		c:           c,
		dc:          dc,
		rst:         rst,
		busy:        busy,
		model:       m,
		busyTimeout: timeout,
		saturation:  clamp01(sat),
		pix:         make([]byte, m.Width*m.Height),
		sleep:       time.Sleep,
		now:         time.Now,
	}
	for i := range d.pix {
		d.pix[i] = m.Inks[1] // white
	}
	return d, nil
}

func (d *Dev) String() string {
	return fmt.Sprintf("Inky(%s)", d.model)
}

// Halt is a no-op; the panel keeps its image without power.
func (d *Dev) Halt() error { return nil }

// ColorModel returns the calibrated ink palette.
func (d *Dev) ColorModel() color.Model { return d.model.Calibrated }

func (d *Dev) Bounds() image.Rectangle {
	return image.Rect(0, 0, d.model.Width, d.model.Height)
}

// Palette returns the calibrated ink palette. Frames dithered onto exactly
// this palette are sent as is.
func (d *Dev) Palette() color.Palette { return d.model.Calibrated }

// SetSaturation sets the palette blend used for frames the driver dithers.
func (d *Dev) SetSaturation(s float64) {
	d.mu.Lock()
	d.saturation = clamp01(s)
	d.mu.Unlock()
}

// Draw maps src onto the panel inks and refreshes the panel.
func (d *Dev) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	r = r.Intersect(d.Bounds())
	if r.Empty() {
		return nil
	}
	d.load(r, src, sp)
	return d.refresh()
}

func (d *Dev) load(r image.Rectangle, src image.Image, sp image.Point) {
	m := d.model
	if p, ok := src.(*image.Paletted); ok && samePalette(p.Palette, m.Calibrated) {
		for y := r.Min.Y; y < r.Max.Y; y++ {
			sy := sp.Y + y - r.Min.Y
			for x := r.Min.X; x < r.Max.X; x++ {
				sx := sp.X + x - r.Min.X
				if !image.Pt(sx, sy).In(p.Rect) {
					continue
				}
				d.pix[y*m.Width+x] = m.CalibratedInks[p.ColorIndexAt(sx, sy)]
			}
		}
		return
	}

	dst := image.NewPaletted(image.Rect(0, 0, r.Dx(), r.Dy()), m.Blend(d.saturation))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(dst.Palette[INK_WHITE]), image.Point{}, draw.Src)
	xdraw.FloydSteinberg.Draw(dst, dst.Bounds(), src, sp)
	for y := 0; y < dst.Rect.Dy(); y++ {
		row := dst.Pix[y*dst.Stride : y*dst.Stride+dst.Rect.Dx()]
		base := (r.Min.Y+y)*m.Width + r.Min.X
		for x, idx := range row {
			d.pix[base+x] = m.Inks[idx]
		}
	}
}

func samePalette(a, b color.Palette) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ar, ag, ab, aa := a[i].RGBA()
		br, bg, bb, ba := b[i].RGBA()
		if ar != br || ag != bg || ab != bb || aa != ba {
			return false
		}
	}
	return true
}

// pack returns the buffer at 4 bits per pixel, high nibble first.
func (d *Dev) pack() []byte {
	out := make([]byte, (len(d.pix)+1)/2)
	for i := 0; i < len(d.pix); i += 2 {
		b := (d.pix[i] & 0x0F) << 4
		if i+1 < len(d.pix) {
			b |= d.pix[i+1] & 0x0F
		}
		out[i/2] = b
	}
	return out
}

func (d *Dev) refresh() error {
	if err := d.reset(); err != nil {
		return err
	}
	if err := d.run(d.model.setup(d.model)); err != nil {
		return err
	}
	if err := d.send(CMD_DTM, d.pack()); err != nil {
		return err
	}
	return d.run(d.model.update)
}

func (d *Dev) reset() error {
	if err := d.rst.Out(gpio.Low); err != nil {
		return &BusError{Op: "reset", Err: err}
	}
	d.sleep(d.model.resetHold)
	if err := d.rst.Out(gpio.High); err != nil {
		return &BusError{Op: "reset", Err: err}
	}
	d.sleep(d.model.resetHold)
	return d.waitBusy(time.Second)
}

func (d *Dev) run(cmds []command) error {
	for _, c := range cmds {
		if err := d.send(c.code, c.data); err != nil {
			return err
		}
		switch {
		case c.wait == waitRefresh:
			if err := d.waitBusy(d.busyTimeout); err != nil {
				return err
			}
		case c.wait > 0:
			if err := d.waitBusy(c.wait); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Dev) send(cmd byte, data []byte) error {
	if err := d.dc.Out(gpio.Low); err != nil {
		return &BusError{Op: "dc", Err: err}
	}
	if err := d.c.Tx([]byte{cmd}, nil); err != nil {
		return &BusError{Op: fmt.Sprintf("command 0x%02X", cmd), Err: err}
	}
	if len(data) == 0 {
		return nil
	}
	if err := d.dc.Out(gpio.High); err != nil {
		return &BusError{Op: "dc", Err: err}
	}
	for off := 0; off < len(data); off += maxTransfer {
		end := min(off+maxTransfer, len(data))
		if err := d.c.Tx(data[off:end], nil); err != nil {
			return &BusError{Op: fmt.Sprintf("data 0x%02X", cmd), Err: err}
		}
	}
	return nil
}

// waitBusy polls the BUSY line, which the controller holds low while working.
func (d *Dev) waitBusy(timeout time.Duration) error {
	deadline := d.now().Add(timeout)
	for d.busy.Read() == gpio.Low {
		if !d.now().Before(deadline) {
			return fmt.Errorf("%w after %s", ErrBusyTimeout, timeout)
		}
		d.sleep(pollInterval)
	}
	return nil
}
