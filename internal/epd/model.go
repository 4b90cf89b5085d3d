package epd

import (
	"encoding/binary"
	"fmt"
	"image/color"
	"sort"
	"strings"
	"time"
)

// Controller command codes shared by the supported panels.
const (
	CMD_PSR   = 0x00
	CMD_PWR   = 0x01
	CMD_POF   = 0x02
	CMD_POFS  = 0x03
	CMD_PON   = 0x04
	CMD_BTST1 = 0x05
	CMD_BTST2 = 0x06
	CMD_BTST3 = 0x08
	CMD_DTM   = 0x10
	CMD_DRF   = 0x12
	CMD_IPC   = 0x13
	CMD_PLL   = 0x30
	CMD_TSE   = 0x41
	CMD_CDI   = 0x50
	CMD_TCON  = 0x60
	CMD_TRES  = 0x61
	CMD_DAM   = 0x65
	CMD_VDCS  = 0x82
	CMD_TVDCS = 0x84
	CMD_AGID  = 0x86
	CMD_CMDH  = 0xAA
	CMD_CCSET = 0xE0
	CMD_PWS   = 0xE3
	CMD_TSSET = 0xE6
)

// waitRefresh marks a busy wait bounded by the configured refresh timeout.
const waitRefresh time.Duration = -1

type command struct {
	code byte
	data []byte
	// wait is the busy wait after the command; 0 skips it.
	wait time.Duration
}

// Model describes one supported panel.
type Model struct {
	Name     string
	Variants []int
	Width    int
	Height   int

	// Calibrated holds the measured ink colors, used for frames that are
	// already dithered. CalibratedInks maps its indices to controller inks.
	Calibrated     color.Palette
	CalibratedInks []byte

	// Desaturated and Saturated are blended by the saturation setting for
	// frames the driver dithers itself. Inks maps their indices.
	Desaturated color.Palette
	Saturated   color.Palette
	Inks        []byte

	resetHold time.Duration
	setup     func(m *Model) []command
	update    []command
}

func (m *Model) String() string {
	return fmt.Sprintf("%s %dx%d", m.Name, m.Width, m.Height)
}

// Blend returns the vendor quantization palette for saturation s in [0,1].
func (m *Model) Blend(s float64) color.Palette {
	s = clamp01(s)
	out := make(color.Palette, len(m.Saturated))
	for i := range m.Saturated {
		sr, sg, sb, _ := m.Saturated[i].RGBA()
		dr, dg, db, _ := m.Desaturated[i].RGBA()
		out[i] = color.RGBA{
			R: mix(sr, dr, s),
			G: mix(sg, dg, s),
			B: mix(sb, db, s),
			A: 0xff,
		}
	}
	return out
}

func mix(sat, desat uint32, s float64) uint8 {
	return uint8(float64(sat>>8)*s + float64(desat>>8)*(1-s) + 0.5)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func rgb(v uint32) color.RGBA {
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}
}

func palette(vs ...uint32) color.Palette {
	p := make(color.Palette, len(vs))
	for i, v := range vs {
		p[i] = rgb(v)
	}
	return p
}

// Spectra 6 (E673) ink indices.
const (
	E673_BLACK  = 0
	E673_WHITE  = 1
	E673_YELLOW = 2
	E673_RED    = 3
	E673_BLUE   = 5
	E673_GREEN  = 6
)

// Classic 7-colour ink indices (UC8159, AC073TC1A).
const (
	INK_BLACK  = 0
	INK_WHITE  = 1
	INK_GREEN  = 2
	INK_BLUE   = 3
	INK_RED    = 4
	INK_YELLOW = 5
	INK_ORANGE = 6
	INK_CLEAN  = 7
)

// SpectraPalette is the measured look of the Spectra 6 inks in the order
// black, white, red, yellow, green, blue.
var SpectraPalette = palette(0x000000, 0xffffff, 0xa02020, 0xf0e050, 0x608050, 0x5080b8)

var classicDesaturated = palette(0x000000, 0xffffff, 0x00ff00, 0x0000ff, 0xff0000, 0xffff00, 0xff8c00)

var classicInks = []byte{INK_BLACK, INK_WHITE, INK_GREEN, INK_BLUE, INK_RED, INK_YELLOW, INK_ORANGE}

var uc8159Saturated = palette(0x393039, 0xffffff, 0x3a5b46, 0x3d3b5e, 0x9c484b, 0xd0be47, 0xb16a49)

var ac073Saturated = palette(0x000000, 0xd9f2ff, 0x037c4c, 0x1b2ec6, 0xf55022, 0xffff44, 0xef792c)

var (
	UC8159_600x448 = &Model{
		Name:           "uc8159_600x448",
		Variants:       []int{14},
		Width:          600,
		Height:         448,
		Calibrated:     uc8159Saturated,
		CalibratedInks: classicInks,
		Desaturated:    classicDesaturated,
		Saturated:      uc8159Saturated,
		Inks:           classicInks,
		resetHold:      100 * time.Millisecond,
		setup:          uc8159Setup,
		update:         uc8159Update,
	}

	UC8159_640x400 = &Model{
		Name:           "uc8159_640x400",
		Variants:       []int{15, 16},
		Width:          640,
		Height:         400,
		Calibrated:     uc8159Saturated,
		CalibratedInks: classicInks,
		Desaturated:    classicDesaturated,
		Saturated:      uc8159Saturated,
		Inks:           classicInks,
		resetHold:      100 * time.Millisecond,
		setup:          uc8159Setup,
		update:         uc8159Update,
	}

	AC073TC1A = &Model{
		Name:           "ac073tc1a",
		Variants:       []int{20},
		Width:          800,
		Height:         480,
		Calibrated:     ac073Saturated,
		CalibratedInks: classicInks,
		Desaturated:    classicDesaturated,
		Saturated:      ac073Saturated,
		Inks:           classicInks,
		resetHold:      100 * time.Millisecond,
		setup:          ac073Setup,
		update: []command{
			{code: CMD_PON, wait: 400 * time.Millisecond},
			{code: CMD_DRF, data: []byte{0x00}, wait: waitRefresh},
			{code: CMD_POF, data: []byte{0x00}, wait: 400 * time.Millisecond},
		},
	}

	E673 = &Model{
		Name:           "e673",
		Variants:       []int{22},
		Width:          800,
		Height:         480,
		Calibrated:     SpectraPalette,
		CalibratedInks: []byte{E673_BLACK, E673_WHITE, E673_RED, E673_YELLOW, E673_GREEN, E673_BLUE},
		Desaturated:    palette(0x000000, 0xffffff, 0xffff00, 0xff0000, 0x0000ff, 0x00ff00),
		Saturated:      palette(0x000000, 0xa1a4a5, 0xd0be47, 0x9c484b, 0x3d3b5e, 0x3a5b46),
		Inks:           []byte{E673_BLACK, E673_WHITE, E673_YELLOW, E673_RED, E673_BLUE, E673_GREEN},
		resetHold:      30 * time.Millisecond,
		setup:          e673Setup,
		update: []command{
			{code: CMD_PON, wait: 300 * time.Millisecond},
			{code: CMD_BTST2, data: []byte{0x6F, 0x1F, 0x17, 0x49}},
			{code: CMD_DRF, data: []byte{0x00}, wait: waitRefresh},
			{code: CMD_POF, data: []byte{0x00}, wait: 300 * time.Millisecond},
		},
	}
)

var models = []*Model{UC8159_600x448, UC8159_640x400, AC073TC1A, E673}

// Models lists the supported panels.
func Models() []*Model {
	return append([]*Model(nil), models...)
}

// ModelByName looks a model up by its case-insensitive name.
func ModelByName(name string) (*Model, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, m := range models {
		if m.Name == name {
			return m, nil
		}
	}
	names := make([]string, len(models))
	for i, m := range models {
		names[i] = m.Name
	}
	sort.Strings(names)
	return nil, fmt.Errorf("%w: model %q (known: %s)", ErrUnsupported, name, strings.Join(names, ", "))
}

// ModelByVariant maps a HAT EEPROM display variant to a model.
func ModelByVariant(v int) (*Model, error) {
	for _, m := range models {
		for _, mv := range m.Variants {
			if mv == v {
				return m, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: display variant %d", ErrUnsupported, v)
}

func uc8159Setup(m *Model) []command {
	res := byte(0b11)
	if m.Width == 640 {
		res = 0b10
	}
	tres := binary.BigEndian.AppendUint16(nil, uint16(m.Width))
	tres = binary.BigEndian.AppendUint16(tres, uint16(m.Height))
	return []command{
		{code: CMD_TRES, data: tres},
		{code: CMD_PSR, data: []byte{res<<6 | 0b101111, 0x08}},
		{code: CMD_PWR, data: []byte{0x06<<3 | 0x01<<2 | 0x01<<1 | 0x01, 0x00, 0x23, 0x23}},
		{code: CMD_PLL, data: []byte{0x3C}},
		{code: CMD_TSE, data: []byte{0x00}},
		{code: CMD_CDI, data: []byte{INK_WHITE<<5 | 0x17}},
		{code: CMD_TCON, data: []byte{0x22}},
		{code: CMD_DAM, data: []byte{0x00}},
		{code: CMD_PWS, data: []byte{0xAA}},
		{code: CMD_POFS, data: []byte{0x00}},
	}
}

var uc8159Update = []command{
	{code: CMD_PON, wait: 200 * time.Millisecond},
	{code: CMD_DRF, wait: waitRefresh},
	{code: CMD_POF, wait: 200 * time.Millisecond},
}

func ac073Setup(*Model) []command {
	return []command{
		{code: CMD_CMDH, data: []byte{0x49, 0x55, 0x20, 0x08, 0x09, 0x18}},
		{code: CMD_PWR, data: []byte{0x3F, 0x00, 0x32, 0x2A, 0x0E, 0x2A}},
		{code: CMD_PSR, data: []byte{0x5F, 0x69}},
		{code: CMD_POFS, data: []byte{0x00, 0x54, 0x00, 0x44}},
		{code: CMD_BTST1, data: []byte{0x40, 0x1F, 0x1F, 0x2C}},
		{code: CMD_BTST2, data: []byte{0x6F, 0x1F, 0x16, 0x25}},
		{code: CMD_BTST3, data: []byte{0x6F, 0x1F, 0x1F, 0x22}},
		{code: CMD_IPC, data: []byte{0x00, 0x04}},
		{code: CMD_PLL, data: []byte{0x02}},
		{code: CMD_TSE, data: []byte{0x00}},
		{code: CMD_CDI, data: []byte{0x3F}},
		{code: CMD_TCON, data: []byte{0x02, 0x00}},
		{code: CMD_TRES, data: []byte{0x03, 0x20, 0x01, 0xE0}},
		{code: CMD_VDCS, data: []byte{0x1E}},
		{code: CMD_TVDCS, data: []byte{0x00}},
		{code: CMD_AGID, data: []byte{0x00}},
		{code: CMD_PWS, data: []byte{0x2F}},
		{code: CMD_CCSET, data: []byte{0x00}},
		{code: CMD_TSSET, data: []byte{0x00}},
	}
}

func e673Setup(*Model) []command {
	return []command{
		{code: CMD_CMDH, data: []byte{0x49, 0x55, 0x20, 0x08, 0x09, 0x18}},
		{code: CMD_PWR, data: []byte{0x3F}},
		{code: CMD_PSR, data: []byte{0x5F, 0x69}},
		{code: CMD_BTST1, data: []byte{0x40, 0x1F, 0x1F, 0x2C}},
		{code: CMD_BTST3, data: []byte{0x6F, 0x1F, 0x1F, 0x22}},
		{code: CMD_BTST2, data: []byte{0x6F, 0x1F, 0x17, 0x17}},
		{code: CMD_POFS, data: []byte{0x00, 0x54, 0x00, 0x44}},
		{code: CMD_TCON, data: []byte{0x02, 0x00}},
		{code: CMD_PLL, data: []byte{0x08}},
		{code: CMD_CDI, data: []byte{0x3F}},
		{code: CMD_TRES, data: []byte{0x03, 0x20, 0x01, 0xE0}},
		{code: CMD_PWS, data: []byte{0x2F}},
		{code: CMD_VDCS, data: []byte{0x01}},
	}
}
