package epd

import (
	"encoding/binary"
	"fmt"
	"strings"

	"periph.io/x/conn/v3/i2c"
)

const (
	EEPROM_ADDR = 0x50
	eepromSize  = 29
)

// EEPROM is the identification block of an Inky HAT.
type EEPROM struct {
	Width          int
	Height         int
	Color          int
	PCBVariant     int
	DisplayVariant int
	WriteTime      string
}

// ParseEEPROM decodes the raw identification block.
func ParseEEPROM(b []byte) (*EEPROM, error) {
	if len(b) < 7 {
		return nil, fmt.Errorf("eeprom: short read (%d bytes)", len(b))
	}
	e := &EEPROM{
		Width:          int(binary.LittleEndian.Uint16(b[0:])),
		Height:         int(binary.LittleEndian.Uint16(b[2:])),
		Color:          int(b[4]),
		PCBVariant:     int(b[5]),
		DisplayVariant: int(b[6]),
	}
	if len(b) > 8 {
		// Length-prefixed timestamp.
		n := int(b[7])
		end := min(8+n, len(b))
		e.WriteTime = strings.TrimRight(string(b[8:end]), "\x00")
	}
	if e.Width == 0 || e.Height == 0 || e.Width == 0xFFFF {
		return nil, fmt.Errorf("eeprom: blank or invalid block")
	}
	return e, nil
}

// ReadEEPROM reads the identification block over I²C.
func ReadEEPROM(b i2c.Bus) (*EEPROM, error) {
	d := i2c.Dev{Bus: b, Addr: EEPROM_ADDR}
	buf := make([]byte, eepromSize)
	if err := d.Tx([]byte{0x00, 0x00}, buf); err != nil {
		return nil, &BusError{Op: "read eeprom", Err: err}
	}
	return ParseEEPROM(buf)
}

// Detect identifies the attached panel from its EEPROM.
func Detect(b i2c.Bus) (*Model, *EEPROM, error) {
	e, err := ReadEEPROM(b)
	if err != nil {
		return nil, nil, err
	}
	m, err := ModelByVariant(e.DisplayVariant)
	if err != nil {
		return nil, e, err
	}
	if m.Width != e.Width || m.Height != e.Height {
		return nil, e, fmt.Errorf("%w: variant %d reports %dx%d, %s expects %dx%d",
			ErrUnsupported, e.DisplayVariant, e.Width, e.Height, m.Name, m.Width, m.Height)
	}
	return m, e, nil
}
