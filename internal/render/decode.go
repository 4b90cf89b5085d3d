package render

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/jdeng/goheif"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// DecodeError reports a photo that could not be read or decoded.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Source is a decoded photo with the metadata the pipeline needs.
type Source struct {
	Image image.Image
	// Format is the decoder name: jpeg, png, gif, bmp, webp or heic.
	Format string
	// Orientation is the EXIF orientation, 1 when absent.
	Orientation int
	// Profile describes the embedded ICC profile, "" when there is none.
	Profile string
}

// Open reads and decodes the photo at path.
func Open(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &DecodeError{Path: filepath.Base(path), Err: err}
	}
	src, err := Decode(data)
	if err != nil {
		return nil, &DecodeError{Path: filepath.Base(path), Err: err}
	}
	return src, nil
}

// DecodeReader decodes a photo from r. name is used in errors only.
func DecodeReader(r io.Reader, name string) (*Source, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &DecodeError{Path: name, Err: err}
	}
	src, err := Decode(data)
	if err != nil {
		return nil, &DecodeError{Path: name, Err: err}
	}
	return src, nil
}

// Decode decodes an encoded photo held in memory.
func Decode(data []byte) (*Source, error) {
	if len(data) == 0 {
		return nil, errors.New("empty file")
	}

	if isHEIF(data) {
		img, err := goheif.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("heic: %w", err)
		}
		src := &Source{Image: img, Format: "heic", Orientation: 1, Profile: describeICC(heifICC(data))}
		if raw, err := goheif.ExtractExif(bytes.NewReader(data)); err == nil {
			src.Orientation = orientation(raw)
		}
		return src, nil
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	src := &Source{Image: img, Format: format, Orientation: 1}
	switch format {
	case "jpeg":
		src.Profile = embeddedProfile(data)
		src.Orientation = orientation(data)
	case "png", "webp":
		src.Profile = embeddedProfile(data)
	}
	return src, nil
}

var heifBrands = map[string]bool{
	"heic": true, "heix": true, "heim": true, "heis": true,
	"hevc": true, "hevx": true, "mif1": true, "msf1": true,
}

func isHEIF(data []byte) bool {
	return len(data) >= 12 && string(data[4:8]) == "ftyp" && heifBrands[string(data[8:12])]
}

// orientation reads the EXIF orientation from a JPEG, a TIFF block or a raw
// "Exif\0\0" block. Anything unreadable counts as upright.
func orientation(data []byte) int {
	if i := bytes.Index(data, []byte("Exif\x00\x00")); i > 0 && !bytes.HasPrefix(data, []byte{0xFF, 0xD8}) {
		data = data[i:]
	}
	x, err := exif.Decode(bytes.NewReader(data))
	if x == nil || (err != nil && exif.IsCriticalError(err)) {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	o, err := tag.Int(0)
	if err != nil || o < 1 || o > 8 {
		return 1
	}
	return o
}
