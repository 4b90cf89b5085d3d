package render

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/mandykoh/prism/displayp3"
	"github.com/mandykoh/prism/meta/autometa"
	"github.com/mandykoh/prism/meta/icc"
	"github.com/mandykoh/prism/srgb"
)

// embeddedProfile returns the description of the ICC profile embedded in a
// JPEG, PNG or WebP file, or "" when there is none.
func embeddedProfile(data []byte) string {
	md, _, err := autometa.Load(bytes.NewReader(data))
	if err != nil || md == nil {
		return ""
	}
	return describe(md.ICCProfile)
}

// describeICC returns the description of a raw ICC profile.
func describeICC(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	return describe(func() (*icc.Profile, error) {
		return icc.NewProfileReader(bytes.NewReader(raw)).ReadProfile()
	})
}

// describe treats any malformed profile as absent, including one that trips
// the parser.
func describe(read func() (*icc.Profile, error)) (desc string) {
	defer func() {
		if recover() != nil {
			desc = ""
		}
	}()
	p, err := read()
	if err != nil || p == nil {
		return ""
	}
	desc, err = p.Description()
	if err != nil {
		return ""
	}
	return desc
}

// heifICC returns the payload of the colr box of type prof.
func heifICC(data []byte) []byte {
	i := bytes.Index(data, []byte("colrprof"))
	if i < 4 {
		return nil
	}
	start := i - 4
	size := uint64(binary.BigEndian.Uint32(data[start:]))
	if size < 12 || size > uint64(len(data)-start) {
		return nil
	}
	return data[i+8 : start+int(size)]
}

// isDisplayP3 reports whether a profile description names a P3 gamut.
func isDisplayP3(desc string) bool {
	return strings.Contains(desc, "P3")
}

// convertP3 re-encodes a Display P3 image as sRGB. Out-of-gamut colors are clipped.
func convertP3(img image.Image) image.Image {
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		p3, alpha := displayp3.ColorFromNRGBA(c)
		return srgb.ColorFromXYZ(p3.ToXYZ()).ToNRGBA(alpha)
	})
}
