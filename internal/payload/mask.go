package payload

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// maskThreshold is the 16-bit luminance at or above which a mask pixel is editable.
const maskThreshold = 0x8000

// NormalizeMask binarizes mask (bright = editable, dark or transparent =
// preserved) and scales it to the dimensions of source. The result is PNG.
func NormalizeMask(mask, source []byte) ([]byte, error) {
	srcCfg, _, err := image.DecodeConfig(bytes.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("decode source config: %w", err)
	}
	if srcCfg.Width <= 0 || srcCfg.Height <= 0 {
		return nil, fmt.Errorf("source has no dimensions")
	}

	m, _, err := image.Decode(bytes.NewReader(mask))
	if err != nil {
		return nil, fmt.Errorf("decode mask: %w", err)
	}

	bin := Binarize(m)

	var out image.Image = bin
	if bin.Bounds().Dx() != srcCfg.Width || bin.Bounds().Dy() != srcCfg.Height {
		scaled := image.NewGray(image.Rect(0, 0, srcCfg.Width, srcCfg.Height))
		draw.NearestNeighbor.Scale(scaled, scaled.Bounds(), bin, bin.Bounds(), draw.Src, nil)
		out = scaled
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("encode mask: %w", err)
	}
	return buf.Bytes(), nil
}

// Binarize maps every pixel to pure white or pure black. Alpha is
// premultiplied, so transparent pixels come out black.
func Binarize(m image.Image) *image.Gray {
	b := m.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := m.At(x, y).RGBA()
			lum := (299*r + 587*g + 114*bl) / 1000
			v := color.Gray{Y: 0}
			if lum >= maskThreshold {
				v.Y = 0xff
			}
			out.SetGray(x-b.Min.X, y-b.Min.Y, v)
		}
	}
	return out
}
