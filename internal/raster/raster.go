// Package raster has the RGBA pixel buffer passed between frame sources,
// the chroma keyer and the sheet packer.
package raster

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// BytesPerPixel R, G, B, A
const BytesPerPixel = 4

// ErrInvalidBuffer buffer length does not match its dimensions
var ErrInvalidBuffer = errors.New("invalid pixel buffer")

// Buffer is a row-major, non-premultiplied RGBA pixel buffer.
// len(Pix) is always Width*Height*4.
type Buffer struct {
	Width  int
	Height int
	Pix    []byte
}

// New allocates a zeroed (fully transparent) buffer
func New(width, height int) Buffer {
	return Buffer{Width: width, Height: height, Pix: make([]byte, width*height*BytesPerPixel)}
}

// Validate checks dimensions against the pixel slice length
func (b Buffer) Validate() error {
	if b.Width <= 0 || b.Height <= 0 {
		return fmt.Errorf("%w: dimensions %dx%d", ErrInvalidBuffer, b.Width, b.Height)
	}
	if expected := b.Width * b.Height * BytesPerPixel; len(b.Pix) != expected {
		return fmt.Errorf("%w: %dx%d needs %d bytes, got %d", ErrInvalidBuffer, b.Width, b.Height, expected, len(b.Pix))
	}
	return nil
}

// Clone deep copies the buffer
func (b Buffer) Clone() Buffer {
	pix := make([]byte, len(b.Pix))
	copy(pix, b.Pix)
	return Buffer{Width: b.Width, Height: b.Height, Pix: pix}
}

// Size as a image.Point
func (b Buffer) Size() image.Point {
	return image.Point{X: b.Width, Y: b.Height}
}

func (b Buffer) String() string {
	return fmt.Sprintf("%dx%d", b.Width, b.Height)
}

// NRGBA wraps the pixels as a image without copying. Callers must treat
// the result as read-only if the buffer is shared.
func (b Buffer) NRGBA() *image.NRGBA {
	return &image.NRGBA{
		Pix:    b.Pix,
		Stride: b.Width * BytesPerPixel,
		Rect:   image.Rect(0, 0, b.Width, b.Height),
	}
}

// FromNRGBA copies a NRGBA image into a new buffer, dropping any stride padding
// and origin offset
func FromNRGBA(m *image.NRGBA) Buffer {
	r := m.Bounds()
	b := New(r.Dx(), r.Dy())
	rowLen := r.Dx() * BytesPerPixel
	for y := 0; y < r.Dy(); y++ {
		srcOff := m.PixOffset(r.Min.X, r.Min.Y+y)
		copy(b.Pix[y*rowLen:(y+1)*rowLen], m.Pix[srcOff:srcOff+rowLen])
	}
	return b
}

// FromImage converts any image to a buffer
func FromImage(m image.Image) Buffer {
	if n, ok := m.(*image.NRGBA); ok {
		return FromNRGBA(n)
	}
	// imaging.Clone normalizes to NRGBA with a zero origin
	return FromNRGBA(imaging.Clone(m))
}

// At returns the RGBA bytes of the pixel at x, y
func (b Buffer) At(x, y int) [4]byte {
	i := (y*b.Width + x) * BytesPerPixel
	return [4]byte{b.Pix[i], b.Pix[i+1], b.Pix[i+2], b.Pix[i+3]}
}

// Fill sets every pixel to the given RGBA value
func (b Buffer) Fill(c [4]byte) {
	for i := 0; i < len(b.Pix); i += BytesPerPixel {
		copy(b.Pix[i:i+BytesPerPixel], c[:])
	}
}
