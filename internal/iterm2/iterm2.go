// Package iterm2 writes inline images using the iTerm2 proprietary escape codes.
package iterm2

import (
	"encoding/base64"
	"errors"
	"image"
	"image/png"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

var errCellSizeResponse = errors.New("invalid cell size response")

// Terminal is an iTerm2 compatible terminal on f
type Terminal struct {
	f *os.File
}

func New(f *os.File) *Terminal {
	return &Terminal{f: f}
}

// IsCompatible f is a terminal and the environment says iTerm2
func (t *Terminal) IsCompatible() bool {
	return term.IsTerminal(int(t.f.Fd())) && os.Getenv("TERM_PROGRAM") == "iTerm.app"
}

// Image writes m as an inline PNG followed by a newline
func (t *Terminal) Image(m image.Image) error {
	if err := writeImage(t.f, m); err != nil {
		return err
	}
	_, err := t.f.Write([]byte("\n"))
	return err
}

func writeImage(w io.Writer, m image.Image) error {
	if _, err := w.Write([]byte("\x1b]1337;File=inline=1;preserveAspectRatio=1:")); err != nil {
		return err
	}
	enc := base64.NewEncoder(base64.StdEncoding, w)
	if err := png.Encode(enc, m); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if _, err := w.Write([]byte("\x07")); err != nil {
		return err
	}
	return nil
}

type CellSize struct {
	Width  float64
	Height float64
	Scale  float64
}

// ReportCellSize asks the terminal for its cell size in points
func (t *Terminal) ReportCellSize() (sz CellSize, err error) {
	fd := int(t.f.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		return CellSize{}, err
	}
	defer func() {
		if rerr := term.Restore(fd, state); err == nil {
			err = rerr
		}
	}()

	if _, err := t.f.Write([]byte("\x1b]1337;ReportCellSize\x07")); err != nil {
		return CellSize{}, err
	}

	b := make([]byte, 64)
	n, err := t.f.Read(b)
	if err != nil {
		return CellSize{}, err
	}

	return parseCellSize(string(b[:n]))
}

// note order is height;width[;scale]
// "\x1b]1337;ReportCellSize=14.0;6.0;1.0\x1b\\"
func parseCellSize(s string) (CellSize, error) {
	const prefix = "ReportCellSize="
	start := strings.Index(s, prefix)
	stop := strings.Index(s, "\x1b\\")
	if start < 0 || stop < start {
		return CellSize{}, errCellSizeResponse
	}

	parts := strings.Split(s[start+len(prefix):stop], ";")
	if len(parts) < 2 {
		return CellSize{}, errCellSizeResponse
	}
	sz := CellSize{Scale: 1}
	var err error
	if sz.Height, err = strconv.ParseFloat(parts[0], 64); err != nil {
		return CellSize{}, errCellSizeResponse
	}
	if sz.Width, err = strconv.ParseFloat(parts[1], 64); err != nil {
		return CellSize{}, errCellSizeResponse
	}
	if len(parts) > 2 {
		if sz.Scale, err = strconv.ParseFloat(parts[2], 64); err != nil {
			return CellSize{}, errCellSizeResponse
		}
	}

	return sz, nil
}

type Resolution struct {
	Width       int
	Height      int
	WidthAlign  int
	HeightAlign int
}

// PixelResolution of the terminal window
func (t *Terminal) PixelResolution() (Resolution, error) {
	w, h, err := term.GetSize(int(t.f.Fd()))
	if err != nil {
		return Resolution{}, err
	}
	sz, err := t.ReportCellSize()
	if err != nil {
		return Resolution{}, err
	}

	return resolution(w, h, sz), nil
}

func resolution(cols, rows int, sz CellSize) Resolution {
	return Resolution{
		Width:       cols * int(sz.Width*sz.Scale),
		Height:      rows * int(sz.Height*sz.Scale),
		WidthAlign:  int(sz.Width * sz.Scale),
		HeightAlign: int(sz.Height * sz.Scale),
	}
}
