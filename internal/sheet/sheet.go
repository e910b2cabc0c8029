// Package sheet packs frames into a row-major grid image.
package sheet

import (
	"errors"
	"fmt"
	"image"
	"math"
	"runtime"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wader/ffsprite/internal/chromakey"
	"github.com/wader/ffsprite/internal/frames"
	"github.com/wader/ffsprite/internal/raster"
)

var (
	// ErrEmptySelection no frame is selected
	ErrEmptySelection = errors.New("no frames selected")
	// ErrInvalidLayout layout settings out of range
	ErrInvalidLayout = errors.New("invalid layout")
)

// Mode how the cell size is decided
type Mode int

const (
	// ModeScale cell is the source resolution times Layout.Scale
	ModeScale Mode = iota
	// ModeFixed cell is Layout.FixedWidth x Layout.FixedHeight
	ModeFixed
)

var modeNames = map[Mode]string{
	ModeScale: "scale",
	ModeFixed: "fixed",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("unknown (%d)", int(m))
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText parses "scale" or "fixed"
func (m *Mode) UnmarshalText(text []byte) error {
	for k, v := range modeNames {
		if v == string(text) {
			*m = k
			return nil
		}
	}
	return fmt.Errorf("unknown output mode %q", text)
}

// Resample filter used when scaling frames into cells
type Resample int

const (
	ResampleLinear Resample = iota
	ResampleNearest
)

var resampleNames = map[Resample]string{
	ResampleLinear:  "linear",
	ResampleNearest: "nearest",
}

func (r Resample) String() string {
	if s, ok := resampleNames[r]; ok {
		return s
	}
	return fmt.Sprintf("unknown (%d)", int(r))
}

func (r Resample) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// UnmarshalText parses "linear" or "nearest"
func (r *Resample) UnmarshalText(text []byte) error {
	for k, v := range resampleNames {
		if v == string(text) {
			*r = k
			return nil
		}
	}
	return fmt.Errorf("unknown resample filter %q", text)
}

func (r Resample) filter() imaging.ResampleFilter {
	if r == ResampleNearest {
		return imaging.NearestNeighbor
	}
	return imaging.Linear
}

// Layout of the sheet
type Layout struct {
	Columns     int      `yaml:"columns" env:"COLUMNS"`
	Padding     int      `yaml:"padding" env:"PADDING"`
	Mode        Mode     `yaml:"mode" env:"MODE"`
	Scale       float64  `yaml:"scale" env:"SCALE"`
	FixedWidth  int      `yaml:"fixed_width" env:"FIXED_WIDTH"`
	FixedHeight int      `yaml:"fixed_height" env:"FIXED_HEIGHT"`
	Resample    Resample `yaml:"resample" env:"RESAMPLE"`
}

// DefaultLayout 5 columns, half size
func DefaultLayout() Layout {
	return Layout{
		Columns:     5,
		Padding:     0,
		Mode:        ModeScale,
		Scale:       0.5,
		FixedWidth:  128,
		FixedHeight: 128,
		Resample:    ResampleLinear,
	}
}

// Validate layout
func (l Layout) Validate() error {
	if l.Columns < 1 {
		return fmt.Errorf("%w: columns %d must be at least 1", ErrInvalidLayout, l.Columns)
	}
	if l.Padding < 0 {
		return fmt.Errorf("%w: padding %d is negative", ErrInvalidLayout, l.Padding)
	}
	switch l.Mode {
	case ModeFixed:
		if l.FixedWidth <= 0 || l.FixedHeight <= 0 {
			return fmt.Errorf("%w: fixed size %dx%d must be positive", ErrInvalidLayout, l.FixedWidth, l.FixedHeight)
		}
	case ModeScale:
		if !(l.Scale > 0 && l.Scale <= 1) {
			return fmt.Errorf("%w: scale %v not in (0,1]", ErrInvalidLayout, l.Scale)
		}
	default:
		return fmt.Errorf("%w: output mode %s", ErrInvalidLayout, l.Mode)
	}
	if _, ok := resampleNames[l.Resample]; !ok {
		return fmt.Errorf("%w: resample %s", ErrInvalidLayout, l.Resample)
	}
	return nil
}

// CellSize for frames of the given reference size
func (l Layout) CellSize(refWidth, refHeight int) (int, int) {
	if l.Mode == ModeFixed {
		return l.FixedWidth, l.FixedHeight
	}
	w := int(math.Round(float64(refWidth) * l.Scale))
	h := int(math.Round(float64(refHeight) * l.Scale))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// Grid geometry for n cells
type Grid struct {
	Columns    int
	Rows       int
	CellWidth  int
	CellHeight int
	Padding    int
}

// NewGrid for n cells of cellW x cellH
func NewGrid(n, columns, cellW, cellH, padding int) Grid {
	return Grid{
		Columns:    columns,
		Rows:       (n + columns - 1) / columns,
		CellWidth:  cellW,
		CellHeight: cellH,
		Padding:    padding,
	}
}

// Width of the whole sheet
func (g Grid) Width() int {
	return g.Columns*g.CellWidth + (g.Columns-1)*g.Padding
}

// Height of the whole sheet
func (g Grid) Height() int {
	if g.Rows == 0 {
		return 0
	}
	return g.Rows*g.CellHeight + (g.Rows-1)*g.Padding
}

// Origin top left corner of cell i, row-major
func (g Grid) Origin(i int) image.Point {
	col, row := i%g.Columns, i/g.Columns
	return image.Point{
		X: col * (g.CellWidth + g.Padding),
		Y: row * (g.CellHeight + g.Padding),
	}
}

// Cell placement of a frame
type Cell struct {
	FrameID   uuid.UUID
	Timestamp float64
	Column    int
	Row       int
	Origin    image.Point
}

// Sheet is a packed sprite sheet
type Sheet struct {
	Width  int
	Height int
	Pixels raster.Buffer

	Columns    int
	Rows       int
	CellWidth  int
	CellHeight int
	Cells      []Cell
	// Mismatched frames did not have the same resolution as the first selected
	// frame and were stretched to the cell size
	Mismatched []uuid.UUID
}

// Image view of the sheet pixels
func (s *Sheet) Image() *image.NRGBA {
	return s.Pixels.NRGBA()
}

// Pack keys, scales and places the selected frames in order into a new sheet.
// Frames are only read.
func Pack(list frames.List, chroma chromakey.Settings, layout Layout) (*Sheet, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	selected := list.Selected()
	if len(selected) == 0 {
		return nil, ErrEmptySelection
	}
	for _, f := range selected {
		if err := f.Pixels.Validate(); err != nil {
			return nil, fmt.Errorf("frame %s: %w", f.ID, err)
		}
	}

	ref := selected[0].Pixels
	cellW, cellH := layout.CellSize(ref.Width, ref.Height)
	grid := NewGrid(len(selected), layout.Columns, cellW, cellH, layout.Padding)

	s := &Sheet{
		Width:      grid.Width(),
		Height:     grid.Height(),
		Pixels:     raster.New(grid.Width(), grid.Height()),
		Columns:    grid.Columns,
		Rows:       grid.Rows,
		CellWidth:  cellW,
		CellHeight: cellH,
		Cells:      make([]Cell, len(selected)),
	}
	dst := s.Pixels.NRGBA()
	filter := layout.Resample.filter()

	for i, f := range selected {
		if f.Pixels.Width != ref.Width || f.Pixels.Height != ref.Height {
			s.Mismatched = append(s.Mismatched, f.ID)
		}
		o := grid.Origin(i)
		s.Cells[i] = Cell{
			FrameID:   f.ID,
			Timestamp: f.Timestamp,
			Column:    i % grid.Columns,
			Row:       i / grid.Columns,
			Origin:    o,
		}
	}

	// each frame writes only to its own cell so no locking is needed
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, f := range selected {
		i, f := i, f
		g.Go(func() error {
			cell := renderCell(f.Pixels, chroma, cellW, cellH, filter)
			if err := blit(dst, cell, s.Cells[i].Origin); err != nil {
				return fmt.Errorf("frame %s: %w", f.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return s, nil
}

// renderCell keys at native resolution then scales to the cell size
func renderCell(b raster.Buffer, chroma chromakey.Settings, w, h int, filter imaging.ResampleFilter) *image.NRGBA {
	keyed := chromakey.Apply(b, chroma).NRGBA()
	if keyed.Rect.Dx() == w && keyed.Rect.Dy() == h {
		return keyed
	}
	return imaging.Resize(keyed, w, h, filter)
}

// blit copies src rows into dst at origin
func blit(dst, src *image.NRGBA, origin image.Point) error {
	r := src.Bounds()
	if target := r.Sub(r.Min).Add(origin); !target.In(dst.Bounds()) {
		return fmt.Errorf("cell %v outside sheet %v", target, dst.Bounds())
	}
	rowLen := r.Dx() * raster.BytesPerPixel
	for y := 0; y < r.Dy(); y++ {
		srcOff := src.PixOffset(r.Min.X, r.Min.Y+y)
		dstOff := dst.PixOffset(origin.X, origin.Y+y)
		copy(dst.Pix[dstOff:dstOff+rowLen], src.Pix[srcOff:srcOff+rowLen])
	}
	return nil
}
