// Package frames has captured video frames and the ordered, editable
// collection the sheet is built from.
package frames

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/wader/ffsprite/internal/raster"
)

// ErrIndexOutOfRange frame index outside the collection
var ErrIndexOutOfRange = errors.New("frame index out of range")

// Frame is a captured video frame. Pixels must not be modified after capture.
type Frame struct {
	ID        uuid.UUID
	Timestamp float64 // seconds
	Pixels    raster.Buffer
	Selected  bool
}

// New creates a selected frame with a new id
func New(timestamp float64, pixels raster.Buffer) Frame {
	return Frame{
		ID:        uuid.New(),
		Timestamp: timestamp,
		Pixels:    pixels,
		Selected:  true,
	}
}

func (f Frame) String() string {
	return fmt.Sprintf("%s@%.3fs %s", f.ID, f.Timestamp, f.Pixels)
}

// List is an ordered collection of frames. Edits only move or flag frames,
// pixel data is shared and never touched.
type List []Frame

func (l List) check(i int) error {
	if i < 0 || i >= len(l) {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrIndexOutOfRange, i, len(l))
	}
	return nil
}

// Get frame at index
func (l List) Get(i int) (Frame, error) {
	if err := l.check(i); err != nil {
		return Frame{}, err
	}
	return l[i], nil
}

// Index of frame with id or -1
func (l List) Index(id uuid.UUID) int {
	for i, f := range l {
		if f.ID == id {
			return i
		}
	}
	return -1
}

// Selected frames in order
func (l List) Selected() List {
	var s List
	for _, f := range l {
		if f.Selected {
			s = append(s, f)
		}
	}
	return s
}

// SelectedCount number of selected frames
func (l List) SelectedCount() int {
	n := 0
	for _, f := range l {
		if f.Selected {
			n++
		}
	}
	return n
}

// Clone copies the list, frames share pixel data
func (l List) Clone() List {
	if l == nil {
		return nil
	}
	c := make(List, len(l))
	copy(c, l)
	return c
}

// Toggle flips selection of frame i
func (l List) Toggle(i int) error {
	if err := l.check(i); err != nil {
		return err
	}
	l[i].Selected = !l[i].Selected
	return nil
}

// SetSelected sets selection of frame i
func (l List) SetSelected(i int, selected bool) error {
	if err := l.check(i); err != nil {
		return err
	}
	l[i].Selected = selected
	return nil
}

// SelectAll sets selection of all frames
func (l List) SelectAll(selected bool) {
	for i := range l {
		l[i].Selected = selected
	}
}

// Move frame from index to index, frames in between shift by one
func (l List) Move(from, to int) error {
	if err := l.check(from); err != nil {
		return err
	}
	if err := l.check(to); err != nil {
		return err
	}
	f := l[from]
	if from < to {
		copy(l[from:to], l[from+1:to+1])
	} else {
		copy(l[to+1:from+1], l[to:from])
	}
	l[to] = f
	return nil
}

// Remove frame at index, returns the shorter list
func (l List) Remove(i int) (List, error) {
	if err := l.check(i); err != nil {
		return l, err
	}
	return append(l[:i:i], l[i+1:]...), nil
}

// Pick selects exactly the frames at indices, in that order, followed by
// the remaining frames unselected in their previous order.
func (l List) Pick(indices []int) (List, error) {
	used := make(map[int]bool, len(indices))
	picked := make(List, 0, len(l))
	for _, i := range indices {
		if err := l.check(i); err != nil {
			return l, err
		}
		if used[i] {
			return l, fmt.Errorf("frame %d picked twice", i)
		}
		used[i] = true
		f := l[i]
		f.Selected = true
		picked = append(picked, f)
	}
	for i, f := range l {
		if used[i] {
			continue
		}
		f.Selected = false
		picked = append(picked, f)
	}
	return picked, nil
}
