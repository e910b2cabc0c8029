// Package goffmpeg builds and runs ffmpeg and ffprobe commands.
package goffmpeg

import (
	"fmt"
	"math"
)

// Printer is something that printfs (used for debug logging)
type Printer interface {
	Printf(format string, v ...interface{})
}

// NopPrinter is discard printfer
type NopPrinter struct{}

// Printf nop
func (NopPrinter) Printf(format string, v ...interface{}) {}

// SecondsToPosition seconds to ffmpeg position format with millisecond
// precision, 83.5 -> 0:01:23.500
func SecondsToPosition(s float64) string {
	if s < 0 || math.IsNaN(s) {
		s = 0
	}
	ms := uint64(math.Round(s * 1000))
	n := ms / 1000
	sec := n % 60
	n /= 60
	m := n % 60
	n /= 60
	h := n

	return fmt.Sprintf("%d:%.2d:%.2d.%.3d", h, m, sec, ms%1000)
}
