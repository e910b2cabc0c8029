// Package sampler captures frames from a seekable source at a fixed rate
// over a time window.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/wader/ffsprite/internal/frames"
	"github.com/wader/ffsprite/internal/raster"
)

const (
	// MaxFrames hard cap on frames captured by one Sample call
	MaxFrames = 200
	// DefaultSeekTimeout is how long a single seek may take
	DefaultSeekTimeout = 10 * time.Second

	// minProgressSpan keeps progress defined for very short windows
	minProgressSpan = 1e-3
	// epsilon absorbs float error when stepping the cursor
	epsilon = 1e-9
)

var (
	// ErrInvalidRange start, end or fps outside the valid range
	ErrInvalidRange = errors.New("invalid sample range")
	// ErrCaptureTimeout a seek did not complete in time
	ErrCaptureTimeout = errors.New("capture timeout")
)

// Source is a seekable decoded video
type Source interface {
	// Seek blocks until the frame at seconds is decoded and ready
	Seek(ctx context.Context, seconds float64) error
	// CaptureCurrentFrame returns the frame decoded by the last Seek
	CaptureCurrentFrame(ctx context.Context) (raster.Buffer, error)
	// Duration of the clip in seconds
	Duration() float64
}

// Progress is reported after each captured frame
type Progress struct {
	Captured  int
	Timestamp float64
	// Fraction of the window covered, 0 to 1
	Fraction float64
}

// Request to Sample
type Request struct {
	Start float64
	End   float64
	FPS   float64

	// MaxFrames defaults to and can not exceed the package MaxFrames
	MaxFrames int
	// SeekTimeout defaults to DefaultSeekTimeout
	SeekTimeout time.Duration
	Progress    func(p Progress)
}

// Result of Sample. Truncated is set when the frame cap was reached before
// the end of the window.
type Result struct {
	Frames    frames.List
	Truncated bool
}

// Expected number of frames for a window, ignoring the cap
func Expected(start, end, fps float64) int {
	return int(math.Floor((end-start)*fps+epsilon)) + 1
}

// Validate checks the request against the source duration
func (r Request) Validate(duration float64) error {
	switch {
	case math.IsNaN(r.Start) || math.IsNaN(r.End) || math.IsNaN(r.FPS):
		return fmt.Errorf("%w: NaN in start=%v end=%v fps=%v", ErrInvalidRange, r.Start, r.End, r.FPS)
	case r.Start < 0:
		return fmt.Errorf("%w: start %v is negative", ErrInvalidRange, r.Start)
	case r.Start >= r.End:
		return fmt.Errorf("%w: start %v must be before end %v", ErrInvalidRange, r.Start, r.End)
	case r.End > duration:
		return fmt.Errorf("%w: end %v after duration %v", ErrInvalidRange, r.End, duration)
	case r.FPS <= 0 || math.IsInf(r.FPS, 0):
		return fmt.Errorf("%w: fps %v must be positive", ErrInvalidRange, r.FPS)
	}
	return nil
}

func (r Request) maxFrames() int {
	if r.MaxFrames <= 0 || r.MaxFrames > MaxFrames {
		return MaxFrames
	}
	return r.MaxFrames
}

func (r Request) seekTimeout() time.Duration {
	if r.SeekTimeout <= 0 {
		return DefaultSeekTimeout
	}
	return r.SeekTimeout
}

// Sample seeks src from r.Start to r.End every 1/r.FPS seconds and captures a
// frame at each step. Frames captured before a timeout or cancellation are
// returned together with the error. The source is left positioned at r.Start.
func Sample(ctx context.Context, src Source, r Request) (Result, error) {
	if err := r.Validate(src.Duration()); err != nil {
		return Result{}, err
	}

	limit := r.maxFrames()
	timeout := r.seekTimeout()
	span := math.Max(r.End-r.Start, minProgressSpan)
	var res Result

	defer func() {
		// restore playback position, ignore errors as the result is already decided
		rctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = src.Seek(rctx, r.Start)
	}()

	for i := 0; ; i++ {
		cursor := r.Start + float64(i)/r.FPS
		if cursor > r.End+epsilon {
			break
		}
		if len(res.Frames) == limit {
			res.Truncated = true
			break
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ts := math.Min(cursor, r.End)

		f, err := capture(ctx, src, ts, timeout)
		if err != nil {
			return res, err
		}
		res.Frames = append(res.Frames, f)

		if r.Progress != nil {
			r.Progress(Progress{
				Captured:  len(res.Frames),
				Timestamp: ts,
				Fraction:  math.Min(math.Max((ts-r.Start)/span, 0), 1),
			})
		}
	}

	return res, nil
}

func capture(ctx context.Context, src Source, ts float64, timeout time.Duration) (frames.Frame, error) {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := src.Seek(sctx, ts); err != nil {
		return frames.Frame{}, seekErr(ctx, sctx, ts, err)
	}
	b, err := src.CaptureCurrentFrame(sctx)
	if err != nil {
		return frames.Frame{}, seekErr(ctx, sctx, ts, err)
	}
	if err := b.Validate(); err != nil {
		return frames.Frame{}, fmt.Errorf("frame at %.3fs: %w", ts, err)
	}

	// the source may reuse its buffer on next seek
	return frames.New(ts, b.Clone()), nil
}

// seekErr maps a per seek deadline to ErrCaptureTimeout, parent cancellation
// is returned as is
func seekErr(parent, seekCtx context.Context, ts float64, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(seekCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: seek to %.3fs: %v", ErrCaptureTimeout, ts, err)
	}
	return fmt.Errorf("seek to %.3fs: %w", ts, err)
}
