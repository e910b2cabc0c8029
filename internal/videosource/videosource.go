// Package videosource is a seekable frame source backed by ffmpeg. Each seek
// decodes one RGBA frame by running ffmpeg with the position as input seek.
package videosource

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/wader/ffsprite/internal/goffmpeg"
	"github.com/wader/ffsprite/internal/raster"
)

var (
	// ErrNoVideoStream input has no video stream
	ErrNoVideoStream = errors.New("no video stream")
	// ErrUnknownDuration input duration could not be probed
	ErrUnknownDuration = errors.New("unknown duration")
	// ErrNoFrame nothing has been decoded yet
	ErrNoFrame = errors.New("no frame decoded")
	// ErrFrameSize decoded output does not match the probed frame size
	ErrFrameSize = errors.New("decoded frame size mismatch")
)

// tailWindow is how far back to decode when a seek lands after the last frame
const tailWindow = 1.0

type Options struct {
	FFmpegPath  string
	FFprobePath string
	Logger      *zap.Logger
}

// Source decodes frames from a media file
type Source struct {
	path      string
	opts      Options
	log       *zap.Logger
	debugLog  goffmpeg.Printer
	duration  float64
	width     int
	height    int
	frameRate float64

	mu       sync.Mutex
	current  raster.Buffer
	position float64
	decoded  bool
}

// Open probes path for duration and display size
func Open(ctx context.Context, path string, opts Options) (*Source, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("path", path))

	var debugLog goffmpeg.Printer = goffmpeg.NopPrinter{}
	if l, err := zap.NewStdLogAt(log.Named("ffmpeg"), zap.DebugLevel); err == nil {
		debugLog = l
	}

	probe := &goffmpeg.FFProbeCmd{
		Context:  ctx,
		Path:     opts.FFprobePath,
		Input:    goffmpeg.Input{File: path},
		DebugLog: debugLog,
	}
	pr, err := probe.Result()
	if err != nil {
		return nil, fmt.Errorf("probe: %w", err)
	}
	vs, ok := pr.FirstVideoStream()
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrNoVideoStream)
	}
	duration := pr.Duration()
	if duration <= 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrUnknownDuration)
	}

	s := &Source{
		path:      path,
		opts:      opts,
		log:       log,
		debugLog:  debugLog,
		duration:  duration,
		width:     int(vs.DisplayWidth()),
		height:    int(vs.DisplayHeight()),
		frameRate: vs.FrameRate(),
	}
	log.Debug("opened",
		zap.Stringer("probe", pr),
		zap.Float64("duration", s.duration),
		zap.Int("width", s.width),
		zap.Int("height", s.height),
		zap.Int("rotation", vs.Rotation()),
		zap.Float64("frame_rate", s.frameRate),
	)

	return s, nil
}

// Duration in seconds
func (s *Source) Duration() float64 { return s.duration }

// Width display width, rotation applied
func (s *Source) Width() int { return s.width }

// Height display height, rotation applied
func (s *Source) Height() int { return s.height }

// FrameRate average frame rate, 0 if unknown
func (s *Source) FrameRate() float64 { return s.frameRate }

func (s *Source) frameSize() int {
	return s.width * s.height * raster.BytesPerPixel
}

// Seek decodes the frame shown at seconds. The ffmpeg process is bound to ctx.
func (s *Source) Seek(ctx context.Context, seconds float64) error {
	if seconds < 0 || math.IsNaN(seconds) {
		return fmt.Errorf("seek to %v: negative position", seconds)
	}

	pix, err := s.decode(ctx, seconds, 0)
	tail := false
	if err == nil && len(pix) == 0 {
		// past the last frame, take the last one in the tail window
		start := math.Max(seconds-tailWindow, 0)
		s.log.Debug("no frame at position, decoding tail", zap.Float64("seconds", seconds), zap.Float64("from", start))
		pix, err = s.decode(ctx, start, seconds-start)
		tail = true
	}
	if err != nil {
		return err
	}
	pix, err = lastFrame(pix, s.frameSize(), tail)
	if err != nil {
		return fmt.Errorf("seek to %.3fs: %w", seconds, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = raster.Buffer{Width: s.width, Height: s.height, Pix: pix}
	s.position = seconds
	s.decoded = true

	return nil
}

// decode runs ffmpeg from seconds. duration 0 decodes one frame, otherwise all
// frames up to duration.
func (s *Source) decode(ctx context.Context, seconds float64, duration float64) ([]byte, error) {
	out := &bytes.Buffer{}
	input := &goffmpeg.Input{File: s.path, Seek: seconds}
	output := &goffmpeg.Output{
		Maps:        []*goffmpeg.Map{{Input: input, Specifier: "v:0"}},
		Format:      "rawvideo",
		PixelFormat: "rgba",
		File:        out,
	}
	if duration > 0 {
		output.Flags = []string{"-t", goffmpeg.SecondsToPosition(duration)}
	} else {
		output.VideoFrames = 1
	}

	c := &goffmpeg.FFmpegCmd{
		Context:  ctx,
		Path:     s.opts.FFmpegPath,
		Flags:    []string{"-v", "error"},
		Inputs:   []*goffmpeg.Input{input},
		Outputs:  []*goffmpeg.Output{output},
		DebugLog: s.debugLog,
		StderrLineFn: func(line string) {
			s.log.Debug("ffmpeg stderr", zap.String("line", strings.TrimSpace(line)))
		},
	}
	if err := c.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("seek to %.3fs: %w", seconds, ctx.Err())
		}
		return nil, fmt.Errorf("seek to %.3fs: %w", seconds, err)
	}

	return out.Bytes(), nil
}

// lastFrame returns the last frame of rawvideo output. A single frame decode
// must give exactly one frame, a tail decode any whole number of frames.
func lastFrame(pix []byte, frameSize int, multiple bool) ([]byte, error) {
	n := len(pix)
	switch {
	case frameSize <= 0:
		return nil, fmt.Errorf("%w: frame size %d", ErrFrameSize, frameSize)
	case n == 0:
		return nil, ErrNoFrame
	case n%frameSize != 0, !multiple && n != frameSize:
		return nil, fmt.Errorf("%w: got %d bytes, frame is %d", ErrFrameSize, n, frameSize)
	}
	return pix[n-frameSize:], nil
}

// CaptureCurrentFrame returns the frame decoded by the last Seek. The buffer is
// replaced, not modified, by later seeks.
func (s *Source) CaptureCurrentFrame(ctx context.Context) (raster.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return raster.Buffer{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.decoded {
		return raster.Buffer{}, ErrNoFrame
	}
	return s.current, nil
}

// Position of the last successful seek
func (s *Source) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}
