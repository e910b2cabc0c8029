// Package pipeline ties sampling, preview and packing together around an
// ordered frame collection.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wader/ffsprite/internal/chromakey"
	"github.com/wader/ffsprite/internal/frames"
	"github.com/wader/ffsprite/internal/metrics"
	"github.com/wader/ffsprite/internal/raster"
	"github.com/wader/ffsprite/internal/sampler"
	"github.com/wader/ffsprite/internal/sheet"
)

const tracerName = "github.com/wader/ffsprite/internal/pipeline"

// Options for New, zero values use defaults
type Options struct {
	Logger      *zap.Logger
	MaxFrames   int
	SeekTimeout time.Duration
}

// Session owns a frame collection. All methods are serialized so nothing
// mutates the collection while an extraction or generation is running.
type Session struct {
	mu     sync.Mutex
	opts   Options
	log    *zap.Logger
	tracer trace.Tracer
	frames frames.List
}

func New(opts Options) *Session {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		opts:   opts,
		log:    log,
		tracer: otel.Tracer(tracerName),
	}
}

// Extract samples src and replaces the collection with the result.
//
// On capture timeout the frames captured before the timeout replace the
// collection and the error is returned. On any other error, including
// cancellation, the previous collection is kept.
func (s *Session) Extract(ctx context.Context, src sampler.Source, start, end, fps float64, progress func(sampler.Progress)) (sampler.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "Session.Extract")
	defer span.End()
	span.SetAttributes(
		attribute.Float64("start", start),
		attribute.Float64("end", end),
		attribute.Float64("fps", fps),
	)

	log := s.log.With(zap.Float64("start", start), zap.Float64("end", end), zap.Float64("fps", fps))
	log.Debug("extract", zap.Int("expected", sampler.Expected(start, end, fps)))

	t := time.Now()
	res, err := sampler.Sample(ctx, src, sampler.Request{
		Start:       start,
		End:         end,
		FPS:         fps,
		MaxFrames:   s.opts.MaxFrames,
		SeekTimeout: s.opts.SeekTimeout,
		Progress:    progress,
	})
	metrics.StageDuration.WithLabelValues("extract").Observe(time.Since(t).Seconds())
	metrics.FramesSampledTotal.Add(float64(len(res.Frames)))
	span.SetAttributes(attribute.Int("frames", len(res.Frames)))

	switch {
	case err == nil:
	case errors.Is(err, sampler.ErrCaptureTimeout):
		s.frames = res.Frames
		log.Warn("capture timed out, keeping captured frames", zap.Int("frames", len(res.Frames)), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "capture timeout")
		return res, err
	default:
		log.Info("extract failed, keeping previous frames", zap.Int("frames", len(s.frames)), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}

	s.frames = res.Frames
	if res.Truncated {
		metrics.ExtractionsTruncatedTotal.Inc()
		span.SetAttributes(attribute.Bool("truncated", true))
		log.Warn("frame cap reached, extraction truncated", zap.Int("frames", len(res.Frames)))
	}
	log.Info("extracted", zap.Int("frames", len(res.Frames)), zap.Duration("took", time.Since(t)))

	return res, nil
}

// Frames snapshot of the collection in order. Pixel buffers are shared and
// must not be modified.
func (s *Session) Frames() []frames.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames.Clone()
}

func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// PreviewFrame returns frame index chroma keyed with chroma, stored frames are
// not modified
func (s *Session) PreviewFrame(index int, chroma chromakey.Settings) (raster.Buffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.frames.Get(index)
	if err != nil {
		return raster.Buffer{}, err
	}
	return chromakey.Apply(f.Pixels, chroma), nil
}

// Generate packs the selected frames into a sheet
func (s *Session) Generate(ctx context.Context, layout sheet.Layout, chroma chromakey.Settings) (*sheet.Sheet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, span := s.tracer.Start(ctx, "Session.Generate")
	defer span.End()
	span.SetAttributes(
		attribute.Int("frames", len(s.frames)),
		attribute.Int("selected", s.frames.SelectedCount()),
		attribute.Int("columns", layout.Columns),
		attribute.String("mode", layout.Mode.String()),
		attribute.Bool("chroma", chroma.Enabled),
	)

	t := time.Now()
	sh, err := sheet.Pack(s.frames, chroma, layout)
	metrics.StageDuration.WithLabelValues("pack").Observe(time.Since(t).Seconds())
	if err != nil {
		metrics.SheetsGeneratedTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Info("generate failed", zap.Error(err))
		return nil, err
	}
	metrics.SheetsGeneratedTotal.WithLabelValues("ok").Inc()

	for _, id := range sh.Mismatched {
		s.log.Warn("frame resolution differs from first selected frame, stretched",
			zap.Stringer("frame", id),
			zap.Int("index", s.frames.Index(id)),
		)
	}
	span.SetAttributes(attribute.Int("width", sh.Width), attribute.Int("height", sh.Height))
	s.log.Info("generated",
		zap.Int("cells", len(sh.Cells)),
		zap.Int("width", sh.Width),
		zap.Int("height", sh.Height),
		zap.Duration("took", time.Since(t)),
	)

	return sh, nil
}

func (s *Session) ToggleSelection(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames.Toggle(index)
}

func (s *Session) SetSelected(index int, selected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames.SetSelected(index, selected)
}

func (s *Session) SelectAll(selected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames.SelectAll(selected)
}

// MoveFrame moves the frame at from so it ends up at to
func (s *Session) MoveFrame(from, to int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames.Move(from, to)
}

func (s *Session) RemoveFrame(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.frames.Remove(index)
	if err != nil {
		return err
	}
	s.frames = l
	return nil
}

// Pick keeps exactly indices selected, in that order, followed by the rest
// unselected
func (s *Session) Pick(indices []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.frames.Pick(indices)
	if err != nil {
		return err
	}
	s.frames = l
	s.log.Debug("picked", zap.Ints("indices", indices))
	return nil
}
