package sampler_test

import (
	"context"
	"errors"
	"math"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wader/ffsprite/internal/raster"
	"github.com/wader/ffsprite/internal/sampler"
)

// fakeSource renders the seek position into the red channel
type fakeSource struct {
	mu       sync.Mutex
	duration float64
	seeks    []float64
	current  float64
	// seeks at or after hangAt block until the context is done
	hangAt float64
	buf    raster.Buffer
}

func newFakeSource(duration float64) *fakeSource {
	return &fakeSource{duration: duration, hangAt: math.Inf(1), buf: raster.New(2, 2)}
}

func (s *fakeSource) Seek(ctx context.Context, t float64) error {
	s.mu.Lock()
	s.seeks = append(s.seeks, t)
	hang := t >= s.hangAt
	s.mu.Unlock()
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	s.mu.Lock()
	s.current = t
	s.mu.Unlock()
	return nil
}

func (s *fakeSource) CaptureCurrentFrame(ctx context.Context) (raster.Buffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// same backing buffer every time, like a decoder reusing its output
	s.buf.Fill([4]byte{uint8(s.current * 10), 0, 0, 255})
	return s.buf, nil
}

func (s *fakeSource) Duration() float64 { return s.duration }

func (s *fakeSource) lastSeek() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seeks[len(s.seeks)-1]
}

func TestFrameCount(t *testing.T) {
	testCases := []struct {
		start, end, fps float64
		expected        int
	}{
		{start: 0, end: 1, fps: 10, expected: 11},
		{start: 0, end: 0.3, fps: 10, expected: 4},
		{start: 0.1, end: 0.4, fps: 10, expected: 4},
		{start: 1, end: 2.5, fps: 2, expected: 4},
		{start: 0, end: 1, fps: 3, expected: 4},
		{start: 0, end: 0.0001, fps: 1, expected: 1},
		{start: 2, end: 9.9, fps: 12, expected: 95},
		{start: 0, end: 10, fps: 30, expected: 200},
		{start: 0, end: 1.7, fps: 7.5, expected: 13},
	}
	for i, tC := range testCases {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			src := newFakeSource(20)
			res, err := sampler.Sample(context.Background(), src, sampler.Request{Start: tC.start, End: tC.end, FPS: tC.fps})
			require.NoError(t, err)
			assert.Len(t, res.Frames, tC.expected)

			expected := sampler.Expected(tC.start, tC.end, tC.fps)
			if expected > sampler.MaxFrames {
				expected = sampler.MaxFrames
			}
			assert.Equal(t, expected, len(res.Frames))
			assert.Equal(t, sampler.Expected(tC.start, tC.end, tC.fps) > sampler.MaxFrames, res.Truncated)

			for j, f := range res.Frames {
				assert.True(t, f.Selected)
				assert.GreaterOrEqual(t, f.Timestamp, tC.start)
				assert.LessOrEqual(t, f.Timestamp, tC.end)
				if j > 0 {
					assert.Greater(t, f.Timestamp, res.Frames[j-1].Timestamp)
					assert.NotEqual(t, f.ID, res.Frames[j-1].ID)
				}
			}
		})
	}
}

func TestFramesAreMaterialized(t *testing.T) {
	src := newFakeSource(5)
	res, err := sampler.Sample(context.Background(), src, sampler.Request{Start: 0, End: 2, FPS: 1})
	require.NoError(t, err)
	require.Len(t, res.Frames, 3)

	assert.Equal(t, byte(0), res.Frames[0].Pixels.Pix[0])
	assert.Equal(t, byte(10), res.Frames[1].Pixels.Pix[0])
	assert.Equal(t, byte(20), res.Frames[2].Pixels.Pix[0])
}

func TestRestoresPositionToStart(t *testing.T) {
	src := newFakeSource(5)
	_, err := sampler.Sample(context.Background(), src, sampler.Request{Start: 1.5, End: 3, FPS: 4})
	require.NoError(t, err)
	assert.Equal(t, 1.5, src.lastSeek())
}

func TestTruncatedAtCustomCap(t *testing.T) {
	src := newFakeSource(5)
	res, err := sampler.Sample(context.Background(), src, sampler.Request{Start: 0, End: 5, FPS: 10, MaxFrames: 7})
	require.NoError(t, err)
	assert.Len(t, res.Frames, 7)
	assert.True(t, res.Truncated)

	res, err = sampler.Sample(context.Background(), src, sampler.Request{Start: 0, End: 0.6, FPS: 10, MaxFrames: 7})
	require.NoError(t, err)
	assert.Len(t, res.Frames, 7)
	assert.False(t, res.Truncated, "exactly at the cap is not truncated")
}

func TestInvalidRange(t *testing.T) {
	testCases := []sampler.Request{
		{Start: -1, End: 1, FPS: 1},
		{Start: 1, End: 1, FPS: 1},
		{Start: 2, End: 1, FPS: 1},
		{Start: 0, End: 11, FPS: 1},
		{Start: 0, End: 1, FPS: 0},
		{Start: 0, End: 1, FPS: -3},
		{Start: 0, End: math.NaN(), FPS: 1},
	}
	for i, r := range testCases {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			src := newFakeSource(10)
			_, err := sampler.Sample(context.Background(), src, r)
			assert.ErrorIs(t, err, sampler.ErrInvalidRange)
			assert.Empty(t, src.seeks, "no seek before validation")
		})
	}
}

func TestProgress(t *testing.T) {
	src := newFakeSource(5)
	var ps []sampler.Progress
	_, err := sampler.Sample(context.Background(), src, sampler.Request{
		Start: 1, End: 2, FPS: 4,
		Progress: func(p sampler.Progress) { ps = append(ps, p) },
	})
	require.NoError(t, err)
	require.Len(t, ps, 5)
	for i, p := range ps {
		assert.Equal(t, i+1, p.Captured)
		if i > 0 {
			assert.GreaterOrEqual(t, p.Fraction, ps[i-1].Fraction)
		}
	}
	assert.Equal(t, 0.0, ps[0].Fraction)
	assert.InDelta(t, 1.0, ps[4].Fraction, 1e-9)
}

func TestProgressDegenerateWindow(t *testing.T) {
	src := newFakeSource(5)
	var ps []sampler.Progress
	_, err := sampler.Sample(context.Background(), src, sampler.Request{
		Start: 1, End: 1 + 1e-6, FPS: 1,
		Progress: func(p sampler.Progress) { ps = append(ps, p) },
	})
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.False(t, math.IsNaN(ps[0].Fraction))
}

func TestCaptureTimeoutKeepsFrames(t *testing.T) {
	src := newFakeSource(5)
	src.hangAt = 1

	res, err := sampler.Sample(context.Background(), src, sampler.Request{
		Start: 0, End: 2, FPS: 4, SeekTimeout: 20 * time.Millisecond,
	})
	assert.ErrorIs(t, err, sampler.ErrCaptureTimeout)
	assert.Len(t, res.Frames, 4)
}

func TestCancelBetweenSteps(t *testing.T) {
	src := newFakeSource(5)
	ctx, cancel := context.WithCancel(context.Background())

	res, err := sampler.Sample(ctx, src, sampler.Request{
		Start: 0, End: 2, FPS: 4,
		Progress: func(p sampler.Progress) {
			if p.Captured == 2 {
				cancel()
			}
		},
	})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Len(t, res.Frames, 2)
	assert.Equal(t, 0.0, src.lastSeek())
}
