package chromakey_test

import (
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wader/ffsprite/internal/chromakey"
	"github.com/wader/ffsprite/internal/raster"
)

var green = chromakey.RGB{R: 0, G: 255, B: 0}

func pixels(ps ...[4]byte) raster.Buffer {
	b := raster.New(len(ps), 1)
	for i, p := range ps {
		copy(b.Pix[i*4:], p[:])
	}
	return b
}

func TestParseRGB(t *testing.T) {
	testCases := []struct {
		s        string
		expected chromakey.RGB
		wantErr  bool
	}{
		{s: "#00FF00", expected: green},
		{s: "00ff00", expected: green},
		{s: "#0f0", expected: green},
		{s: " #102030 ", expected: chromakey.RGB{R: 0x10, G: 0x20, B: 0x30}},
		{s: "#12345", wantErr: true},
		{s: "#gggggg", wantErr: true},
		{s: "", wantErr: true},
	}
	for i, tC := range testCases {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			c, err := chromakey.ParseRGB(tC.s)
			if tC.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tC.expected, c)
		})
	}
}

func TestRGBString(t *testing.T) {
	assert.Equal(t, "#00ff00", green.String())
	var c chromakey.RGB
	require.NoError(t, c.UnmarshalText([]byte("#ff00aa")))
	assert.Equal(t, chromakey.RGB{R: 255, B: 0xaa}, c)
}

func TestDisabledReturnsCopy(t *testing.T) {
	in := pixels([4]byte{0, 255, 0, 255}, [4]byte{1, 2, 3, 4})
	s := chromakey.Settings{Enabled: false, Key: green, Similarity: 1}

	out := chromakey.Apply(in, s)
	assert.Equal(t, in, out)

	out.Pix[0] = 42
	assert.Equal(t, byte(0), in.Pix[0], "output must not alias input")

	again := chromakey.Apply(chromakey.Apply(in, s), s)
	assert.Equal(t, in, again)
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	in := pixels([4]byte{0, 255, 0, 255})
	chromakey.Apply(in, chromakey.Settings{Enabled: true, Key: green, Similarity: 0.5})
	assert.Equal(t, byte(255), in.Pix[3])
}

func TestGreenScreen(t *testing.T) {
	s := chromakey.Settings{Enabled: true, Key: green, Similarity: 0.25, Smoothness: 0.1}
	assert.InDelta(t, 110.5, s.Threshold(), 1e-9)

	in := pixels(
		[4]byte{0, 255, 0, 255},
		[4]byte{128, 128, 128, 255},
	)
	out := chromakey.Apply(in, s)

	assert.Equal(t, [4]byte{0, 255, 0, 0}, out.At(0, 0), "key color becomes transparent, rgb kept")
	assert.InDelta(t, math.Sqrt(128*128+127*127+128*128), green.Distance(128, 128, 128), 1e-9)
	assert.Equal(t, [4]byte{128, 128, 128, 255}, out.At(1, 0), "far pixel unchanged")
}

func TestExactKeyTransparentWhenSimilarityPositive(t *testing.T) {
	for _, sim := range []float64{0.001, 0.1, 0.5, 1} {
		out := chromakey.Apply(pixels([4]byte{0, 255, 0, 200}), chromakey.Settings{Enabled: true, Key: green, Similarity: sim})
		assert.Equal(t, byte(0), out.Pix[3], "similarity %v", sim)
	}
	out := chromakey.Apply(pixels([4]byte{0, 255, 0, 200}), chromakey.Settings{Enabled: true, Key: green, Similarity: 0})
	assert.Equal(t, byte(200), out.Pix[3], "zero similarity keys nothing")
}

func TestFarPixelKeepsAlpha(t *testing.T) {
	s := chromakey.Settings{Enabled: true, Key: green, Similarity: 0.1, Smoothness: 0.2}
	// distance from green to red is ~360, well above 44.2+20
	out := chromakey.Apply(pixels([4]byte{255, 0, 0, 77}), s)
	assert.Equal(t, [4]byte{255, 0, 0, 77}, out.At(0, 0))
}

func TestSmoothingBand(t *testing.T) {
	s := chromakey.Settings{Enabled: true, Key: chromakey.RGB{}, Similarity: 0, Smoothness: 1}
	// threshold 0, range 100, pixel at distance 50 along red
	out := chromakey.Apply(pixels([4]byte{50, 0, 0, 255}), s)
	assert.Equal(t, byte(127), out.Pix[3])
}

func TestAlphaRampMonotonic(t *testing.T) {
	threshold, smoothRange := 110.5, 30.0
	prev := uint8(0)
	for d := threshold; d < threshold+smoothRange; d += 0.25 {
		a := chromakey.Alpha(d, threshold, smoothRange, 255)
		assert.GreaterOrEqual(t, a, prev, "dist %v", d)
		prev = a
	}
	assert.Equal(t, uint8(0), chromakey.Alpha(threshold-0.01, threshold, smoothRange, 255))
	assert.Equal(t, uint8(255), chromakey.Alpha(threshold+smoothRange, threshold, smoothRange, 255))
}

func TestZeroSmoothnessIsHardCutoff(t *testing.T) {
	s := chromakey.Settings{Enabled: true, Key: chromakey.RGB{}, Similarity: 0.1, Smoothness: 0}
	// threshold 44.2
	out := chromakey.Apply(pixels([4]byte{44, 0, 0, 255}, [4]byte{45, 0, 0, 255}), s)
	assert.Equal(t, byte(0), out.Pix[3])
	assert.Equal(t, byte(255), out.Pix[7])
}

func TestSettingsClamped(t *testing.T) {
	s := chromakey.Settings{Similarity: 2, Smoothness: -1}
	assert.Equal(t, float64(chromakey.MaxDistance), s.Threshold())
	assert.Equal(t, 0.0, s.SmoothRange())
	s.Similarity = math.NaN()
	assert.Equal(t, 0.0, s.Threshold())
}

func TestSpillIgnored(t *testing.T) {
	in := pixels([4]byte{10, 200, 10, 255}, [4]byte{100, 180, 90, 255})
	a := chromakey.Apply(in, chromakey.Settings{Enabled: true, Key: green, Similarity: 0.1, Smoothness: 0.3, Spill: 0})
	b := chromakey.Apply(in, chromakey.Settings{Enabled: true, Key: green, Similarity: 0.1, Smoothness: 0.3, Spill: 1})
	assert.Equal(t, a, b)
}

func TestDeterministic(t *testing.T) {
	in := raster.New(16, 16)
	for i := range in.Pix {
		in.Pix[i] = byte(i * 7)
	}
	s := chromakey.Settings{Enabled: true, Key: chromakey.RGB{R: 30, G: 60, B: 90}, Similarity: 0.3, Smoothness: 0.5}
	assert.Equal(t, chromakey.Apply(in, s), chromakey.Apply(in, s))
}
