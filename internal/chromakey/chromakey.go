// Package chromakey removes a solid background color by turning pixels close
// to a key color transparent, with a linear alpha ramp across a smoothing band.
package chromakey

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/wader/ffsprite/internal/raster"
)

// MaxDistance is roughly the largest euclidean distance between two 8 bit RGB
// colors, sqrt(255²*3)
const MaxDistance = 442

// SmoothingScale converts smoothness in [0,1] into a distance range
const SmoothingScale = 100

// RGB key color
type RGB struct {
	R, G, B uint8
}

func (c RGB) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// ParseRGB parses "#rrggbb", "rrggbb", "#rgb" or "rgb"
func ParseRGB(s string) (RGB, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return RGB{}, fmt.Errorf("invalid color %q: expected #rrggbb or #rgb", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return RGB{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

// UnmarshalText lets RGB be used in config files and flags
func (c *RGB) UnmarshalText(text []byte) error {
	v, err := ParseRGB(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// MarshalText formats as #rrggbb
func (c RGB) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Settings for Apply. Similarity, Smoothness and Spill are in [0,1], values
// outside are clamped.
type Settings struct {
	Enabled    bool    `yaml:"enabled" env:"ENABLED"`
	Key        RGB     `yaml:"key" env:"KEY"`
	Similarity float64 `yaml:"similarity" env:"SIMILARITY"`
	Smoothness float64 `yaml:"smoothness" env:"SMOOTHNESS"`
	// Spill is reserved, it does not change the output
	Spill float64 `yaml:"spill" env:"SPILL"`
}

// DefaultSettings green screen
func DefaultSettings() Settings {
	return Settings{
		Enabled:    false,
		Key:        RGB{R: 0, G: 255, B: 0},
		Similarity: 0.4,
		Smoothness: 0.1,
		Spill:      0.1,
	}
}

// Threshold distance below which pixels become fully transparent
func (s Settings) Threshold() float64 { return clamp01(s.Similarity) * MaxDistance }

// SmoothRange width of the alpha ramp above the threshold
func (s Settings) SmoothRange() float64 { return clamp01(s.Smoothness) * SmoothingScale }

// Distance euclidean RGB distance to the key color
func (c RGB) Distance(r, g, b uint8) float64 {
	dr := float64(r) - float64(c.R)
	dg := float64(g) - float64(c.G)
	db := float64(b) - float64(c.B)
	return math.Sqrt(dr*dr + dg*dg + db*db)
}

// Alpha for a pixel at distance dist from the key color with original alpha a
func Alpha(dist, threshold, smoothRange float64, a uint8) uint8 {
	switch {
	case dist < threshold:
		return 0
	case dist < threshold+smoothRange:
		// dist-threshold < smoothRange so the result is always below 255
		return uint8(math.Floor(255 * (dist - threshold) / smoothRange))
	default:
		return a
	}
}

// Apply returns a new buffer with the key color keyed out. The input is
// never modified, also when keying is disabled.
func Apply(b raster.Buffer, s Settings) raster.Buffer {
	out := b.Clone()
	if !s.Enabled {
		return out
	}

	threshold := s.Threshold()
	smoothRange := s.SmoothRange()
	pix := out.Pix
	for i := 0; i+3 < len(pix); i += raster.BytesPerPixel {
		dist := s.Key.Distance(pix[i], pix[i+1], pix[i+2])
		pix[i+3] = Alpha(dist, threshold, smoothRange, pix[i+3])
	}

	return out
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
