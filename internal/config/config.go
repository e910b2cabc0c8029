// Package config loads settings from FFSPRITE_* environment variables and an
// optional YAML file. Command line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/wader/ffsprite/internal/chromakey"
	"github.com/wader/ffsprite/internal/sampler"
	"github.com/wader/ffsprite/internal/sheet"
)

// EnvPrefix for all environment variables
const EnvPrefix = "FFSPRITE_"

type Config struct {
	FPS         float64       `yaml:"fps"          env:"FPS"          envDefault:"10"`
	MaxFrames   int           `yaml:"max_frames"   env:"MAX_FRAMES"   envDefault:"200"`
	SeekTimeout time.Duration `yaml:"seek_timeout" env:"SEEK_TIMEOUT" envDefault:"10s"`
	LogLevel    string        `yaml:"log_level"    env:"LOG_LEVEL"    envDefault:"warn"`
	FFmpegPath  string        `yaml:"ffmpeg_path"  env:"FFMPEG_PATH"  envDefault:"ffmpeg"`
	FFprobePath string        `yaml:"ffprobe_path" env:"FFPROBE_PATH" envDefault:"ffprobe"`

	Chroma chromakey.Settings `yaml:"chroma" envPrefix:"CHROMA_"`
	Layout sheet.Layout       `yaml:"layout" envPrefix:"LAYOUT_"`
}

// Default config without environment
func Default() Config {
	return Config{
		FPS:         10,
		MaxFrames:   sampler.MaxFrames,
		SeekTimeout: sampler.DefaultSeekTimeout,
		LogLevel:    "warn",
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
		Chroma:      chromakey.DefaultSettings(),
		Layout:      sheet.DefaultLayout(),
	}
}

// Load defaults, then environment, then the YAML file at path if not empty
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	return &cfg, nil
}

// Validate reports all invalid fields
func (c *Config) Validate() error {
	var errs []error
	if !(c.FPS > 0) {
		errs = append(errs, fmt.Errorf("fps: %v must be positive", c.FPS))
	}
	if c.MaxFrames < 1 || c.MaxFrames > sampler.MaxFrames {
		errs = append(errs, fmt.Errorf("max_frames: %d not in 1-%d", c.MaxFrames, sampler.MaxFrames))
	}
	if c.SeekTimeout <= 0 {
		errs = append(errs, fmt.Errorf("seek_timeout: %s must be positive", c.SeekTimeout))
	}
	for name, v := range map[string]float64{
		"chroma.similarity": c.Chroma.Similarity,
		"chroma.smoothness": c.Chroma.Smoothness,
		"chroma.spill":      c.Chroma.Spill,
	} {
		if !(v >= 0 && v <= 1) {
			errs = append(errs, fmt.Errorf("%s: %v not in 0-1", name, v))
		}
	}
	if err := c.Layout.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("layout: %w", err))
	}
	return errors.Join(errs...)
}
