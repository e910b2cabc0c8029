package goffmpeg_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wader/ffsprite/internal/goffmpeg"
)

func TestArgs(t *testing.T) {
	i1 := &goffmpeg.Input{File: "clip.mp4", Seek: 1.25, Options: map[string]string{"threads": "1"}}
	c := &goffmpeg.FFmpegCmd{
		Flags:  []string{"-v", "error"},
		Inputs: []*goffmpeg.Input{i1},
		Outputs: []*goffmpeg.Output{
			{
				Maps:        []*goffmpeg.Map{{Input: i1, Specifier: "v:0"}},
				VideoFrames: 1,
				Format:      "rawvideo",
				PixelFormat: "rgba",
				File:        &bytes.Buffer{},
			},
			{
				Maps:   []*goffmpeg.Map{{Input: i1, Specifier: "a:0", Codec: "pcm_s16le", Options: map[string]string{"ar": "8000"}}},
				Format: "wav",
				File:   "out.wav",
			},
		},
	}

	args, err := c.Args()
	require.NoError(t, err)
	assert.Equal(t,
		"-nostdin -hide_banner -v error "+
			"-ss 0:00:01.250 -threads 1 -i clip.mp4 "+
			"-map 0:v:0 -frames:v 1 -f rawvideo -pix_fmt rgba pipe-output-index:0 "+
			"-map 0:a:0 -codec:0 pcm_s16le -ar:0 8000 -f wav out.wav",
		strings.Join(args, " "),
	)
}

func TestArgsErrors(t *testing.T) {
	c := &goffmpeg.FFmpegCmd{
		Outputs: []*goffmpeg.Output{{
			Maps: []*goffmpeg.Map{{Input: &goffmpeg.Input{File: "other"}, Specifier: "v"}},
			File: "out",
		}},
	}
	_, err := c.Args()
	assert.Error(t, err)

	c = &goffmpeg.FFmpegCmd{Outputs: []*goffmpeg.Output{{File: 123}}}
	_, err = c.Args()
	assert.Error(t, err)
}

func TestStartArgsErrorDoesNotLeak(t *testing.T) {
	defer leakChecks(t)()

	c := &goffmpeg.FFmpegCmd{
		Outputs: []*goffmpeg.Output{
			{File: &bytes.Buffer{}},
			{File: 123},
		},
	}
	assert.Error(t, c.Run())
}

func TestRawVideoFrame(t *testing.T) {
	requireBinaries(t)
	defer leakChecks(t)()

	b := &bytes.Buffer{}
	i := &goffmpeg.Input{Format: "lavfi", File: "color=c=red:s=8x6:d=2", Seek: 0.5}
	c := &goffmpeg.FFmpegCmd{
		Context: context.Background(),
		Inputs:  []*goffmpeg.Input{i},
		Outputs: []*goffmpeg.Output{{
			Maps:        []*goffmpeg.Map{{Input: i, Specifier: "v:0"}},
			VideoFrames: 1,
			Format:      "rawvideo",
			PixelFormat: "rgba",
			File:        b,
		}},
	}
	require.NoError(t, c.Run())
	require.Equal(t, 8*6*4, b.Len())
	px := b.Bytes()[0:4]
	assert.InDelta(t, 255, px[0], 2)
	assert.InDelta(t, 0, px[1], 2)
	assert.InDelta(t, 0, px[2], 2)
	assert.Equal(t, byte(255), px[3])
}

func TestErrorIncludesStderr(t *testing.T) {
	requireBinaries(t)
	defer leakChecks(t)()

	var lines []string
	c := &goffmpeg.FFmpegCmd{
		Context:      context.Background(),
		Inputs:       []*goffmpeg.Input{{File: "/nonexistent/ffsprite.mp4"}},
		Outputs:      []*goffmpeg.Output{{Format: "null", File: "-"}},
		StderrLineFn: func(line string) { lines = append(lines, line) },
	}
	err := c.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ffsprite.mp4")
	assert.NotEmpty(t, c.StderrBuffer())
	assert.NotEmpty(t, lines)
}

func TestContextKills(t *testing.T) {
	requireBinaries(t)
	defer leakChecks(t)()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	c := &goffmpeg.FFmpegCmd{
		Context: ctx,
		Flags:   []string{"-re"},
		Inputs:  []*goffmpeg.Input{{Format: "lavfi", File: "color=s=8x8:d=60"}},
		Outputs: []*goffmpeg.Output{{Format: "null", File: "-"}},
	}
	start := time.Now()
	assert.Error(t, c.Run())
	assert.Less(t, time.Since(start), 10*time.Second)
}
