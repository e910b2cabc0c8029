package goffmpeg

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/wader/ffsprite/internal/goffmpeg/internal/execextra"
	"github.com/wader/ffsprite/internal/goffmpeg/internal/linebuffer"
)

// FFmpegPath to ffmpeg binary. Will be used as name to cmd.Command.
var FFmpegPath = "ffmpeg"

// FFmpegCmd is a ffmpeg command
// ffmpeg
//   Input
//     -ss position -i string
//   ...
//   Output
//     Map
//       -map *Input/Specifier
//     ...
//     io.Writer/string
//   ...
type FFmpegCmd struct {
	Flags   []string  `json:"flags"`
	Inputs  []*Input  `json:"inputs"`
	Outputs []*Output `json:"outputs"`

	// Path overrides FFmpegPath
	Path                string            `json:"-"`
	Context             context.Context   `json:"-"`
	StderrBufferNrLines int               `json:"-"`
	Stderr              io.Writer         `json:"-"`
	StderrLineFn        func(line string) `json:"-"`
	DebugLog            Printer           `json:"-"`

	cmd             *execextra.Cmd
	stderrLastLines *linebuffer.LastLines
	stderrLineFn    *linebuffer.Fn
}

// Input is a file or URL. Seek is in seconds and is passed as an input option
// so ffmpeg seeks in the demuxer before decoding.
type Input struct {
	File    string            `json:"file"`
	Format  string            `json:"format"`
	Seek    float64           `json:"seek"`
	Options map[string]string `json:"options"`
	Flags   []string          `json:"flags"`
}

type Output struct {
	File        interface{}       `json:"file"` // io.Writer/string
	Maps        []*Map            `json:"maps"`
	Format      string            `json:"format"`
	PixelFormat string            `json:"pixel_format"`
	VideoFrames int               `json:"video_frames"` // 0 no limit
	Options     map[string]string `json:"options"`
	Flags       []string          `json:"flags"`
}

type Map struct {
	Input     *Input            `json:"input"`
	Specifier string            `json:"specifier"`
	Codec     string            `json:"codec"`
	Options   map[string]string `json:"options"`
	Flags     []string          `json:"flags"`
}

type outputWriterFn func(index int, w io.Writer) (string, error)

func (fm *FFmpegCmd) buildArgs(outputWriterFn outputWriterFn) ([]string, error) {
	inputToIndex := map[*Input]int{}

	args := []string{
		"-nostdin",
		"-hide_banner",
	}
	args = append(args, fm.Flags...)

	for inputIndex, input := range fm.Inputs {
		inputToIndex[input] = inputIndex

		if input.Seek > 0 {
			args = append(args, "-ss", SecondsToPosition(input.Seek))
		}
		args = append(args, optionArgs(input.Options, noStream)...)
		args = append(args, input.Flags...)
		if input.Format != "" {
			args = append(args, "-f", input.Format)
		}
		args = append(args, "-i", input.File)
	}

	for outputIndex, output := range fm.Outputs {
		for streamIndex, m := range output.Maps {
			args = append(args, "-map")
			var specifier []string
			if m.Input != nil {
				inputIndex, ok := inputToIndex[m.Input]
				if !ok {
					return nil, fmt.Errorf("can't find input %q for map %q", m.Input.File, m.Specifier)
				}
				specifier = append(specifier, strconv.Itoa(inputIndex))
			}
			if m.Specifier != "" {
				specifier = append(specifier, m.Specifier)
			}
			args = append(args, strings.Join(specifier, ":"))

			streamIndexStr := strconv.Itoa(streamIndex)
			if m.Codec != "" {
				args = append(args, "-codec:"+streamIndexStr, m.Codec)
			}
			args = append(args, optionArgs(m.Options, streamIndex)...)
			args = append(args, m.Flags...)
		}

		if output.VideoFrames > 0 {
			args = append(args, "-frames:v", strconv.Itoa(output.VideoFrames))
		}
		if output.Format != "" {
			args = append(args, "-f", output.Format)
		}
		if output.PixelFormat != "" {
			args = append(args, "-pix_fmt", output.PixelFormat)
		}
		args = append(args, optionArgs(output.Options, noStream)...)
		args = append(args, output.Flags...)

		switch file := output.File.(type) {
		case string:
			args = append(args, file)
		case io.Writer:
			a, err := outputWriterFn(outputIndex, file)
			if err != nil {
				return nil, err
			}
			args = append(args, a)
		default:
			return nil, fmt.Errorf("unknown output file type %T should be string or io.Writer", output.File)
		}
	}

	return args, nil
}

// Args as they would be passed to ffmpeg with writers as placeholders
func (fm *FFmpegCmd) Args() ([]string, error) {
	return fm.buildArgs(
		func(outputIndex int, w io.Writer) (string, error) {
			return fmt.Sprintf("pipe-output-index:%d", outputIndex), nil
		},
	)
}

func (fm *FFmpegCmd) path() string {
	if fm.Path != "" {
		return fm.Path
	}
	return FFmpegPath
}

func (fm *FFmpegCmd) Start() error {
	if fm.Context != nil {
		fm.cmd = execextra.CommandContext(fm.Context, fm.path())
	} else {
		fm.cmd = execextra.Command(fm.path())
	}

	args, err := fm.buildArgs(
		func(outputIndex int, w io.Writer) (string, error) {
			outChildFD, err := fm.cmd.ExtraOut(w)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("pipe:%d", outChildFD), nil
		},
	)
	if err != nil {
		fm.cmd.Abort()
		return err
	}

	var stderrws []io.Writer
	nrLines := fm.StderrBufferNrLines
	if nrLines == 0 {
		nrLines = 100
	}
	fm.stderrLastLines = linebuffer.NewLastLines(nrLines)
	stderrws = append(stderrws, fm.stderrLastLines)
	if fm.StderrLineFn != nil {
		fm.stderrLineFn = linebuffer.NewFn(fm.StderrLineFn)
		stderrws = append(stderrws, fm.stderrLineFn)
	}
	if fm.Stderr != nil {
		stderrws = append(stderrws, fm.Stderr)
	}
	fm.cmd.Stderr = io.MultiWriter(stderrws...)
	fm.cmd.Args = append(fm.cmd.Args, args...)

	if fm.DebugLog != nil {
		fm.DebugLog.Printf("%s", strings.Join(fm.cmd.Args, " "))
	}

	return fm.cmd.Start()
}

// Wait for cmd to finish
// Note that the error message might include command details that are sensitive
func (fm *FFmpegCmd) Wait() error {
	err := fm.cmd.Wait()
	if fm.stderrLineFn != nil {
		fm.stderrLineFn.Close()
	}
	if fm.stderrLastLines != nil {
		fm.stderrLastLines.Close()
	}

	if err != nil {
		return fmt.Errorf("%w: %s", err, fm.stderrLastLines.String())
	}

	return nil
}

// Run starts and waits for ffmpeg to finish
// Note that the error message might include command details that are sensitive
func (fm *FFmpegCmd) Run() error {
	if err := fm.Start(); err != nil {
		return err
	}
	return fm.Wait()
}

// StderrBuffer returns the last stderr lines as a string
// Note that the stderr might include command details that are sensitive
func (fm *FFmpegCmd) StderrBuffer() string {
	if fm.stderrLastLines == nil {
		return ""
	}
	return fm.stderrLastLines.String()
}
