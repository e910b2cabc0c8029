package goffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/wader/ffsprite/internal/goffmpeg/internal/execextra"
	"github.com/wader/ffsprite/internal/goffmpeg/internal/linebuffer"
)

// FFprobePath to ffprobe binary. Will be used as name to cmd.Command.
var FFprobePath = "ffprobe"

// FFProbeResult ffprobe result
type FFProbeResult struct {
	Format  FFProbeFormat   `json:"format"`
	Streams []FFProbeStream `json:"streams"`
}

const (
	SideDataDisplayMatrix = "Display Matrix"
)

// SideData only display matrix is mapped
type SideData struct {
	SideDataType  string `json:"side_data_type"`
	DisplayMatrix string `json:"displaymatrix"`
	Rotation      int    `json:"rotation"` // counter clockwise rotation
}

// FFProbeStream ffprobe stream result
type FFProbeStream struct {
	Index        uint              `json:"index"`
	CodecName    string            `json:"codec_name"`
	CodecType    string            `json:"codec_type"`
	RFrameRate   string            `json:"r_frame_rate"`
	AvgFrameRate string            `json:"avg_frame_rate"`
	StartTime    string            `json:"start_time"`
	Duration     string            `json:"duration"`
	NbFrames     string            `json:"nb_frames"`
	Width        uint              `json:"width"`
	Height       uint              `json:"height"`
	PixFmt       string            `json:"pix_fmt"`
	Tags         map[string]string `json:"tags"`
	SideDataList []SideData        `json:"side_data_list"`
}

// Rotation in degrees from display matrix side data or the older rotate tag
func (fps FFProbeStream) Rotation() int {
	for _, s := range fps.SideDataList {
		if s.SideDataType == SideDataDisplayMatrix {
			return s.Rotation
		}
	}
	if r, err := strconv.Atoi(fps.Tags["rotate"]); err == nil {
		return r
	}
	return 0
}

func (fps FFProbeStream) rotated() bool {
	switch fps.Rotation() % 360 {
	case -270, -90, 90, 270:
		return true
	}
	return false
}

// DisplayWidth width after rotation
func (fps FFProbeStream) DisplayWidth() uint {
	if fps.rotated() {
		return fps.Height
	}
	return fps.Width
}

// DisplayHeight height after rotation
func (fps FFProbeStream) DisplayHeight() uint {
	if fps.rotated() {
		return fps.Width
	}
	return fps.Height
}

// FrameRate average frame rate, falls back to real base frame rate. 0 if unknown.
func (fps FFProbeStream) FrameRate() float64 {
	if r := parseRational(fps.AvgFrameRate); r > 0 {
		return r
	}
	return parseRational(fps.RFrameRate)
}

// "30000/1001" or "25"
func parseRational(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// FFProbeFormat ffprobe format result
type FFProbeFormat struct {
	Filename       string            `json:"filename"`
	FormatName     string            `json:"format_name"`
	FormatLongName string            `json:"format_long_name"`
	StartTime      string            `json:"start_time"`
	Duration       string            `json:"duration"`
	Size           string            `json:"size"`
	BitRate        string            `json:"bit_rate"`
	ProbeScore     uint              `json:"probe_score"`
	Tags           map[string]string `json:"tags"`
}

// FindFirstStreamCodecType find first stream with codec type
func (fpr FFProbeResult) FindFirstStreamCodecType(codecType string) (FFProbeStream, bool) {
	for _, s := range fpr.Streams {
		if s.CodecType == codecType {
			return s, true
		}
	}
	return FFProbeStream{}, false
}

// FirstVideoStream find first video stream
func (fpr FFProbeResult) FirstVideoStream() (FFProbeStream, bool) {
	return fpr.FindFirstStreamCodecType("video")
}

// FormatName probed format (first value if comma separated)
func (fpr FFProbeResult) FormatName() string {
	return strings.Split(fpr.Format.FormatName, ",")[0]
}

// Duration probed duration in seconds, format duration or first video stream
// duration. 0 if unknown.
func (fpr FFProbeResult) Duration() float64 {
	if v, err := strconv.ParseFloat(fpr.Format.Duration, 64); err == nil && v > 0 && !math.IsInf(v, 0) {
		return v
	}
	if s, ok := fpr.FirstVideoStream(); ok {
		if v, err := strconv.ParseFloat(s.Duration, 64); err == nil && v > 0 {
			return v
		}
	}
	return 0
}

func (fpr FFProbeResult) String() string {
	var codecs []string
	for _, s := range fpr.Streams {
		codecs = append(codecs, s.CodecName)
	}
	return fmt.Sprintf("%s:%s", fpr.FormatName(), strings.Join(codecs, ":"))
}

// FFProbeCmd is a ffprobe command
type FFProbeCmd struct {
	Flags []string
	Input Input

	ProbeResult FFProbeResult `json:"-"`

	// Path overrides FFprobePath
	Path                string          `json:"-"`
	Context             context.Context `json:"-"`
	StderrBufferNrLines int             `json:"-"`
	Stderr              io.Writer       `json:"-"`
	DebugLog            Printer         `json:"-"`

	cmd             *execextra.Cmd
	stdout          bytes.Buffer
	stderrLastLines *linebuffer.LastLines
}

// Start ffprobe cmd
func (fp *FFProbeCmd) Start() error {
	path := fp.Path
	if path == "" {
		path = FFprobePath
	}
	if fp.Context != nil {
		fp.cmd = execextra.CommandContext(fp.Context, path)
	} else {
		fp.cmd = execextra.Command(path)
	}
	fp.cmd.Args = append(fp.cmd.Args,
		"-hide_banner",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
	)
	fp.cmd.Args = append(fp.cmd.Args, fp.Flags...)
	fp.cmd.Args = append(fp.cmd.Args, optionArgs(fp.Input.Options, noStream)...)
	fp.cmd.Args = append(fp.cmd.Args, fp.Input.Flags...)
	if fp.Input.Format != "" {
		fp.cmd.Args = append(fp.cmd.Args, "-f", fp.Input.Format)
	}
	fp.cmd.Args = append(fp.cmd.Args, fp.Input.File)

	var stderrws []io.Writer
	nrLines := fp.StderrBufferNrLines
	if nrLines == 0 {
		nrLines = 100
	}
	fp.stderrLastLines = linebuffer.NewLastLines(nrLines)
	stderrws = append(stderrws, fp.stderrLastLines)
	if fp.Stderr != nil {
		stderrws = append(stderrws, fp.Stderr)
	}
	fp.cmd.Stderr = io.MultiWriter(stderrws...)
	fp.cmd.Stdout = &fp.stdout

	if fp.DebugLog != nil {
		fp.DebugLog.Printf("%s", strings.Join(fp.cmd.Args, " "))
	}

	return fp.cmd.Start()
}

// Wait for ffprobe cmd to finish and decode result
// Note that the error message might include command details that are sensitive
func (fp *FFProbeCmd) Wait() error {
	err := fp.cmd.Wait()
	fp.stderrLastLines.Close()
	if err != nil {
		return fmt.Errorf("%w: %s", err, fp.stderrLastLines.String())
	}
	if err := json.Unmarshal(fp.stdout.Bytes(), &fp.ProbeResult); err != nil {
		return fmt.Errorf("ffprobe output: %w", err)
	}

	return nil
}

// Run starts and waits for ffprobe to finish
// Note that the error message might include command details that are sensitive
func (fp *FFProbeCmd) Run() error {
	if err := fp.Start(); err != nil {
		return err
	}
	return fp.Wait()
}

// Result start and wait for ffprobe to finish and return info
// Note that the error message might include command details that are sensitive
func (fp *FFProbeCmd) Result() (FFProbeResult, error) {
	if err := fp.Run(); err != nil {
		return FFProbeResult{}, err
	}
	return fp.ProbeResult, nil
}
