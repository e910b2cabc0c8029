package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wader/ffsprite/internal/chromakey"
	"github.com/wader/ffsprite/internal/config"
	"github.com/wader/ffsprite/internal/iterm2"
	"github.com/wader/ffsprite/internal/logger"
	"github.com/wader/ffsprite/internal/metrics"
	"github.com/wader/ffsprite/internal/pipeline"
	"github.com/wader/ffsprite/internal/sampler"
	"github.com/wader/ffsprite/internal/sheet"
	"github.com/wader/ffsprite/internal/tracing"
	"github.com/wader/ffsprite/internal/videosource"
)

// cut is a time window, negative times count from the end
type cut struct {
	start  float64
	end    float64
	hasEnd bool
}

func (c *cut) String() string {
	if !c.hasEnd {
		return fmt.Sprintf("%g", c.start)
	}
	return fmt.Sprintf("%g,%g", c.start, c.end)
}

// Set parses start[,end] where times are [[hh:]mm:]ss[.fff]
func (c *cut) Set(s string) error {
	parts := strings.Split(s, ",")
	if len(parts) > 2 {
		return fmt.Errorf("%q: expected start[,end]", s)
	}
	start, err := parseTime(parts[0])
	if err != nil {
		return err
	}
	c.start = start
	c.hasEnd = false
	if len(parts) > 1 {
		if c.end, err = parseTime(parts[1]); err != nil {
			return err
		}
		c.hasEnd = true
	}
	return nil
}

// resolve window against duration
func (c cut) resolve(duration float64) (float64, float64) {
	start := c.start
	if start < 0 {
		start = duration + start
	}
	end := duration
	if c.hasEnd {
		end = c.end
		if end < 0 {
			end = duration + end
		}
	}
	return start, end
}

// [-][[hh:]mm:]ss[.fff]
func parseTime(s string) (float64, error) {
	sign := 1.0
	t := strings.TrimSpace(s)
	if strings.HasPrefix(t, "-") {
		sign = -1
		t = t[1:]
	}
	timeParts := strings.Split(t, ":")
	if len(timeParts) > 3 {
		return 0, fmt.Errorf("%q: expected [[hh:]mm:]ss", s)
	}
	v := 0.0
	for _, p := range timeParts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil || f < 0 {
			return 0, fmt.Errorf("%q: invalid time", s)
		}
		v = v*60 + f
	}
	return sign * v, nil
}

// picks is a list of frame indexes, "0,2,4-7"
type picks []int

func (p *picks) String() string {
	var ss []string
	for _, i := range *p {
		ss = append(ss, strconv.Itoa(i))
	}
	return strings.Join(ss, ",")
}

func (p *picks) Set(s string) error {
	var r picks
	for _, part := range strings.Split(s, ",") {
		from, to, isRange := strings.Cut(strings.TrimSpace(part), "-")
		a, err := strconv.Atoi(from)
		if err != nil || a < 0 {
			return fmt.Errorf("%q: invalid index", part)
		}
		b := a
		if isRange {
			if b, err = strconv.Atoi(to); err != nil || b < a {
				return fmt.Errorf("%q: invalid range", part)
			}
		}
		for i := a; i <= b; i++ {
			r = append(r, i)
		}
	}
	*p = r
	return nil
}

// size is WxH
type size struct {
	width  int
	height int
}

func (sz *size) String() string {
	return fmt.Sprintf("%dx%d", sz.width, sz.height)
}

func (sz *size) Set(s string) error {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return fmt.Errorf("%q: expected WxH", s)
	}
	w, werr := strconv.Atoi(ws)
	h, herr := strconv.Atoi(hs)
	if werr != nil || herr != nil || w <= 0 || h <= 0 {
		return fmt.Errorf("%q: invalid size", s)
	}
	sz.width, sz.height = w, h
	return nil
}

var (
	cutFlag      = cut{}
	pickFlag     picks
	sizeFlag     size
	keyFlag      chromakey.RGB
	resampleFlag sheet.Resample

	fpsFlag        = flag.Float64("fps", 0, "Frames per second to sample")
	columnsFlag    = flag.Int("columns", 0, "Sheet columns")
	paddingFlag    = flag.Int("padding", 0, "Padding between cells in pixels")
	scaleFlag      = flag.Float64("scale", 0, "Cell size relative to source (0,1]")
	similarityFlag = flag.Float64("similarity", 0, "Chroma key similarity 0-1")
	smoothnessFlag = flag.Float64("smoothness", 0, "Chroma key smoothness 0-1")
	spillFlag      = flag.Float64("spill", 0, "Chroma key spill 0-1 (reserved)")
	outputFlag     = flag.String("o", "", "Output file, format from extension (default NAME_sprites.png)")
	previewFlag    = flag.Bool("p", false, "Preview sheet inline in iTerm2")
	configFlag     = flag.String("config", "", "YAML settings file")
	metricsFlag    = flag.String("metrics", "", "Write prometheus metrics to file")
	traceFlag      = flag.String("trace", "", "Write trace spans as JSON to file")
	debugFlag      = flag.Bool("d", false, "Debug")
	verboseFlag    = flag.Bool("v", false, "Verbose")
)

func init() {
	flag.Var(&cutFlag, "c", "Cut start[,end] as [[hh:]mm:]ss, negative counts from end")
	flag.Var(&pickFlag, "pick", "Only use these frames in this order, 0,2,4-7")
	flag.Var(&sizeFlag, "size", "Fixed cell size WxH")
	flag.TextVar(&keyFlag, "key", chromakey.DefaultSettings().Key, "Chroma key color #rrggbb, enables keying")
	flag.TextVar(&resampleFlag, "resample", sheet.ResampleLinear, "Resample filter linear or nearest")
}

func verbosef(s string, args ...interface{}) {
	if *verboseFlag {
		fmt.Printf(s, args...)
	}
}

// applyFlags overrides cfg with flags that were set on the command line
func applyFlags(cfg *config.Config, set map[string]bool) {
	if set["fps"] {
		cfg.FPS = *fpsFlag
	}
	if set["columns"] {
		cfg.Layout.Columns = *columnsFlag
	}
	if set["padding"] {
		cfg.Layout.Padding = *paddingFlag
	}
	if set["scale"] {
		cfg.Layout.Mode = sheet.ModeScale
		cfg.Layout.Scale = *scaleFlag
	}
	if set["size"] {
		cfg.Layout.Mode = sheet.ModeFixed
		cfg.Layout.FixedWidth = sizeFlag.width
		cfg.Layout.FixedHeight = sizeFlag.height
	}
	if set["resample"] {
		cfg.Layout.Resample = resampleFlag
	}
	if set["key"] {
		cfg.Chroma.Enabled = true
		cfg.Chroma.Key = keyFlag
	}
	if set["similarity"] {
		cfg.Chroma.Similarity = *similarityFlag
	}
	if set["smoothness"] {
		cfg.Chroma.Smoothness = *smoothnessFlag
	}
	if set["spill"] {
		cfg.Chroma.Spill = *spillFlag
	}
	if *debugFlag {
		cfg.LogLevel = "debug"
	} else if *verboseFlag {
		cfg.LogLevel = "info"
	}
}

func outputPath(path string, n int) (string, error) {
	if *outputFlag != "" {
		if n > 1 {
			return "", errors.New("-o can only be used with one input file")
		}
		return *outputFlag, nil
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base)) + "_sprites.png", nil
}

func newProgressBar(max int) *progressbar.ProgressBar {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return progressbar.DefaultSilent(int64(max))
	}
	return progressbar.NewOptions(max,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Extracting"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "▐",
			BarEnd:        "▌",
		}),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(50),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionClearOnFinish(),
	)
}

func process(ctx context.Context, log *zap.Logger, cfg *config.Config, session *pipeline.Session, path string, out string) error {
	src, err := videosource.Open(ctx, path, videosource.Options{
		FFmpegPath:  cfg.FFmpegPath,
		FFprobePath: cfg.FFprobePath,
		Logger:      log,
	})
	if err != nil {
		return err
	}
	start, end := cutFlag.resolve(src.Duration())
	verbosef("%s: %dx%d %.3fs, sampling %.3fs-%.3fs at %g fps\n", path, src.Width(), src.Height(), src.Duration(), start, end, cfg.FPS)

	expected := sampler.Expected(start, end, cfg.FPS)
	if expected > cfg.MaxFrames || expected < 1 {
		expected = cfg.MaxFrames
	}
	bar := newProgressBar(expected)
	res, err := session.Extract(ctx, src, start, end, cfg.FPS, func(p sampler.Progress) {
		_ = bar.Set(p.Captured)
	})
	_ = bar.Finish()
	switch {
	case errors.Is(err, sampler.ErrCaptureTimeout):
		fmt.Fprintf(os.Stderr, "%s: %s, using %d captured frames\n", path, err, len(res.Frames))
	case err != nil:
		return err
	}
	if res.Truncated {
		fmt.Fprintf(os.Stderr, "%s: frame limit %d reached at %.3fs\n", path, len(res.Frames), res.Frames[len(res.Frames)-1].Timestamp)
	}

	if len(pickFlag) > 0 {
		if err := session.Pick(pickFlag); err != nil {
			return err
		}
	}

	sh, err := session.Generate(ctx, cfg.Layout, cfg.Chroma)
	if err != nil {
		return err
	}
	if len(sh.Mismatched) > 0 {
		fmt.Fprintf(os.Stderr, "%s: %d frames had a different resolution and were stretched\n", path, len(sh.Mismatched))
	}

	if err := imaging.Save(sh.Image(), out); err != nil {
		return err
	}
	verbosef("%s: %d frames, %dx%d cells, %dx%d grid, %dx%d sheet\n",
		out, len(sh.Cells), sh.CellWidth, sh.CellHeight, sh.Columns, sh.Rows, sh.Width, sh.Height)

	if *previewFlag {
		return preview(sh)
	}

	return nil
}

func preview(sh *sheet.Sheet) error {
	t := iterm2.New(os.Stdout)
	if !t.IsCompatible() {
		fmt.Fprintln(os.Stderr, "not iterm2 terminal")
		return nil
	}
	m := sh.Image()
	if r, err := t.PixelResolution(); err == nil && r.Width > 0 && r.Height > 0 {
		if sh.Width > r.Width || sh.Height > r.Height {
			return t.Image(imaging.Fit(m, r.Width, r.Height, imaging.Linear))
		}
	}
	return t.Image(m)
}

func main() {
	flag.Parse()

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if err := func() error {
		cfg, err := config.Load(*configFlag)
		if err != nil {
			return err
		}
		applyFlags(cfg, set)
		if err := cfg.Validate(); err != nil {
			return err
		}

		log, err := logger.New(cfg.LogLevel)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		if *traceFlag != "" {
			f, err := os.Create(*traceFlag)
			if err != nil {
				return err
			}
			defer f.Close()
			tp, err := tracing.Init(f)
			if err != nil {
				return err
			}
			defer func() { _ = tp.Shutdown(context.Background()) }()
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if flag.NArg() == 0 {
			flag.Usage()
			return errors.New("no input files")
		}

		failed := false
		for _, path := range flag.Args() {
			out, err := outputPath(path, flag.NArg())
			if err != nil {
				return err
			}
			// new session per file, frames are not shared between inputs
			session := pipeline.New(pipeline.Options{
				Logger:      log.With(zap.String("input", path)),
				MaxFrames:   cfg.MaxFrames,
				SeekTimeout: cfg.SeekTimeout,
			})
			if err := process(ctx, log, cfg, session, path, out); err != nil {
				fmt.Fprintf(os.Stderr, "%s: %s\n", path, err)
				failed = true
				if ctx.Err() != nil {
					break
				}
			}
		}

		if *metricsFlag != "" {
			if err := metrics.WriteTextfile(*metricsFlag); err != nil {
				return err
			}
		}
		if failed {
			return errors.New("some inputs failed")
		}
		return nil
	}(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
