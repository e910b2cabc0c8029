package goffmpeg

import (
	"slices"
	"strconv"
	"strings"
)

// noStream marks options that apply to a whole input or output
const noStream = -1

// optionArgs turns options into args sorted by name. Names get a leading "-"
// if missing and a ":N" stream suffix when stream is not noStream. An empty
// value gives a value-less option, {"an": ""} -> ["-an"].
func optionArgs(opts map[string]string, stream int) []string {
	names := make([]string, 0, len(opts))
	for name := range opts {
		names = append(names, name)
	}
	slices.Sort(names)

	args := make([]string, 0, len(opts)*2)
	for _, name := range names {
		opt := name
		if !strings.HasPrefix(opt, "-") {
			opt = "-" + opt
		}
		if stream != noStream {
			opt += ":" + strconv.Itoa(stream)
		}
		args = append(args, opt)
		if v := opts[name]; v != "" {
			args = append(args, v)
		}
	}
	return args
}
