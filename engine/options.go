// Package engine runs the journal on an open device: the producer
// append path, the background commit task, the overflow controller,
// the consumer reader and the control socket.
package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gobwas/glob"
)

// OverflowMode selects what a producer does when the journal is full.
type OverflowMode int

const (
	OverflowWait OverflowMode = iota
	OverflowDrop
)

// TooBigMode selects what happens to a record larger than the commit
// buffer.
type TooBigMode int

const (
	TooBigLog TooBigMode = iota
	TooBigFail
)

// LogPolicy is a bitmask of when operations are recorded.
type LogPolicy int

const (
	LogBefore LogPolicy = 1 << iota
	LogAfter

	LogTwice = LogBefore | LogAfter
)

// DataMode selects how much written file data travels with WRITE
// records.
type DataMode int

const (
	DataNone DataMode = iota
	DataHash
	DataFull
)

// Options carries the per-mount tunables. The zero value is not
// usable; start from DefaultOptions.
type Options struct {
	FSPath        string
	PathFilter    []string
	CommitSeconds int
	CommitSize    int
	Overflow      OverflowMode
	TooBig        TooBigMode
	Log           LogPolicy
	Data          DataMode
}

// DefaultOptions returns the defaults applied before parsing a mount
// option string.
func DefaultOptions() Options {
	return Options{
		CommitSeconds: 5,
		CommitSize:    4096,
		Overflow:      OverflowWait,
		TooBig:        TooBigLog,
		Log:           LogAfter,
		Data:          DataNone,
	}
}

var overflowNames = map[string]OverflowMode{
	"drop": OverflowDrop,
	"wait": OverflowWait,
}

var tooBigNames = map[string]TooBigMode{
	"log":   TooBigLog,
	"error": TooBigFail,
}

var logNames = map[string]LogPolicy{
	"before": LogBefore,
	"after":  LogAfter,
	"twice":  LogTwice,
	"both":   LogTwice,
}

var dataNames = map[string]DataMode{
	"none": DataNone,
	"hash": DataHash,
	"data": DataFull,
}

// splitOptions splits a comma-separated option string, honouring
// backslash escapes.
func splitOptions(s string) []string {
	var out []string
	var cur strings.Builder
	esc := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case esc:
			cur.WriteByte(c)
			esc = false
		case c == '\\':
			esc = true
		case c == ',':
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

func splitList(s string) []string {
	var out []string
	var cur strings.Builder
	esc := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case esc:
			cur.WriteByte(c)
			esc = false
		case c == '\\':
			esc = true
		case c == ':':
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	out = append(out, cur.String())
	return out
}

// checkPattern accepts paths where "*" only replaces a whole
// component, with no empty, "." or ".." components and no trailing
// slash.
func checkPattern(p string) error {
	if p == "" {
		return InvalidRequestError("empty path filter")
	}
	for _, comp := range strings.Split(p, "/") {
		switch comp {
		case "", ".", "..":
			return InvalidRequestError("path filter " + p)
		}
		if strings.Contains(comp, "*") && comp != "*" {
			return InvalidRequestError("path filter " + p)
		}
	}
	return nil
}

// ParseOptions applies a mount option string on top of base. On error
// base is returned unchanged.
func ParseOptions(s string, base Options) (Options, error) {
	opts := base
	for _, opt := range splitOptions(s) {
		if opt == "" {
			continue
		}
		eq := strings.IndexByte(opt, '=')
		if eq < 0 {
			return base, InvalidRequestError("option " + opt)
		}
		key, value := opt[:eq], opt[eq+1:]
		switch key {
		case "fs":
			opts.FSPath = value
		case "pathfilter":
			list := splitList(value)
			for _, p := range list {
				if err := checkPattern(p); err != nil {
					return base, err
				}
			}
			opts.PathFilter = list
		case "overflow":
			mode, ok := overflowNames[value]
			if !ok {
				return base, InvalidRequestError("overflow=" + value)
			}
			opts.Overflow = mode
		case "too_big":
			mode, ok := tooBigNames[value]
			if !ok {
				return base, InvalidRequestError("too_big=" + value)
			}
			opts.TooBig = mode
		case "log":
			mode, ok := logNames[value]
			if !ok {
				return base, InvalidRequestError("log=" + value)
			}
			opts.Log = mode
		case "data":
			mode, ok := dataNames[value]
			if !ok {
				return base, InvalidRequestError("data=" + value)
			}
			opts.Data = mode
		case "commit":
			parts := strings.SplitN(value, ":", 2)
			if len(parts) != 2 {
				return base, InvalidRequestError("commit=" + value)
			}
			seconds, err1 := strconv.Atoi(parts[0])
			size, err2 := strconv.Atoi(parts[1])
			if err1 != nil || err2 != nil || seconds < 1 || size < 4096 {
				return base, InvalidRequestError("commit=" + value)
			}
			opts.CommitSeconds = seconds
			opts.CommitSize = size
		default:
			return base, InvalidRequestError("option " + key)
		}
	}
	return opts, nil
}

func escapeOption(s string, extra string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == ',' || c == '\\' || strings.IndexByte(extra, c) >= 0 {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	return b.String()
}

func nameFor(m map[string]OverflowMode, v OverflowMode) string {
	for name, mode := range m {
		if mode == v {
			return name
		}
	}
	return "?"
}

// String reconstructs the option line in the form ParseOptions
// accepts.
func (o Options) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "fs=%s", escapeOption(o.FSPath, ""))
	fmt.Fprintf(&b, ",overflow=%s", nameFor(overflowNames, o.Overflow))
	tooBig := "log"
	if o.TooBig == TooBigFail {
		tooBig = "error"
	}
	fmt.Fprintf(&b, ",too_big=%s", tooBig)
	fmt.Fprintf(&b, ",commit=%d:%d", o.CommitSeconds, o.CommitSize)
	logName := "after"
	switch o.Log {
	case LogBefore:
		logName = "before"
	case LogTwice:
		logName = "twice"
	}
	fmt.Fprintf(&b, ",log=%s", logName)
	data := "none"
	switch o.Data {
	case DataHash:
		data = "hash"
	case DataFull:
		data = "data"
	}
	fmt.Fprintf(&b, ",data=%s", data)
	if len(o.PathFilter) > 0 {
		b.WriteString(",pathfilter=")
		for i, p := range o.PathFilter {
			if i > 0 {
				b.WriteByte(':')
			}
			b.WriteString(escapeOption(p, ":"))
		}
	}
	return b.String()
}

// compileFilter builds the glob matchers for a path filter list.
func compileFilter(patterns []string) ([]glob.Glob, error) {
	var globs []glob.Glob
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, InvalidRequestError("path filter " + p)
		}
		globs = append(globs, g)
	}
	return globs, nil
}
