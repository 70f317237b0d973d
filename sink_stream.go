package logpipe

import (
	"os"

	"github.com/mattn/go-isatty"
)

// ANSI color codes.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"

	colorBoldRed = "\033[1;31m"
)

func levelColor(lvl Level) string {
	switch {
	case lvl >= CriticalLevel:
		return colorBoldRed
	case lvl >= ErrorLevel:
		return colorRed
	case lvl >= WarnLevel:
		return colorYellow
	case lvl >= InfoLevel:
		return colorBlue
	case lvl >= DebugLevel:
		return colorCyan
	default:
		return colorGray
	}
}

// StreamConfig configures a handler writing to a standard output stream.
type StreamConfig struct {
	CommonHandlerConfig

	// Target is the output stream. Default stderr.
	Target *os.File
	// Color enables per-level ANSI coloring when Target is a terminal.
	// Off by default so the plain line wire format holds.
	Color bool
}

func (c StreamConfig) common() CommonHandlerConfig { return c.CommonHandlerConfig }

func (c StreamConfig) buildHandler(id string, f *Formatter) (*Handler, error) {
	cc := c.CommonHandlerConfig
	if id != "" {
		cc.ID = id
	}
	o, err := cc.runtime("stream", f)
	if err != nil {
		return nil, err
	}
	target := c.Target
	if target == nil {
		target = os.Stderr
	}
	color := c.Color &&
		(isatty.IsTerminal(target.Fd()) || isatty.IsCygwinTerminal(target.Fd()))
	return newHandler(o, &streamSink{f: target, color: color}), nil
}

// NewStreamHandler builds a handler writing rendered lines to stdout or
// stderr (default stderr).
func NewStreamHandler(cfg StreamConfig) (*Handler, error) {
	return cfg.buildHandler("", nil)
}

// streamSink writes one rendered line per record to a standard stream.
// No rotation, no reconnect; flush maps to the stream's own Sync.
type streamSink struct {
	f     *os.File
	color bool
}

func (s *streamSink) Write(rec *Record, line []byte) error {
	buf := getBuffer()
	if s.color {
		buf.AppendString(levelColor(rec.Level))
		buf.AppendBytes(line)
		buf.AppendString(colorReset)
	} else {
		buf.AppendBytes(line)
	}
	buf.AppendByte('\n')
	_, err := s.f.Write(buf.Bytes())
	putBuffer(buf)
	return err
}

func (s *streamSink) Flush() error {
	// Sync on a terminal fd reports EINVAL; the stream is unbuffered at
	// this layer anyway.
	_ = s.f.Sync()
	return nil
}

func (s *streamSink) Close() error {
	// stdout/stderr are not ours to close.
	return s.Flush()
}
