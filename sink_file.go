package logpipe

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileConfig configures a handler appending rendered lines to a path.
type FileConfig struct {
	CommonHandlerConfig

	// Path is the log file path. The parent directory is created.
	Path string
}

func (c FileConfig) common() CommonHandlerConfig { return c.CommonHandlerConfig }

func (c FileConfig) buildHandler(id string, f *Formatter) (*Handler, error) {
	cc := c.CommonHandlerConfig
	if id != "" {
		cc.ID = id
	}
	o, err := cc.runtime("file", f)
	if err != nil {
		return nil, err
	}
	file, err := openAppend(c.Path)
	if err != nil {
		return nil, &HandlerConfigError{Kind: IoOpen, ID: o.id, Err: err}
	}
	return newHandler(o, &fileSink{f: file}), nil
}

// NewFileHandler builds a handler appending to path. The open happens at
// construction; a failed open fails the build.
func NewFileHandler(cfg FileConfig) (*Handler, error) {
	return cfg.buildHandler("", nil)
}

// openAppend opens path for appending, creating parent directories.
func openAppend(path string) (*os.File, error) {
	if path == "" {
		return nil, fmt.Errorf("logpipe: file path is required")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("logpipe: cannot create directory %s: %w", dir, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("logpipe: cannot open file %s: %w", path, err)
	}
	return f, nil
}

// fileSink appends one line per record. Flush cadence is driven by the
// handler runtime; Flush syncs the descriptor.
type fileSink struct {
	f *os.File
}

func (s *fileSink) Write(rec *Record, line []byte) error {
	buf := getBuffer()
	buf.AppendBytes(line)
	buf.AppendByte('\n')
	_, err := s.f.Write(buf.Bytes())
	putBuffer(buf)
	return err
}

func (s *fileSink) Flush() error {
	return s.f.Sync()
}

func (s *fileSink) Close() error {
	return s.f.Close()
}
