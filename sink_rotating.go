package logpipe

import (
	"fmt"
	"os"
	"strconv"
)

// RotatingFileConfig configures a size-rotating file handler. Rotation is
// enabled iff both MaxBytes and BackupCount are positive; both zero
// disables rotation. A partial configuration fails the build with
// ErrInvalidRotationConfig.
type RotatingFileConfig struct {
	CommonHandlerConfig

	Path        string
	MaxBytes    int64
	BackupCount int
}

func (c RotatingFileConfig) common() CommonHandlerConfig { return c.CommonHandlerConfig }

func (c RotatingFileConfig) buildHandler(id string, f *Formatter) (*Handler, error) {
	cc := c.CommonHandlerConfig
	if id != "" {
		cc.ID = id
	}
	o, err := cc.runtime("rotating", f)
	if err != nil {
		return nil, err
	}
	if c.MaxBytes < 0 || c.BackupCount < 0 ||
		(c.MaxBytes > 0) != (c.BackupCount > 0) {
		return nil, fmt.Errorf("%w: max_bytes=%d backup_count=%d",
			ErrInvalidRotationConfig, c.MaxBytes, c.BackupCount)
	}
	sink, err := newRotatingSink(c.Path, c.MaxBytes, c.BackupCount, o.stats)
	if err != nil {
		return nil, &HandlerConfigError{Kind: IoOpen, ID: o.id, Err: err}
	}
	return newHandler(o, sink), nil
}

// NewRotatingFileHandler builds a size-rotating file handler. Backups are
// named path.1 … path.N with path.1 the most recent.
func NewRotatingFileHandler(cfg RotatingFileConfig) (*Handler, error) {
	return cfg.buildHandler("", nil)
}

// rotatingSink appends to a base file and rotates it through numbered
// backups once a write would push the file past maxBytes. The in-memory
// size is validated against the OS at open. A failed fresh open after
// rotation puts the sink in an error state: records are dropped (counted)
// until a later write attempt reopens the base.
type rotatingSink struct {
	path     string
	maxBytes int64
	backups  int

	f    *os.File
	size int64

	stats *handlerStats

	// openFresh is the post-rotation open; swapped in tests to exercise
	// the error state.
	openFresh func(path string) (*os.File, error)
}

func newRotatingSink(path string, maxBytes int64, backups int, stats *handlerStats) (*rotatingSink, error) {
	f, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &rotatingSink{
		path:     path,
		maxBytes: maxBytes,
		backups:  backups,
		f:        f,
		size:     info.Size(),
		stats:    stats,
		openFresh: func(p string) (*os.File, error) {
			return os.OpenFile(p, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
		},
	}, nil
}

func (s *rotatingSink) rotationEnabled() bool {
	return s.maxBytes > 0 && s.backups > 0
}

func (s *rotatingSink) backupName(i int) string {
	return s.path + "." + strconv.Itoa(i)
}

func (s *rotatingSink) Write(rec *Record, line []byte) error {
	n := int64(len(line)) + 1

	if s.f == nil {
		// Error state from a failed post-rotation open. Retry the fresh
		// open on every write attempt; drop until it succeeds.
		f, err := s.openFresh(s.path)
		if err != nil {
			s.stats.dropped.Add(1)
			return nil
		}
		s.f = f
		s.size = 0
	}

	if s.rotationEnabled() && s.size > 0 && s.size+n > s.maxBytes {
		if err := s.rotate(); err != nil {
			// Fresh open failed; backups stay consistent, this record
			// is dropped along with subsequent ones until reopen.
			s.stats.dropped.Add(1)
			return nil
		}
	}

	buf := getBuffer()
	buf.AppendBytes(line)
	buf.AppendByte('\n')
	_, err := s.f.Write(buf.Bytes())
	putBuffer(buf)
	if err != nil {
		return err
	}
	s.size += n
	return nil
}

// rotate runs the backup shuffle: base.i → base.(i+1) for i from
// backup_count-1 down to 1, base.backup_count unlinked, base → base.1,
// then a fresh base is opened. A failure at the fresh open leaves
// base.1…base.backup_count consistent and the sink in the error state.
func (s *rotatingSink) rotate() error {
	s.f.Sync()
	s.f.Close()
	s.f = nil

	os.Remove(s.backupName(s.backups))
	for i := s.backups - 1; i >= 1; i-- {
		src := s.backupName(i)
		if _, err := os.Stat(src); err == nil {
			os.Rename(src, s.backupName(i+1))
		}
	}
	os.Rename(s.path, s.backupName(1))

	f, err := s.openFresh(s.path)
	if err != nil {
		return err
	}
	s.f = f
	s.size = 0
	return nil
}

func (s *rotatingSink) Flush() error {
	if s.f == nil {
		return nil
	}
	return s.f.Sync()
}

func (s *rotatingSink) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
