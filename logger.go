package logpipe

import (
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Logger is a named node in the hierarchy. Its level, propagate flag,
// handlers and filters live in the manager's published snapshot, which
// every log call resolves, so concurrent reconfiguration is never observed
// half-applied. Only the caller-capture settings are held on the Logger.
// Loggers are canonical — GetLogger returns the same *Logger for a name
// for the life of the process.
type Logger struct {
	name string
	m    *Manager

	// cache packs the snapshot generation with the resolved effective
	// level so repeated level checks skip the ancestor walk.
	cache atomic.Uint64

	noCaller   atomic.Bool
	callerSkip atomic.Int32
}

// Name returns the logger's dotted name.
func (l *Logger) Name() string { return l.name }

// Manager returns the owning manager.
func (l *Logger) Manager() *Manager { return l.m }

// SetCaptureCaller disables or re-enables caller capture on this logger's
// records. Capture is on by default.
func (l *Logger) SetCaptureCaller(on bool) { l.noCaller.Store(!on) }

// SetCallerSkip adds frames to skip when capturing caller info, for
// wrappers funnelling through this logger.
func (l *Logger) SetCallerSkip(skip int) { l.callerSkip.Store(int32(skip)) }

// EffectiveLevel returns this logger's own level if set, else the nearest
// ancestor's set level, else NOTSET (which enables everything).
func (l *Logger) EffectiveLevel() Level {
	s := l.m.acquire()
	defer s.release()
	return l.effectiveLevel(s)
}

func (l *Logger) effectiveLevel(s *snapshot) Level {
	if c := l.cache.Load(); c>>8 == s.gen {
		return Level(int8(c & 0xff))
	}
	eff := s.effectiveLevel(l.name)
	l.cache.Store(s.gen<<8 | uint64(uint8(eff)))
	return eff
}

// Level returns this logger's own configured level (NOTSET when inheriting).
func (l *Logger) Level() Level {
	s := l.m.acquire()
	defer s.release()
	if st := s.conf[l.name]; st != nil {
		return st.level
	}
	return NotSetLevel
}

// Propagate reports whether records are forwarded to ancestor handlers.
func (l *Logger) Propagate() bool {
	s := l.m.acquire()
	defer s.release()
	if st := s.conf[l.name]; st != nil {
		return st.propagate
	}
	return true
}

// Handlers returns the handlers currently attached to this logger.
func (l *Logger) Handlers() []RecordHandler {
	s := l.m.acquire()
	defer s.release()
	if st := s.conf[l.name]; st != nil {
		return append([]RecordHandler(nil), st.handlers...)
	}
	return nil
}

// --- Thread-safe mutators. Each clones and republishes the snapshot, so
// concurrent emitters see either the old or the new state, never a tear.

// SetLevel sets this logger's level. Descendants with NOTSET pick it up at
// their next level check.
func (l *Logger) SetLevel(lvl Level) {
	l.m.mutateLogger(l.name, func(_ *snapshot, st *loggerState) {
		st.level = lvl
	})
}

// SetPropagate controls forwarding to ancestor handlers. Ignored on root.
func (l *Logger) SetPropagate(b bool) {
	l.m.mutateLogger(l.name, func(_ *snapshot, st *loggerState) {
		st.propagate = b
	})
}

// AddHandler attaches h to this logger and registers it in the manager's
// handler table. Several loggers may share one handler; its lifetime is
// owned by the table. Externally supplied handlers need only the
// RecordHandler shape.
func (l *Logger) AddHandler(h RecordHandler) {
	l.m.mutateLogger(l.name, func(next *snapshot, st *loggerState) {
		next.handlers[h.ID()] = h
		st.handlerIDs = append(st.handlerIDs, h.ID())
		st.handlers = append(st.handlers, h)
	})
}

// ClearHandlers detaches every handler from this logger. Detached runtimes
// stay alive while other loggers or the handler table reference them.
func (l *Logger) ClearHandlers() {
	l.m.mutateLogger(l.name, func(_ *snapshot, st *loggerState) {
		st.handlerIDs = nil
		st.handlers = nil
	})
}

// AddFilter appends a filter to this logger.
func (l *Logger) AddFilter(f Filter) {
	l.m.mutateLogger(l.name, func(_ *snapshot, st *loggerState) {
		st.filters = append(st.filters, f)
	})
}

// ClearFilters removes every filter from this logger.
func (l *Logger) ClearFilters() {
	l.m.mutateLogger(l.name, func(_ *snapshot, st *loggerState) {
		st.filters = nil
	})
}

// FlushHandlers flushes this logger's handlers concurrently, returning
// true when every flush acknowledged within its timeout.
func (l *Logger) FlushHandlers() bool {
	s := l.m.acquire()
	defer s.release()
	st := s.conf[l.name]
	if st == nil {
		return true
	}
	var g errgroup.Group
	for _, h := range st.handlers {
		h := h
		g.Go(func() error {
			if !h.Flush() {
				return ErrHandlerClosed
			}
			return nil
		})
	}
	return g.Wait() == nil
}

// --- Emission ---

// logParams carries the optional payloads of one log call.
type logParams struct {
	exc        interface{}
	stack      bool
	fields     []Field
	threadName string
}

// LogOption attaches optional payloads to a log call.
type LogOption func(*logParams)

// WithException attaches an opaque exception payload built by an external
// capture subsystem.
func WithException(payload interface{}) LogOption {
	return func(p *logParams) { p.exc = payload }
}

// WithStackInfo captures a stack trace at the emit site.
func WithStackInfo() LogOption {
	return func(p *logParams) { p.stack = true }
}

// WithRecordFields binds typed fields to the record.
func WithRecordFields(fields ...Field) LogOption {
	return func(p *logParams) { p.fields = append(p.fields, fields...) }
}

// WithFieldMap binds a Fields map to the record.
func WithFieldMap(m Fields) LogOption {
	return func(p *logParams) { p.fields = append(p.fields, fieldsFromMap(m)...) }
}

// WithThreadName names the emitting goroutine on the record.
func WithThreadName(name string) LogOption {
	return func(p *logParams) { p.threadName = name }
}

// Log emits a record with slog-style key-value pairs. It returns the
// rendered preview when the record passed this logger's level check and
// the empty string when it was suppressed. A handler that is closed or
// poisoned surfaces its error; Dropped and TimedOut outcomes do not.
func (l *Logger) Log(lvl Level, msg string, kvs ...interface{}) (string, error) {
	return l.emit(lvl, msg, kvs, nil)
}

// LogWith emits a record with optional exception, stack, field and thread
// payloads.
func (l *Logger) LogWith(lvl Level, msg string, opts ...LogOption) (string, error) {
	var p logParams
	for _, opt := range opts {
		opt(&p)
	}
	return l.emit(lvl, msg, nil, &p)
}

// --- Level methods ---

func (l *Logger) Trace(msg string, kvs ...interface{}) (string, error) {
	return l.emit(TraceLevel, msg, kvs, nil)
}

func (l *Logger) Debug(msg string, kvs ...interface{}) (string, error) {
	return l.emit(DebugLevel, msg, kvs, nil)
}

func (l *Logger) Info(msg string, kvs ...interface{}) (string, error) {
	return l.emit(InfoLevel, msg, kvs, nil)
}

func (l *Logger) Warn(msg string, kvs ...interface{}) (string, error) {
	return l.emit(WarnLevel, msg, kvs, nil)
}

func (l *Logger) Error(msg string, kvs ...interface{}) (string, error) {
	return l.emit(ErrorLevel, msg, kvs, nil)
}

func (l *Logger) Critical(msg string, kvs ...interface{}) (string, error) {
	return l.emit(CriticalLevel, msg, kvs, nil)
}

// emit is the hot path: level check against the pinned snapshot, record
// materialisation, filter evaluation, then dispatch to this logger's
// handlers and — while propagation allows — each ancestor's, in walk order.
func (l *Logger) emit(lvl Level, msg string, kvs []interface{}, p *logParams) (string, error) {
	s := l.m.acquire()
	defer s.release()

	if !lvl.Enabled(l.effectiveLevel(s)) {
		return "", nil
	}

	rec := newRecord(l.name, lvl, msg)
	if !l.noCaller.Load() {
		// emit -> Log/Info/... -> user code
		rec.Caller = captureCaller(3 + int(l.callerSkip.Load()))
	}
	if p != nil {
		rec.Exc = p.exc
		if p.stack {
			rec.Stack = captureStack(3 + int(l.callerSkip.Load()))
		}
		rec.AddFields(p.fields)
		rec.ThreadName = p.threadName
	}
	if len(kvs) > 0 {
		rec.AddKVPairs(kvs)
	}

	preview := l.preview(s, rec)

	// Filters gate dispatch, not the return value: the record passed this
	// logger's threshold.
	if st := s.conf[l.name]; st != nil && !allowAll(st.filters, rec) {
		return preview, nil
	}

	var firstErr error
	for n := l.name; n != ""; n = parentName(n) {
		st := s.conf[n]
		if st != nil {
			for _, h := range st.handlers {
				if _, err := h.Submit(rec); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			if !st.propagate {
				break
			}
		}
		if n == rootName {
			break
		}
	}
	return preview, firstErr
}

// preview renders the record with the first handler's formatter in
// dispatch order, falling back to the default format.
func (l *Logger) preview(s *snapshot, rec *Record) string {
	for n := l.name; n != ""; n = parentName(n) {
		if st := s.conf[n]; st != nil {
			if len(st.handlers) > 0 {
				if fh, ok := st.handlers[0].(interface{ Formatter() *Formatter }); ok {
					return fh.Formatter().Render(rec)
				}
				return defaultFormatter.Render(rec)
			}
			if !st.propagate {
				break
			}
		}
		if n == rootName {
			break
		}
	}
	return defaultFormatter.Render(rec)
}
