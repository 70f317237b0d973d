package logpipe

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// rootName is the reserved name of the hierarchy root.
const rootName = "root"

// loggerState is one logger's configured state inside a snapshot. States
// are immutable once published; mutation clones and republishes.
type loggerState struct {
	level      Level
	propagate  bool
	handlerIDs []string
	handlers   []RecordHandler
	filters    []Filter
}

func defaultLoggerState() *loggerState {
	return &loggerState{level: NotSetLevel, propagate: true}
}

func (st *loggerState) clone() *loggerState {
	c := &loggerState{level: st.level, propagate: st.propagate}
	c.handlerIDs = append([]string(nil), st.handlerIDs...)
	c.handlers = append([]RecordHandler(nil), st.handlers...)
	c.filters = append([]Filter(nil), st.filters...)
	return c
}

// snapshot is the published topology: the handler table plus every
// configured logger's state. Emitters acquire it for the duration of one
// log call; handler runtimes dropped by a later commit are closed only
// after the last reference releases.
type snapshot struct {
	gen      uint64
	handlers map[string]RecordHandler
	conf     map[string]*loggerState

	refs    atomic.Int64
	retired []RecordHandler
}

func newSnapshot(gen uint64) *snapshot {
	s := &snapshot{
		gen:      gen,
		handlers: map[string]RecordHandler{},
		conf:     map[string]*loggerState{rootName: defaultLoggerState()},
	}
	s.refs.Store(1)
	return s
}

func (s *snapshot) release() error {
	if s.refs.Add(-1) == 0 {
		var err error
		for _, h := range s.retired {
			err = multierr.Append(err, h.Close())
		}
		return err
	}
	return nil
}

// effectiveLevel walks name up to root and returns the nearest set level,
// or NotSetLevel (which enables everything) when none is set.
func (s *snapshot) effectiveLevel(name string) Level {
	for n := name; n != ""; n = parentName(n) {
		if st := s.conf[n]; st != nil && st.level != NotSetLevel {
			return st.level
		}
		if n == rootName {
			break
		}
	}
	return NotSetLevel
}

// parentName returns the parent in the dotted hierarchy: a.b.c → a.b,
// a → root, root → "".
func parentName(name string) string {
	if name == rootName {
		return ""
	}
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return rootName
}

// validateLoggerName rejects empty names, leading/trailing dots and
// consecutive dots.
func validateLoggerName(name string) error {
	if name == "" || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") ||
		strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidLoggerName, name)
	}
	return nil
}

// Manager owns the logger hierarchy and the published topology. Emitters
// read the topology lock-free; commits and per-logger mutations go through
// a single writer lock and swap the published snapshot atomically.
type Manager struct {
	mu  sync.Mutex // serialises publishers
	cur atomic.Pointer[snapshot]

	regMu    sync.Mutex
	registry map[string]*Logger
}

// NewManager creates a manager with an empty topology: a root logger with
// NOTSET level, no handlers, propagate on.
func NewManager() *Manager {
	m := &Manager{registry: map[string]*Logger{}}
	m.cur.Store(newSnapshot(1))
	return m
}

// acquire pins the current snapshot for the duration of one call.
func (m *Manager) acquire() *snapshot {
	for {
		s := m.cur.Load()
		s.refs.Add(1)
		if m.cur.Load() == s {
			return s
		}
		s.release()
	}
}

// GetLogger validates name, materialises any missing ancestors, and returns
// the canonical logger for name. Repeat calls return the same logger.
func (m *Manager) GetLogger(name string) (*Logger, error) {
	if err := validateLoggerName(name); err != nil {
		return nil, err
	}
	m.regMu.Lock()
	defer m.regMu.Unlock()
	for n := name; n != ""; n = parentName(n) {
		if _, ok := m.registry[n]; !ok {
			m.registry[n] = &Logger{name: n, m: m}
		}
		if n == rootName {
			break
		}
	}
	return m.registry[name], nil
}

// Root returns the root logger.
func (m *Manager) Root() *Logger {
	l, _ := m.GetLogger(rootName)
	return l
}

// publish swaps in next as the published snapshot and schedules retirement
// of handler runtimes that are no longer part of the published topology.
// Called with m.mu held.
func (m *Manager) publish(next *snapshot) error {
	old := m.cur.Load()
	next.gen = old.gen + 1
	m.cur.Store(next)
	old.retired = retiredHandlers(old, next)
	return old.release()
}

// retiredHandlers returns every runtime reachable from old that is neither
// in new's handler table nor referenced by any of new's logger states.
func retiredHandlers(old, next *snapshot) []RecordHandler {
	live := map[RecordHandler]bool{}
	for _, h := range next.handlers {
		live[h] = true
	}
	for _, st := range next.conf {
		for _, h := range st.handlers {
			live[h] = true
		}
	}
	seen := map[RecordHandler]bool{}
	var retired []RecordHandler
	collect := func(h RecordHandler) {
		if !live[h] && !seen[h] {
			seen[h] = true
			retired = append(retired, h)
		}
	}
	for _, h := range old.handlers {
		collect(h)
	}
	for _, st := range old.conf {
		for _, h := range st.handlers {
			collect(h)
		}
	}
	return retired
}

// mutateLogger clones the current snapshot, applies fn to name's state,
// and republishes. Used by the thread-safe per-logger mutators.
func (m *Manager) mutateLogger(name string, fn func(next *snapshot, st *loggerState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.cur.Load()
	next := &snapshot{
		gen:      old.gen,
		handlers: make(map[string]RecordHandler, len(old.handlers)),
		conf:     make(map[string]*loggerState, len(old.conf)+1),
	}
	next.refs.Store(1)
	for id, h := range old.handlers {
		next.handlers[id] = h
	}
	for n, st := range old.conf {
		next.conf[n] = st
	}
	st := defaultLoggerState()
	if prev := old.conf[name]; prev != nil {
		st = prev.clone()
	}
	fn(next, st)
	next.conf[name] = st
	m.publish(next)
}

// Reset installs an empty topology with only a default root logger. Prior
// handler runtimes are closed once every in-flight log call that captured
// them has released its reference; when none are in flight the close
// errors are returned.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.publish(newSnapshot(0))
}

// Apply validates and commits a topology. All-or-nothing: a validation or
// handler build failure leaves the published topology untouched and closes
// any runtimes spawned during the attempt.
func (m *Manager) Apply(t Topology) error {
	if t.Version != 1 {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, t.Version)
	}
	if t.Root == nil {
		return ErrMissingRoot
	}

	// Resolve formatter references and compile specs.
	formatters := make(map[string]*Formatter, len(t.Formatters))
	for id, spec := range t.Formatters {
		var opts []FormatterOption
		if spec.DateFormat != "" {
			opts = append(opts, WithDateFormat(spec.DateFormat))
		}
		tmpl := spec.Format
		if tmpl == "" {
			tmpl = DefaultFormat
		}
		f, err := NewFormatter(tmpl, opts...)
		if err != nil {
			return fmt.Errorf("formatter %q: %w", id, err)
		}
		formatters[id] = f
	}

	// Validate every reference before spawning anything.
	for id, hc := range t.Handlers {
		if fid := hc.common().FormatterID; fid != "" {
			if _, ok := formatters[fid]; !ok {
				return fmt.Errorf("%w: handler %q formatter %q", ErrUnknownReference, id, fid)
			}
		}
	}
	checkLogger := func(name string, lc LoggerConfig) error {
		for _, hid := range lc.HandlerIDs {
			if _, ok := t.Handlers[hid]; !ok {
				return fmt.Errorf("%w: logger %q handler %q", ErrUnknownReference, name, hid)
			}
		}
		for _, fid := range lc.FilterIDs {
			if _, ok := t.Filters[fid]; !ok {
				return fmt.Errorf("%w: logger %q filter %q", ErrUnknownReference, name, fid)
			}
		}
		return nil
	}
	for name, lc := range t.Loggers {
		if err := validateLoggerName(name); err != nil {
			return err
		}
		if err := checkLogger(name, lc); err != nil {
			return err
		}
	}
	if err := checkLogger(rootName, *t.Root); err != nil {
		return err
	}

	// Spawn the new handler runtimes.
	built := make(map[string]RecordHandler, len(t.Handlers))
	for id, hc := range t.Handlers {
		var f *Formatter
		if fid := hc.common().FormatterID; fid != "" {
			f = formatters[fid]
		}
		h, err := hc.buildHandler(id, f)
		if err != nil {
			for _, b := range built {
				b.Close()
			}
			return err
		}
		built[id] = h
	}

	stateFor := func(lc LoggerConfig) *loggerState {
		st := &loggerState{level: lc.Level, propagate: lc.Propagate}
		for _, hid := range lc.HandlerIDs {
			st.handlerIDs = append(st.handlerIDs, hid)
			st.handlers = append(st.handlers, built[hid])
		}
		for _, fid := range lc.FilterIDs {
			st.filters = append(st.filters, t.Filters[fid])
		}
		return st
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.cur.Load()
	next := &snapshot{
		gen:      old.gen,
		handlers: built,
		conf:     make(map[string]*loggerState, len(t.Loggers)+len(old.conf)),
	}
	next.refs.Store(1)

	// Carry forward prior loggers the commit does not touch. With
	// disable_existing, only ancestors of newly configured loggers keep
	// their state; everything else omitted from the topology is cleared.
	// Handler references of carried loggers are remapped by id against the
	// new table; ids gone from the table drop off the list.
	for name, st := range old.conf {
		if name == rootName {
			continue
		}
		if _, configured := t.Loggers[name]; configured {
			continue
		}
		if t.DisableExisting && !isAncestorOfAny(name, t.Loggers) {
			continue
		}
		next.conf[name] = remapHandlers(st, built)
	}
	for name, lc := range t.Loggers {
		next.conf[name] = stateFor(lc)
	}
	next.conf[rootName] = stateFor(*t.Root)

	m.publish(next)
	return nil
}

// isAncestorOfAny reports whether name is a proper ancestor of any
// configured logger name.
func isAncestorOfAny(name string, loggers map[string]LoggerConfig) bool {
	prefix := name + "."
	for n := range loggers {
		if strings.HasPrefix(n, prefix) {
			return true
		}
	}
	return false
}

// remapHandlers rebinds a carried logger state to the new handler table.
func remapHandlers(st *loggerState, table map[string]RecordHandler) *loggerState {
	c := &loggerState{level: st.level, propagate: st.propagate}
	c.filters = append([]Filter(nil), st.filters...)
	for _, id := range st.handlerIDs {
		if h, ok := table[id]; ok {
			c.handlerIDs = append(c.handlerIDs, id)
			c.handlers = append(c.handlers, h)
		}
	}
	return c
}

// FlushAll flushes every handler in the published topology concurrently.
// Returns true when every flush acknowledged within its timeout.
func (m *Manager) FlushAll() bool {
	s := m.acquire()
	defer s.release()
	var g errgroup.Group
	for _, h := range s.handlers {
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

// Shutdown closes every handler in the published topology and installs an
// empty one. Close errors are aggregated.
func (m *Manager) Shutdown() error {
	return m.Reset()
}
