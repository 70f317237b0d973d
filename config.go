package logpipe

// FormatterSpec is the topology value describing a formatter: a template
// and an optional {asctime} layout. Compiled at commit time; a malformed
// template fails the commit with ErrInvalidFormatSpec.
type FormatterSpec struct {
	Format     string
	DateFormat string
}

// LoggerConfig is the topology value describing one logger. Handler and
// filter references are resolved at commit time; unknown ids fail with
// ErrUnknownReference.
type LoggerConfig struct {
	Level      Level
	HandlerIDs []string
	FilterIDs  []string
	Propagate  bool
}

// NewLoggerConfig returns the default logger config: NOTSET level, no
// handlers or filters, propagate on.
func NewLoggerConfig() LoggerConfig {
	return LoggerConfig{Level: NotSetLevel, Propagate: true}
}

// WithLevel returns a copy with the level set.
func (c LoggerConfig) WithLevel(lvl Level) LoggerConfig {
	c.Level = lvl
	return c
}

// WithHandlers returns a copy referencing the given handler ids.
func (c LoggerConfig) WithHandlers(ids ...string) LoggerConfig {
	c.HandlerIDs = append([]string(nil), ids...)
	return c
}

// WithFilters returns a copy referencing the given filter ids.
func (c LoggerConfig) WithFilters(ids ...string) LoggerConfig {
	c.FilterIDs = append([]string(nil), ids...)
	return c
}

// WithPropagate returns a copy with the propagate flag set.
func (c LoggerConfig) WithPropagate(b bool) LoggerConfig {
	c.Propagate = b
	return c
}

// Topology is the immutable configuration unit committed to a manager.
// Committing is all-or-nothing; concurrent emitters observe either the
// whole previous topology or the whole new one.
type Topology struct {
	Version         int
	DisableExisting bool
	Formatters      map[string]FormatterSpec
	Filters         map[string]Filter
	Handlers        map[string]HandlerConfig
	Loggers         map[string]LoggerConfig
	Root            *LoggerConfig
}

// Builder is a fluent accumulator of named formatters, filters, handlers
// and loggers. Duplicate ids within one builder are last-wins. Nothing is
// validated or spawned until BuildAndInit/Apply.
type Builder struct {
	t Topology
}

// NewBuilder creates an empty builder at version 1.
func NewBuilder() *Builder {
	return &Builder{t: Topology{
		Version:    1,
		Formatters: map[string]FormatterSpec{},
		Filters:    map[string]Filter{},
		Handlers:   map[string]HandlerConfig{},
		Loggers:    map[string]LoggerConfig{},
	}}
}

// NewBuilderFromTopology reconstructs a builder from a frozen topology
// value, such that building it again yields an equal value.
func NewBuilderFromTopology(t Topology) *Builder {
	b := NewBuilder()
	b.t.Version = t.Version
	b.t.DisableExisting = t.DisableExisting
	for id, f := range t.Formatters {
		b.t.Formatters[id] = f
	}
	for id, f := range t.Filters {
		b.t.Filters[id] = f
	}
	for id, h := range t.Handlers {
		b.t.Handlers[id] = h
	}
	for name, l := range t.Loggers {
		b.t.Loggers[name] = l
	}
	if t.Root != nil {
		root := *t.Root
		b.t.Root = &root
	}
	return b
}

// Version sets the config schema version. Only 1 is supported.
func (b *Builder) Version(v int) *Builder {
	b.t.Version = v
	return b
}

// DisableExisting clears, at commit time, every prior logger that is
// neither configured by this topology nor an ancestor of a configured
// logger.
func (b *Builder) DisableExisting(v bool) *Builder {
	b.t.DisableExisting = v
	return b
}

// Formatter registers a named formatter spec.
func (b *Builder) Formatter(id string, spec FormatterSpec) *Builder {
	b.t.Formatters[id] = spec
	return b
}

// Filter registers a named filter.
func (b *Builder) Filter(id string, f Filter) *Builder {
	b.t.Filters[id] = f
	return b
}

// Handler registers a named handler config.
func (b *Builder) Handler(id string, cfg HandlerConfig) *Builder {
	b.t.Handlers[id] = cfg
	return b
}

// Logger registers a named logger config.
func (b *Builder) Logger(name string, cfg LoggerConfig) *Builder {
	b.t.Loggers[name] = cfg
	return b
}

// Root sets the root logger config. Required.
func (b *Builder) Root(cfg LoggerConfig) *Builder {
	b.t.Root = &cfg
	return b
}

// Value freezes the accumulated configuration into a Topology.
func (b *Builder) Value() Topology {
	return NewBuilderFromTopology(b.t).t
}

// Apply commits the topology to m. Validation failures leave m's current
// topology untouched.
func (b *Builder) Apply(m *Manager) error {
	return m.Apply(b.Value())
}

// BuildAndInit commits the topology to the process default manager.
func (b *Builder) BuildAndInit() error {
	return b.Apply(Default())
}
