package logpipe

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// attach builds a memSink-backed handler and attaches it to l.
func attach(t *testing.T, l *Logger, cfg CommonHandlerConfig) (*Handler, *memSink) {
	t.Helper()
	sink := &memSink{}
	h := newTestHandler(t, cfg, sink)
	l.AddHandler(h)
	return h, sink
}

func TestLogSuppressedBelowLevel(t *testing.T) {
	m := NewManager()
	m.Root().SetLevel(InfoLevel)
	l, err := m.GetLogger("core")
	require.NoError(t, err)
	_, sink := attach(t, m.Root(), CommonHandlerConfig{Capacity: 8})

	preview, err := l.Debug("x")
	require.NoError(t, err)
	assert.Empty(t, preview, "suppressed call returns no preview")

	require.NoError(t, m.Reset())
	assert.Empty(t, sink.snapshot(), "no sink write for a suppressed record")
}

func TestLogPreview(t *testing.T) {
	m := NewManager()
	l, err := m.GetLogger("core")
	require.NoError(t, err)

	// No handler anywhere: default preview format.
	preview, err := l.Info("hello")
	require.NoError(t, err)
	assert.Equal(t, "core [INFO] hello", preview)

	// With a handler, the first handler's formatter shapes the preview.
	sink := &memSink{}
	h := newTestHandler(t, CommonHandlerConfig{Capacity: 8, Format: "{levelname}>{message}"}, sink)
	l.AddHandler(h)
	preview, err = l.Info("hello")
	require.NoError(t, err)
	assert.Equal(t, "INFO>hello", preview)
	m.Reset()
}

func TestStreamOrderingScenario(t *testing.T) {
	m := NewManager()
	l, err := m.GetLogger("core")
	require.NoError(t, err)
	_, sink := attach(t, l, CommonHandlerConfig{Capacity: 8, Overflow: BlockPolicy()})

	for i := 0; i < 100; i++ {
		_, err := l.Info(fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}
	require.NoError(t, m.Reset())

	lines := sink.snapshot()
	require.Len(t, lines, 100)
	for i, line := range lines {
		assert.Equal(t, fmt.Sprintf("core [INFO] m%d", i), line)
	}
}

func TestPropagationScenario(t *testing.T) {
	m := NewManager()
	c, err := m.GetLogger("c")
	require.NoError(t, err)
	_, rootSink := attach(t, m.Root(), CommonHandlerConfig{Capacity: 8, Format: "root:{message}"})
	_, childSink := attach(t, c, CommonHandlerConfig{Capacity: 8, Format: "child:{message}"})

	_, err = c.Info("ping")
	require.NoError(t, err)
	require.True(t, c.FlushHandlers())
	require.True(t, m.Root().FlushHandlers())

	assert.Equal(t, []string{"child:ping"}, childSink.snapshot())
	assert.Equal(t, []string{"root:ping"}, rootSink.snapshot())

	c.SetPropagate(false)
	_, err = c.Info("pong")
	require.NoError(t, err)
	require.NoError(t, m.Reset())

	assert.Equal(t, []string{"child:ping", "child:pong"}, childSink.snapshot())
	assert.Equal(t, []string{"root:ping"}, rootSink.snapshot(), "no propagation after SetPropagate(false)")
}

func TestAncestorWalkReachesEveryLevel(t *testing.T) {
	m := NewManager()
	c, _ := m.GetLogger("a.b")
	p, _ := m.GetLogger("a")

	sink := &memSink{}
	hc := newTestHandler(t, CommonHandlerConfig{Capacity: 8, Format: "b:{message}"}, sink)
	hp := newTestHandler(t, CommonHandlerConfig{Capacity: 8, Format: "a:{message}"}, sink)
	c.AddHandler(hc)
	p.AddHandler(hp)

	// The record reaches the emitting logger's handler and each
	// ancestor's, exactly once each. The two consumers drain
	// independently, so only membership is asserted on the shared sink.
	_, err := c.Info("x")
	require.NoError(t, err)
	require.NoError(t, m.Reset())
	assert.ElementsMatch(t, []string{"b:x", "a:x"}, sink.snapshot())
}

func TestEffectiveLevelInheritance(t *testing.T) {
	m := NewManager()
	parent, _ := m.GetLogger("svc")
	child, _ := m.GetLogger("svc.db")

	assert.Equal(t, NotSetLevel, child.EffectiveLevel())

	parent.SetLevel(ErrorLevel)
	assert.Equal(t, ErrorLevel, child.EffectiveLevel(), "child inherits at the next check")

	child.SetLevel(DebugLevel)
	assert.Equal(t, DebugLevel, child.EffectiveLevel())
	assert.Equal(t, ErrorLevel, parent.EffectiveLevel())

	child.SetLevel(NotSetLevel)
	assert.Equal(t, ErrorLevel, child.EffectiveLevel())
}

func TestFiltersGateDispatchNotPreview(t *testing.T) {
	m := NewManager()
	l, _ := m.GetLogger("app.web")
	_, sink := attach(t, l, CommonHandlerConfig{Capacity: 8})
	l.AddFilter(LevelCeilingFilter{Max: InfoLevel})

	preview, err := l.Error("rejected by ceiling")
	require.NoError(t, err)
	assert.NotEmpty(t, preview, "level check passed, so the preview is returned")

	preview, err = l.Info("accepted")
	require.NoError(t, err)
	assert.NotEmpty(t, preview)

	require.NoError(t, m.Reset())
	assert.Equal(t, []string{"app.web [INFO] accepted"}, sink.snapshot())
}

func TestLogSurfacesClosedHandler(t *testing.T) {
	m := NewManager()
	l, _ := m.GetLogger("core")
	h, _ := attach(t, l, CommonHandlerConfig{Capacity: 8})

	require.NoError(t, h.Close())
	_, err := l.Info("into the void")
	assert.ErrorIs(t, err, ErrHandlerClosed)
	m.Reset()
}

func TestLogWithPayloads(t *testing.T) {
	m := NewManager()
	l, _ := m.GetLogger("core")
	sink := &memSink{}
	h := newTestHandler(t, CommonHandlerConfig{
		Capacity: 8,
		Format:   "{message}|{exc_text}|{threadName}|{user}",
	}, sink)
	l.AddHandler(h)

	_, err := l.LogWith(ErrorLevel, "failed",
		WithException("ValueError: nope"),
		WithThreadName("worker-9"),
		WithRecordFields(String("user", "ali")),
	)
	require.NoError(t, err)
	require.NoError(t, m.Reset())
	assert.Equal(t, []string{"failed|ValueError: nope|worker-9|ali"}, sink.snapshot())
}

func TestLogWithFieldMap(t *testing.T) {
	m := NewManager()
	l, _ := m.GetLogger("core")
	sink := &memSink{}
	h := newTestHandler(t, CommonHandlerConfig{
		Capacity: 8,
		Format:   "{message} region={region} shard={shard}",
	}, sink)
	l.AddHandler(h)

	_, err := l.LogWith(InfoLevel, "bound",
		WithFieldMap(Fields{"region": "eu-west-1", "shard": 7}),
	)
	require.NoError(t, err)
	require.NoError(t, m.Reset())
	assert.Equal(t, []string{"bound region=eu-west-1 shard=7"}, sink.snapshot())
}

func TestLogWithStackInfo(t *testing.T) {
	m := NewManager()
	l, _ := m.GetLogger("core")

	preview, err := l.LogWith(ErrorLevel, "boom", WithStackInfo())
	require.NoError(t, err)
	assert.Equal(t, "core [ERROR] boom", preview)
}

func TestClearHandlersAndFilters(t *testing.T) {
	m := NewManager()
	l, _ := m.GetLogger("core")
	attach(t, l, CommonHandlerConfig{Capacity: 8})
	l.AddFilter(NamePrefixFilter{Prefix: "core"})

	require.Len(t, l.Handlers(), 1)
	l.ClearHandlers()
	assert.Empty(t, l.Handlers())
	l.ClearFilters()
	m.Reset()
}

func TestConcurrentEmitAndReconfigure(t *testing.T) {
	m := NewManager()
	l, _ := m.GetLogger("hot.path")
	l.SetCaptureCaller(false)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			if i%2 == 0 {
				m.Root().SetLevel(InfoLevel)
			} else {
				m.Root().SetLevel(WarnLevel)
			}
			l.SetLevel(NotSetLevel)
		}
	}()

	for i := 0; i < 2000; i++ {
		_, err := l.Info("spin", "i", i)
		require.NoError(t, err)
	}
	<-done

	// The published level is one of the two committed values, never a tear.
	eff := l.EffectiveLevel()
	assert.Contains(t, []Level{InfoLevel, WarnLevel}, eff)
	m.Reset()
}

func TestFlushHandlersTimeout(t *testing.T) {
	m := NewManager()
	l, _ := m.GetLogger("core")
	gate := make(chan struct{})
	sink := &memSink{gate: gate}
	h := newTestHandler(t, CommonHandlerConfig{
		Capacity:     4,
		FlushTimeout: 30 * time.Millisecond,
	}, sink)
	l.AddHandler(h)

	h.Submit(newRecord("core", InfoLevel, "stall"))
	assert.False(t, l.FlushHandlers())
	close(gate)
	m.Reset()
}
