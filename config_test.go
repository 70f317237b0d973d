package logpipe

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderRoundTrip(t *testing.T) {
	b := NewBuilder().
		DisableExisting(true).
		Formatter("brief", FormatterSpec{Format: "{levelname}:{message}"}).
		Formatter("full", FormatterSpec{Format: "{asctime} {name} {message}", DateFormat: "15:04:05"}).
		Filter("ceiling", LevelCeilingFilter{Max: WarnLevel}).
		Filter("scope", NamePrefixFilter{Prefix: "app"}).
		Handler("console", StreamConfig{
			CommonHandlerConfig: CommonHandlerConfig{FormatterID: "brief", Capacity: 64},
			Target:              os.Stdout,
		}).
		Handler("rotating", RotatingFileConfig{
			CommonHandlerConfig: CommonHandlerConfig{FormatterID: "full"},
			Path:                "/var/log/app.log",
			MaxBytes:            1 << 20,
			BackupCount:         5,
		}).
		Logger("app", NewLoggerConfig().WithLevel(DebugLevel).WithHandlers("console")).
		Logger("app.audit", NewLoggerConfig().WithHandlers("rotating").WithFilters("ceiling").WithPropagate(false)).
		Root(NewLoggerConfig().WithLevel(InfoLevel).WithHandlers("console"))

	v := b.Value()
	again := NewBuilderFromTopology(v).Value()
	assert.Equal(t, v, again, "builder -> topology -> builder round-trips")
}

func TestBuilderValueIsFrozen(t *testing.T) {
	b := NewBuilder().Root(NewLoggerConfig())
	v := b.Value()
	b.Logger("later", NewLoggerConfig())
	assert.NotContains(t, v.Loggers, "later", "Value is a frozen copy")
}

func TestBuilderLastWins(t *testing.T) {
	b := NewBuilder().
		Formatter("f", FormatterSpec{Format: "{message}"}).
		Formatter("f", FormatterSpec{Format: "{levelname}"}).
		Root(NewLoggerConfig())
	v := b.Value()
	assert.Equal(t, "{levelname}", v.Formatters["f"].Format)
}

func TestBuilderVersionRejected(t *testing.T) {
	m := NewManager()
	err := NewBuilder().Version(3).Root(NewLoggerConfig()).Apply(m)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestBuilderInvalidFormatterSpecRejected(t *testing.T) {
	m := NewManager()
	err := NewBuilder().
		Formatter("bad", FormatterSpec{Format: "{unclosed"}).
		Root(NewLoggerConfig()).
		Apply(m)
	assert.ErrorIs(t, err, ErrInvalidFormatSpec)
}

func TestLoggerConfigFluent(t *testing.T) {
	base := NewLoggerConfig()
	require.Equal(t, NotSetLevel, base.Level)
	require.True(t, base.Propagate)

	derived := base.WithLevel(ErrorLevel).WithHandlers("a", "b").WithPropagate(false)
	assert.Equal(t, ErrorLevel, derived.Level)
	assert.Equal(t, []string{"a", "b"}, derived.HandlerIDs)
	assert.False(t, derived.Propagate)

	// Value semantics: the base config is untouched.
	assert.Equal(t, NotSetLevel, base.Level)
	assert.Empty(t, base.HandlerIDs)
}
