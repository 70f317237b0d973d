package logpipe

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestRotationBackupShuffle(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "app.log")

	h, err := NewRotatingFileHandler(RotatingFileConfig{
		Path:        base,
		MaxBytes:    32,
		BackupCount: 2,
	})
	require.NoError(t, err)

	// "core [INFO] msg-NN" + newline = 19 bytes per record.
	for i := 1; i <= 5; i++ {
		res, err := h.Submit(newRecord("core", InfoLevel, fmt.Sprintf("msg-%02d", i)))
		require.NoError(t, err)
		require.Equal(t, Submitted, res)
	}
	require.NoError(t, h.Close())

	assert.Equal(t, "core [INFO] msg-05\n", readFile(t, base))
	assert.Equal(t, "core [INFO] msg-04\n", readFile(t, base+".1"))
	assert.Equal(t, "core [INFO] msg-03\n", readFile(t, base+".2"))
	_, err = os.Stat(base + ".3")
	assert.True(t, os.IsNotExist(err), "older backups are evicted")
}

func TestRotationSingleBackup(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "app.log")

	h, err := NewRotatingFileHandler(RotatingFileConfig{
		Path:        base,
		MaxBytes:    19,
		BackupCount: 1,
	})
	require.NoError(t, err)

	// max_bytes equal to record size: every record after the first
	// triggers a rotation.
	for i := 1; i <= 4; i++ {
		h.Submit(newRecord("core", InfoLevel, fmt.Sprintf("msg-%02d", i)))
	}
	require.NoError(t, h.Close())

	assert.Equal(t, "core [INFO] msg-04\n", readFile(t, base))
	assert.Equal(t, "core [INFO] msg-03\n", readFile(t, base+".1"))
	_, err = os.Stat(base + ".2")
	assert.True(t, os.IsNotExist(err))
}

func TestRotationOversizeRecord(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "app.log")
	stats := &handlerStats{}
	sink, err := newRotatingSink(base, 16, 2, stats)
	require.NoError(t, err)

	require.NoError(t, sink.Write(newRecord("core", InfoLevel, "x"), []byte("small")))
	long := []byte("this line is far longer than max_bytes")
	require.NoError(t, sink.Write(newRecord("core", InfoLevel, "x"), long))
	require.NoError(t, sink.Close())

	// The oversize record is written whole to a freshly rotated file.
	assert.Equal(t, string(long)+"\n", readFile(t, base))
	assert.Equal(t, "small\n", readFile(t, base+".1"))
}

func TestRotationFreshOpenFailure(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "app.log")
	stats := &handlerStats{}
	sink, err := newRotatingSink(base, 10, 2, stats)
	require.NoError(t, err)

	require.NoError(t, sink.Write(nil, []byte("first-row")))

	realOpen := sink.openFresh
	sink.openFresh = func(string) (*os.File, error) {
		return nil, errors.New("disk gone")
	}

	// Triggers a rotation whose fresh open fails: the record is dropped,
	// backups stay consistent.
	require.NoError(t, sink.Write(nil, []byte("second-row")))
	assert.Equal(t, uint64(1), stats.dropped.Load())
	assert.Equal(t, "first-row\n", readFile(t, base+".1"))

	// Still broken: drops keep counting.
	require.NoError(t, sink.Write(nil, []byte("third-row")))
	assert.Equal(t, uint64(2), stats.dropped.Load())

	// Recovery: the next write attempt reopens base and lands.
	sink.openFresh = realOpen
	require.NoError(t, sink.Write(nil, []byte("fourth-row")))
	require.NoError(t, sink.Close())
	assert.Equal(t, "fourth-row\n", readFile(t, base))
	assert.Equal(t, "first-row\n", readFile(t, base+".1"))
}

func TestRotationDisabled(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "app.log")

	h, err := NewRotatingFileHandler(RotatingFileConfig{Path: base})
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		h.Submit(newRecord("core", InfoLevel, fmt.Sprintf("m%d", i)))
	}
	require.NoError(t, h.Close())

	matches, err := filepath.Glob(base + ".*")
	require.NoError(t, err)
	assert.Empty(t, matches, "no backups when rotation is disabled")
}

func TestRotationConfigValidation(t *testing.T) {
	dir := t.TempDir()
	for _, cfg := range []RotatingFileConfig{
		{Path: filepath.Join(dir, "a.log"), MaxBytes: 10},
		{Path: filepath.Join(dir, "b.log"), BackupCount: 3},
		{Path: filepath.Join(dir, "c.log"), MaxBytes: -1, BackupCount: 1},
	} {
		_, err := NewRotatingFileHandler(cfg)
		assert.ErrorIs(t, err, ErrInvalidRotationConfig, "%+v", cfg)
	}
}

func TestFileHandlerOpenFailure(t *testing.T) {
	_, err := NewFileHandler(FileConfig{Path: ""})
	var hce *HandlerConfigError
	require.ErrorAs(t, err, &hce)
	assert.Equal(t, IoOpen, hce.Kind)
}

func TestFileHandlerAppends(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plain.log")
	require.NoError(t, os.WriteFile(path, []byte("existing\n"), 0644))

	h, err := NewFileHandler(FileConfig{Path: path})
	require.NoError(t, err)
	h.Submit(newRecord("core", InfoLevel, "appended"))
	require.NoError(t, h.Close())

	assert.Equal(t, "existing\ncore [INFO] appended\n", readFile(t, path))
}
