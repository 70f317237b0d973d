// Package logpipe provides hierarchical, structured logging built on a
// concurrent dispatch fabric: every handler owns a bounded queue and a
// dedicated consumer goroutine, so emitters never touch a sink directly.
//
// Loggers form a dot-separated hierarchy with level inheritance and
// propagation; handlers (stream, file, rotating file, socket, HTTP) share
// one queue runtime with selectable overflow behaviour (drop, block,
// timeout). Configuration is committed transactionally: a topology built
// with Builder is swapped in atomically, and concurrent log calls observe
// either the whole old topology or the whole new one.
//
// Usage:
//
//	h, _ := logpipe.NewStreamHandler(logpipe.StreamConfig{})
//	log, _ := logpipe.GetLogger("app")
//	log.AddHandler(h)
//	log.Info("server started", "port", 8080)
package logpipe

// defaultManager is the process-wide manager. Tests and embedders that
// want isolation use NewManager instead.
var defaultManager = NewManager()

// Default returns the process-wide manager.
func Default() *Manager {
	return defaultManager
}

// GetLogger returns the canonical logger for name from the process
// manager, materialising missing ancestors.
func GetLogger(name string) (*Logger, error) {
	return defaultManager.GetLogger(name)
}

// Root returns the process manager's root logger.
func Root() *Logger {
	return defaultManager.Root()
}

// ResetManager clears all handlers and loggers from the process manager,
// closing prior handler runtimes once in-flight log calls release them.
func ResetManager() error {
	return defaultManager.Reset()
}

// Flush flushes every handler in the process manager's topology.
func Flush() bool {
	return defaultManager.FlushAll()
}

// Shutdown closes every handler in the process manager's topology.
func Shutdown() error {
	return defaultManager.Shutdown()
}
