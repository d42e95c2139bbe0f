package logger

import (
	"go.uber.org/zap"
)

var global *zap.Logger

// Init builds the process logger and installs it as zap's global logger.
// Debug switches to the development encoder.
func Init(debug bool) error {
	var config zap.Config

	if debug {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	l, err := config.Build()
	if err != nil {
		return err
	}

	global = l
	zap.ReplaceGlobals(l)
	return nil
}

// Get returns the process logger, or a no-op logger before Init.
func Get() *zap.Logger {
	if global == nil {
		global = zap.NewNop()
	}
	return global
}

// Sync flushes buffered entries. Errors from stderr sync on some platforms are ignored.
func Sync() {
	if global != nil {
		_ = global.Sync()
	}
}
