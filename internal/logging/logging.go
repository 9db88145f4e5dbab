// Package logging owns the process-wide structured logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/lmittmann/tint"
)

var (
	level  = new(slog.LevelVar)
	logger atomic.Pointer[slog.Logger]
)

func init() {
	level.Set(slog.LevelInfo)
	SetOutput(os.Stderr)
}

// Logger returns the process logger.
func Logger() *slog.Logger {
	return logger.Load()
}

// SetLevel changes the minimum level for every logger handed out by Logger.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// SetOutput redirects log output. Colour is disabled for non-terminal writers.
func SetOutput(w io.Writer) {
	_, isFile := w.(*os.File)
	handler := tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		NoColor:    !isFile,
	})
	logger.Store(slog.New(handler))
}
