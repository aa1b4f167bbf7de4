package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// ConnIDKey is the attribute key carrying the connection identifier.
// The line handler renders it as the trailing "(Connection ID: n)" suffix.
const ConnIDKey = "conn_id"

// Options controls how New builds the logger.
type Options struct {
	// Debug enables debug level logging (per-chunk relay byte counts).
	Debug bool
	// FilePath is the append-only log file. Empty disables the file sink.
	FilePath string
	// Console mirrors every line. Defaults to os.Stdout.
	Console io.Writer
}

// New constructs the process logger. The returned close function releases
// the file sink and must be called at process exit.
func New(opts Options) (*slog.Logger, func() error, error) {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	console := opts.Console
	if console == nil {
		console = os.Stdout
	}

	closer := func() error { return nil }
	w := console
	if opts.FilePath != "" {
		f, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", opts.FilePath, err)
		}
		w = io.MultiWriter(f, console)
		closer = f.Close
	}

	return slog.New(NewHandler(w, level)), closer, nil
}

// ForConnection returns a logger tagged with the connection identifier.
func ForConnection(log *slog.Logger, id uint64) *slog.Logger {
	return log.With(ConnIDKey, id)
}

// Fatal logs at Error level and then exits.
func Fatal(log *slog.Logger, msg string, args ...any) {
	log.Error(msg, args...)
	os.Exit(1)
}
