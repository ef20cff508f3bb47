package config

import (
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// SetupLogger creates a dual-output logger: text to console, JSON to file.
// console is usually stderr, or io.Discard while a progress display owns the
// terminal. Returns the logger and a cleanup function to close the file.
func SetupLogger(console io.Writer, logFile string, level slog.Level) (*slog.Logger, func() error) {
	// Console handler (text for readability)
	consoleHandler := slog.NewTextHandler(console, &slog.HandlerOptions{
		Level: level,
	})

	if logFile == "" {
		return slog.New(consoleHandler), func() error { return nil }
	}

	// Try to open log file
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		// Fall back to console-only if file fails
		slog.Error("failed to open log file, using stderr only", "error", err, "file", logFile)
		return slog.New(consoleHandler), func() error { return nil }
	}

	// File handler (JSON for machine parsing)
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{
		Level: level,
	})

	// Fanout to both handlers
	logger := slog.New(slogmulti.Fanout(consoleHandler, fileHandler))

	cleanup := func() error {
		return file.Close()
	}

	return logger, cleanup
}

// SetupLoggerWithWriters creates a logger with custom writers (for testing).
func SetupLoggerWithWriters(stderr, file io.Writer, level slog.Level) *slog.Logger {
	stderrHandler := slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
	return slog.New(slogmulti.Fanout(stderrHandler, fileHandler))
}
