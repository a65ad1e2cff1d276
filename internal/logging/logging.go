package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	charmlog "github.com/charmbracelet/log"
	"golang.org/x/term"
)

// Setup initializes the global slog logger using charmbracelet/log as the backend.
// If stderr is a terminal, uses colored text format. Otherwise, uses JSON format.
func Setup(verbose bool) {
	handler := newHandler(os.Stderr, verbose)

	// Use plain format for non-TTY output
	if !isTerminal() {
		handler.SetFormatter(charmlog.JSONFormatter)
	}

	slog.SetDefault(slog.New(handler))
}

// SetupFile routes the global slog logger to a log file in addition to stderr.
// File output is always JSON so it can be tailed and parsed. Used by serve mode.
// The returned closer flushes and closes the file.
func SetupFile(path string, verbose bool) (io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	handler := newHandler(io.MultiWriter(os.Stderr, f), verbose)
	handler.SetFormatter(charmlog.JSONFormatter)
	slog.SetDefault(slog.New(handler))
	return f, nil
}

func newHandler(w io.Writer, verbose bool) *charmlog.Logger {
	handler := charmlog.NewWithOptions(w, charmlog.Options{
		ReportTimestamp: true,
	})
	if verbose {
		handler.SetLevel(charmlog.DebugLevel)
	} else {
		handler.SetLevel(charmlog.InfoLevel)
	}
	return handler
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}
