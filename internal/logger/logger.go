// Package logger configures the process-wide slog logger.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds a logger writing to out and, when file is set, also appending
// to that file. The returned closer releases the file.
func New(out io.Writer, lvl, format, file string) (*slog.Logger, io.Closer, error) {
	level := slog.LevelInfo.Level()
	if lvl != "" {
		if err := level.UnmarshalText([]byte(lvl)); err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", lvl, err)
		}
	}
	opt := &slog.HandlerOptions{AddSource: false, Level: level}

	handler := newHandler(out, format, opt)
	if file == "" {
		return slog.New(handler), nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %s: %w", file, err)
	}

	// the file always gets json so it can be shipped as is
	fileHandler := slog.NewJSONHandler(f, opt)
	return slog.New(slogmulti.Fanout(handler, fileHandler)), f, nil
}

func newHandler(out io.Writer, format string, opt *slog.HandlerOptions) slog.Handler {
	switch strings.ToLower(format) {
	case "text":
		return slog.NewTextHandler(out, opt)
	default:
		return slog.NewJSONHandler(out, opt)
	}
}

// Setup installs a stdout logger as the slog default.
func Setup(lvl, format, file string) (io.Closer, error) {
	l, closer, err := New(os.Stdout, lvl, format, file)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(l)
	return closer, nil
}
