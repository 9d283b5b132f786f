package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"relay/internal/config"
)

// Options describes logger construction parameters.
type Options struct {
	Level  string
	Format string
	// Stdout mirrors every record to standard output.
	Stdout bool
	// Files receive every record; parent directories are created.
	Files       []string
	Development bool
	// Color enables ANSI level labels. It only applies when stdout is the
	// sole sink and is a terminal.
	Color bool
}

// New builds a slog logger writing to the configured sinks. With no sinks,
// stdout is used.
func New(opts Options) (*slog.Logger, error) {
	level := ParseLevel(opts.Level)
	addSource := opts.Development || level <= slog.LevelDebug

	sink, stdoutOnly, err := openSinks(opts.Stdout, opts.Files)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "console":
		color := opts.Color && stdoutOnly && isatty.IsTerminal(os.Stdout.Fd())
		return slog.New(newConsoleHandler(sink, level, addSource, color)), nil
	case "json":
		return slog.New(newJSONHandler(sink, level, addSource)), nil
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}
}

// NewFromConfig returns a file-only logger writing <log_dir>/<name>.log with
// the configured level and format. CLI commands use it so their diagnostics
// never interleave with command output.
func NewFromConfig(cfg *config.Config, name string) (*slog.Logger, error) {
	if cfg == nil || cfg.Paths.LogDir == "" {
		return NewNop(), nil
	}
	if strings.TrimSpace(name) == "" {
		name = "relay"
	}
	return New(Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Files:  []string{filepath.Join(cfg.Paths.LogDir, name+".log")},
	})
}

// ParseLevel maps a config level name onto slog; unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openSinks(stdout bool, files []string) (io.Writer, bool, error) {
	var writers []io.Writer
	if stdout {
		writers = append(writers, os.Stdout)
	}
	seen := make(map[string]bool, len(files))
	for _, path := range files {
		path = strings.TrimSpace(path)
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, false, fmt.Errorf("create log directory for %s: %w", path, err)
		}
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, false, fmt.Errorf("open log file %s: %w", path, err)
		}
		writers = append(writers, file)
	}
	switch len(writers) {
	case 0:
		return os.Stdout, true, nil
	case 1:
		return writers[0], stdout, nil
	default:
		return io.MultiWriter(writers...), false, nil
	}
}

func newJSONHandler(w io.Writer, level slog.Level, addSource bool) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: addSource,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				attr.Key = "ts"
				if attr.Value.Kind() == slog.KindTime {
					attr.Value = slog.StringValue(attr.Value.Time().UTC().Format(time.RFC3339))
				}
			case slog.LevelKey:
				attr.Value = slog.StringValue(strings.ToLower(attr.Value.String()))
			case slog.SourceKey:
				if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
					attr.Value = slog.StringValue(fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
				}
			}
			return attr
		},
	})
}
