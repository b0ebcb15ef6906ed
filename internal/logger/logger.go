// Package logger provides structured logging built on slog, with configurable
// format, destination, and file rotation.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mwojcik/candlesync/internal/config"
)

// Manager owns the base logger and its output writer.
type Manager struct {
	baseLogger *slog.Logger
	writer     io.WriteCloser
	components map[string]*slog.Logger
}

// NewManager creates a logger manager from the logging configuration.
func NewManager(cfg config.LoggingConfig) (*Manager, error) {
	writer, err := createWriter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create log writer: %w", err)
	}

	opts := &slog.HandlerOptions{
		Level:     parseLogLevel(cfg.Level),
		AddSource: cfg.Level == "debug",
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.TimeKey:
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339Nano))
				}
			case slog.LevelKey:
				if level, ok := a.Value.Any().(slog.Level); ok {
					a.Value = slog.StringValue(strings.ToUpper(level.String()))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(writer, opts)
	default:
		handler = slog.NewJSONHandler(writer, opts)
	}

	return &Manager{
		baseLogger: slog.New(handler),
		writer:     writer,
		components: make(map[string]*slog.Logger),
	}, nil
}

// Logger returns the base logger.
func (m *Manager) Logger() *slog.Logger {
	return m.baseLogger
}

// Component returns a logger tagged with the component name. Loggers are
// cached per component.
func (m *Manager) Component(name string) *slog.Logger {
	if cached, ok := m.components[name]; ok {
		return cached
	}
	l := m.baseLogger.With(slog.String("component", name))
	m.components[name] = l
	return l
}

// Close flushes and closes the output writer.
func (m *Manager) Close() error {
	if m.writer != nil {
		return m.writer.Close()
	}
	return nil
}

func createWriter(cfg config.LoggingConfig) (io.WriteCloser, error) {
	switch cfg.Output {
	case "stderr":
		return nopWriteCloser{os.Stderr}, nil
	case "file":
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("file path is required when output is 'file'")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		return &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}, nil
	default:
		return nopWriteCloser{os.Stdout}, nil
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
