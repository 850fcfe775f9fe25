// Package logger provides the structured logger used across the learning,
// matching and persistence layers. It is a thin interface over logrus so
// components can be handed a scoped logger and tests can capture output.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger interface defines the logging contract
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	WithField(key string, value interface{}) Logger
	WithFields(fields Fields) Logger
	WithError(err error) Logger
	WithComponent(component string) Logger
}

// Fields represents a map of key-value pairs for structured logging
type Fields map[string]interface{}

// Level represents log levels
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Format represents log output formats
type Format string

const (
	JSONFormat Format = "json"
	TextFormat Format = "text"
)

// Output represents log output destinations
type Output string

const (
	StdoutOutput Output = "stdout"
	StderrOutput Output = "stderr"
	FileOutput   Output = "file"
)

// Config holds configuration options for the logger
type Config struct {
	Level            Level  `json:"level" mapstructure:"level"`
	Format           Format `json:"format" mapstructure:"format"`
	Output           Output `json:"output" mapstructure:"output"`
	File             string `json:"file,omitempty" mapstructure:"file"`
	DisableTimestamp bool   `json:"disable_timestamp,omitempty" mapstructure:"disable_timestamp"`
}

// DefaultConfig returns a default logger configuration
func DefaultConfig() *Config {
	return &Config{
		Level:  InfoLevel,
		Format: TextFormat,
		Output: StderrOutput,
	}
}

// Validate validates the logger configuration
func (c *Config) Validate() error {
	switch c.Level {
	case DebugLevel, InfoLevel, WarnLevel, ErrorLevel:
	default:
		return fmt.Errorf("invalid log level: %s", c.Level)
	}

	switch c.Format {
	case JSONFormat, TextFormat:
	default:
		return fmt.Errorf("invalid log format: %s", c.Format)
	}

	switch c.Output {
	case StdoutOutput, StderrOutput:
	case FileOutput:
		if strings.TrimSpace(c.File) == "" {
			return fmt.Errorf("log file path is required for file output")
		}
	default:
		return fmt.Errorf("invalid log output: %s", c.Output)
	}

	return nil
}

type logrusLogger struct {
	entry *logrus.Entry
}

// NewLogger creates a new logger with the given configuration
func NewLogger(config *Config) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logger configuration: %w", err)
	}

	base := logrus.New()

	level, err := logrus.ParseLevel(string(config.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", config.Level, err)
	}
	base.SetLevel(level)

	writer, err := outputWriter(config)
	if err != nil {
		return nil, fmt.Errorf("failed to set log output: %w", err)
	}
	base.SetOutput(writer)
	base.SetFormatter(formatter(config))

	return &logrusLogger{entry: logrus.NewEntry(base)}, nil
}

// NewWithWriter returns a text logger at the given level writing to w.
// Tests use it to capture log lines.
func NewWithWriter(w io.Writer, level Level) Logger {
	base := logrus.New()
	base.SetOutput(w)
	base.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true})
	if lvl, err := logrus.ParseLevel(string(level)); err == nil {
		base.SetLevel(lvl)
	}
	return &logrusLogger{entry: logrus.NewEntry(base)}
}

// Discard returns a logger that drops everything.
func Discard() Logger {
	return NewWithWriter(io.Discard, ErrorLevel)
}

func outputWriter(config *Config) (io.Writer, error) {
	switch config.Output {
	case StdoutOutput:
		return os.Stdout, nil
	case FileOutput:
		if err := os.MkdirAll(filepath.Dir(config.File), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err := os.OpenFile(config.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		return file, nil
	default:
		return os.Stderr, nil
	}
}

func formatter(config *Config) logrus.Formatter {
	if config.Format == JSONFormat {
		return &logrus.JSONFormatter{
			DisableTimestamp: config.DisableTimestamp,
			TimestampFormat:  time.RFC3339,
		}
	}
	return &logrus.TextFormatter{
		DisableTimestamp: config.DisableTimestamp,
		FullTimestamp:    !config.DisableTimestamp,
		TimestampFormat:  "2006-01-02 15:04:05",
	}
}

func (l *logrusLogger) Debug(args ...interface{})                 { l.entry.Debug(args...) }
func (l *logrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *logrusLogger) Info(args ...interface{})                  { l.entry.Info(args...) }
func (l *logrusLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warn(args ...interface{})                  { l.entry.Warn(args...) }
func (l *logrusLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Error(args ...interface{})                 { l.entry.Error(args...) }
func (l *logrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithField(key, value)}
}

func (l *logrusLogger) WithFields(fields Fields) Logger {
	return &logrusLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *logrusLogger) WithError(err error) Logger {
	return &logrusLogger{entry: l.entry.WithError(err)}
}

func (l *logrusLogger) WithComponent(component string) Logger {
	return l.WithField("component", component)
}

var (
	globalMu     sync.RWMutex
	globalLogger Logger
)

func init() {
	l, err := NewLogger(DefaultConfig())
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize logger")
	}
	globalLogger = l
}

// SetGlobalLogger sets the process-wide default logger. Components that are
// not handed a logger explicitly fall back to it.
func SetGlobalLogger(l Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// GetGlobalLogger returns the process-wide default logger
func GetGlobalLogger() Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// OrGlobal returns l, or the global logger when l is nil.
func OrGlobal(l Logger) Logger {
	if l != nil {
		return l
	}
	return GetGlobalLogger()
}
