package core

import (
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// Logger is passed explicitly to every subsystem that needs to report.
type Logger struct {
	*log.Logger
}

type LoggerConfig struct {
	Level        string `toml:"level"`
	Prefix       string `toml:"prefix"`
	ReportCaller bool   `toml:"caller"`
	// Output defaults to stderr when nil.
	Output io.Writer `toml:"-"`
}

func NewLogger(cfg LoggerConfig) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "Rei 🎨 "
	}
	l := log.NewWithOptions(out, log.Options{
		ReportCaller:    cfg.ReportCaller,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Prefix:          prefix,
	})
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
	}
	l.SetLevel(level)
	return &Logger{l}
}

// NopLogger discards everything. Useful for tests and benchmarks.
func NopLogger() *Logger {
	l := log.New(io.Discard)
	l.SetLevel(log.FatalLevel + 1)
	return &Logger{l}
}

// Component returns a sub logger tagged with the given component name.
func (l *Logger) Component(name string) *Logger {
	if l == nil {
		return NopLogger()
	}
	return &Logger{l.Logger.With("component", name)}
}

func (l *Logger) LogDebug(msg string, args ...interface{}) {
	l.Debugf(msg, args...)
}

func (l *Logger) LogInfo(msg string, args ...interface{}) {
	l.Infof(msg, args...)
}

func (l *Logger) LogWarn(msg string, args ...interface{}) {
	l.Warnf(msg, args...)
}

func (l *Logger) LogError(msg string, args ...interface{}) {
	l.Errorf(msg, args...)
}
