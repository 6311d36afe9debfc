// Package logging builds the process logger. Libraries in this module take
// a *slog.Logger; the binary backs it with zap.
package logging

import (
	"fmt"
	"log/slog"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"

	"github.com/roach88/syncspace/internal/config"
)

// Logger pairs the zap logger with its slog front end. Sync flushes both.
type Logger struct {
	Zap   *zap.Logger
	Slog  *slog.Logger
	level zap.AtomicLevel
}

// New builds a logger from cfg. format "json" uses zap's production
// encoder and "text" the console encoder.
func New(cfg config.LoggingConfig) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	var zc zap.Config
	switch cfg.Format {
	case "json", "":
		zc = zap.NewProductionConfig()
	case "text":
		zc = zap.NewDevelopmentConfig()
		zc.Development = false
	default:
		return nil, fmt.Errorf("logging: unknown format %q", cfg.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Sampling = nil
	out := "stderr"
	if cfg.File != "" {
		out = cfg.File
	}
	zc.OutputPaths = []string{out}
	zc.ErrorOutputPaths = []string{"stderr"}

	zl, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	return Wrap(zl, zc.Level), nil
}

// Wrap exposes an existing zap logger through slog.
func Wrap(zl *zap.Logger, level zap.AtomicLevel) *Logger {
	h := zapslog.NewHandler(zl.Core(), zapslog.WithName("syncspace"))
	return &Logger{Zap: zl, Slog: slog.New(h), level: level}
}

// SetLevel changes the level at runtime.
func (l *Logger) SetLevel(level zapcore.Level) {
	l.level.SetLevel(level)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.Zap.Sync()
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return Wrap(zap.NewNop(), zap.NewAtomicLevel())
}
