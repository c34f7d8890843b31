// Package logger builds the zap logger used across ch-ferry.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ch-ferry/config"
)

// New creates a logger writing to stderr with the configured level and encoding
// ("console" or "json").
func New(cfg config.LogConfig) (*zap.Logger, error) {
	levelName := cfg.Level
	if levelName == "" {
		levelName = "info"
	}
	level, err := zapcore.ParseLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	encoding := cfg.Encoding
	if encoding == "" {
		encoding = "console"
	}
	if encoding != "console" && encoding != "json" {
		return nil, fmt.Errorf("invalid log encoding %q", encoding)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if encoding == "console" {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
