// Package logging builds the service's zap logger.
package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/hicksonhaziel/xandviz/config"
)

// New returns a sugared logger writing console-encoded lines to stderr, or
// JSON lines to a rotated file when cfg.File is set. The returned closer flushes
// and releases the file.
func New(cfg config.LogConfig) (*zap.SugaredLogger, func() error, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		l, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid log level %s: %w", cfg.Level, err)
		}
		level = l
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var (
		encoder zapcore.Encoder
		sink    zapcore.WriteSyncer
		closer  io.Closer
	)
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		encoder = zapcore.NewJSONEncoder(encCfg)
		sink = zapcore.AddSync(rotator)
		closer = rotator
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
		sink = zapcore.Lock(os.Stderr)
	}

	logger := zap.New(zapcore.NewCore(encoder, sink, level), zap.AddCaller())
	sugar := logger.Sugar()
	closeFn := func() error {
		_ = sugar.Sync()
		if closer != nil {
			return closer.Close()
		}
		return nil
	}
	return sugar, closeFn, nil
}
