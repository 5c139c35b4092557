package logger

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"mpmdmeta/internal/config"
)

// New creates a zap logger based on the logging configuration.
func New(cfg *config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to parse log level %q: %w", cfg.Level, err)
	}

	var encoder zapcore.Encoder
	switch cfg.Format {
	case "json":
		encoder = zapcore.NewJSONEncoder(jsonEncoderConfig())
	case "console", "":
		encoder = zapcore.NewConsoleEncoder(consoleEncoderConfig())
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	core := zapcore.NewCore(encoder, writeSyncer(cfg), level)
	return zap.New(core), nil
}

func jsonEncoderConfig() zapcore.EncoderConfig {
	c := zap.NewProductionEncoderConfig()
	c.TimeKey = "timestamp"
	c.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	c.EncodeLevel = zapcore.LowercaseLevelEncoder
	c.MessageKey = "message"
	return c
}

func consoleEncoderConfig() zapcore.EncoderConfig {
	c := zap.NewProductionEncoderConfig()
	c.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	c.EncodeLevel = zapcore.CapitalLevelEncoder
	return c
}

// writeSyncer selects the log sink: stderr, stdout, or a rotated file for
// any other value.
func writeSyncer(cfg *config.LoggingConfig) zapcore.WriteSyncer {
	switch cfg.Output {
	case "stderr", "":
		return zapcore.Lock(os.Stderr)
	case "stdout":
		return zapcore.Lock(os.Stdout)
	default:
		return zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		})
	}
}
