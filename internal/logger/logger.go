package logger

import (
	"os"

	"nifty-paper-terminal/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger creates a new zap.Logger instance based on the provided level and format.
func NewLogger(level string, format string) (*zap.Logger, error) {
	logLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	var cfg zap.Config
	if format == "json" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	cfg.Level = zap.NewAtomicLevelAt(logLevel)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// New builds the application logger. Console output follows cfg.Format;
// when cfg.File is set the same entries are also written as JSON to a
// size-rotated file.
func New(cfg config.Logger) (*zap.Logger, error) {
	if cfg.File == "" {
		return NewLogger(cfg.Level, cfg.Format)
	}

	logLevel, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	level := zap.NewAtomicLevelAt(logLevel)

	consoleEnc := zap.NewDevelopmentEncoderConfig()
	if cfg.Format == "json" {
		consoleEnc = zap.NewProductionEncoderConfig()
	}
	consoleEnc.EncodeTime = zapcore.ISO8601TimeEncoder

	fileEnc := zap.NewProductionEncoderConfig()
	fileEnc.EncodeTime = zapcore.ISO8601TimeEncoder

	var console zapcore.Encoder
	if cfg.Format == "json" {
		console = zapcore.NewJSONEncoder(consoleEnc)
	} else {
		console = zapcore.NewConsoleEncoder(consoleEnc)
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}

	core := zapcore.NewTee(
		zapcore.NewCore(console, zapcore.Lock(os.Stderr), level),
		zapcore.NewCore(zapcore.NewJSONEncoder(fileEnc), zapcore.AddSync(rotator), level),
	)
	return zap.New(core, zap.AddCaller()), nil
}
