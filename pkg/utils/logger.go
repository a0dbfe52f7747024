package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"naming_events/pkg/config"
)

// NewLogger builds the service logger: JSON to a rotated file, plus a
// console copy in development.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Log.OutputPath == "" {
		return nil, fmt.Errorf("log output path cannot be empty")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Log.OutputPath), 0755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.Log.OutputPath,
		MaxSize:    cfg.Log.MaxSize,
		MaxAge:     cfg.Log.MaxAge,
		MaxBackups: cfg.Log.MaxBackups,
		Compress:   cfg.Log.Compress,
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	level := cfg.GetLogLevel()
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(rotator), level),
	}

	var options []zap.Option
	if cfg.IsDevelopment() {
		consoleConfig := encoderConfig
		consoleConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleConfig),
			zapcore.Lock(os.Stderr),
			level,
		))
		options = append(options, zap.Development())
	}
	options = append(options,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)

	return zap.New(zapcore.NewTee(cores...), options...), nil
}

// ForTenant returns a child logger tagged with the tenant id
func ForTenant(parent *zap.Logger, tenantID string, fields ...zapcore.Field) *zap.Logger {
	return parent.With(append([]zapcore.Field{zap.String("tenant", tenantID)}, fields...)...)
}

// LogWriter implements io.Writer so stdlib loggers end up in zap
type LogWriter struct {
	logger *zap.Logger
	level  zapcore.Level
}

// NewLogWriter creates a new log writer
func NewLogWriter(logger *zap.Logger, level zapcore.Level) *LogWriter {
	return &LogWriter{
		logger: logger,
		level:  level,
	}
}

func (w *LogWriter) Write(p []byte) (n int, err error) {
	msg := strings.TrimRight(string(p), "\n")
	switch w.level {
	case zapcore.ErrorLevel:
		w.logger.Error(msg)
	case zapcore.WarnLevel:
		w.logger.Warn(msg)
	case zapcore.InfoLevel:
		w.logger.Info(msg)
	default:
		w.logger.Debug(msg)
	}
	return len(p), nil
}
