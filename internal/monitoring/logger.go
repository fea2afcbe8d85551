package monitoring

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig represents logging configuration
type LogConfig struct {
	Level      string `json:"level" mapstructure:"level"`               // debug, info, warn, error
	Format     string `json:"format" mapstructure:"format"`             // json, console
	Output     string `json:"output" mapstructure:"output"`             // file, console, both
	FilePath   string `json:"file_path" mapstructure:"file_path"`       // log file path
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`   // max size in MB before rotation
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`   // max number of old log files
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"` // max age in days
	Compress   bool   `json:"compress" mapstructure:"compress"`         // compress rotated files
}

// DefaultLogConfig returns default logging configuration
func DefaultLogConfig(dataDir string) *LogConfig {
	return &LogConfig{
		Level:      "info",
		Format:     "json",
		Output:     "file",
		FilePath:   filepath.Join(dataDir, "logs", "app.log"),
		MaxSizeMB:  100,
		MaxBackups: 3,
		MaxAgeDays: 30,
		Compress:   true,
	}
}

// NewLogger creates a new Zap logger with the given configuration.
// Console output goes to stderr so it does not interleave with command output.
func NewLogger(cfg *LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	sinks, err := logSinks(cfg)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(
		encoder,
		zapcore.NewMultiWriteSyncer(sinks...),
		level,
	)

	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

func logSinks(cfg *LogConfig) ([]zapcore.WriteSyncer, error) {
	var sinks []zapcore.WriteSyncer
	switch cfg.Output {
	case "file", "both":
		w, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays, cfg.Compress)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, zapcore.AddSync(w))
	case "console":
	default:
		return nil, fmt.Errorf("invalid log output: %q", cfg.Output)
	}
	if cfg.Output != "file" {
		sinks = append(sinks, zapcore.Lock(os.Stderr))
	}
	return sinks, nil
}

// NewRotatingWriter opens a size-rotated append-only file. The tool error log
// uses it too, so a noisy fetcher cannot grow the output folder unbounded.
func NewRotatingWriter(path string, maxSizeMB, maxBackups, maxAgeDays int, compress bool) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   compress,
	}, nil
}

// OrNop returns logger, or a no-op logger when it is nil
func OrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
