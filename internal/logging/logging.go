package logging

import (
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config logger settings
type Config struct {
	Level      zapcore.Level
	Format     string // "json" or "console"
	File       string // empty = no file
	MaxSizeMB  int
	MaxBackups int
	AlsoStderr bool
}

func DefaultConfig() Config {
	return Config{
		Level:      zapcore.InfoLevel,
		Format:     "json",
		MaxSizeMB:  50,
		MaxBackups: 3,
		AlsoStderr: true,
	}
}

// NewConfigFromEnv reads LOG_LEVEL, LOG_FORMAT, LOG_FILE, LOG_MAX_SIZE_MB and LOG_STDERR.
func NewConfigFromEnv() Config {
	cfg := DefaultConfig()

	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		cfg.Level = zapcore.DebugLevel
	case "warn", "warning":
		cfg.Level = zapcore.WarnLevel
	case "error":
		cfg.Level = zapcore.ErrorLevel
	}

	switch strings.ToLower(os.Getenv("LOG_FORMAT")) {
	case "console", "text":
		cfg.Format = "console"
	case "json", "":
		cfg.Format = "json"
	}

	cfg.File = strings.TrimSpace(os.Getenv("LOG_FILE"))
	cfg.MaxSizeMB = envInt(os.Getenv("LOG_MAX_SIZE_MB"), cfg.MaxSizeMB)
	cfg.AlsoStderr = envBool(os.Getenv("LOG_STDERR"), true)
	return cfg
}

// New builds a zap logger writing to stderr and, when configured, to a
// size-rotated file.
func New(cfg Config) *zap.Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "time"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	cores := make([]zapcore.Core, 0, 2)
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), cfg.Level))
	}
	if cfg.AlsoStderr || len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), cfg.Level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}

func NewFromEnv() *zap.Logger {
	return New(NewConfigFromEnv())
}

func envBool(s string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "t", "yes", "y":
		return true
	case "0", "false", "f", "no", "n":
		return false
	default:
		return def
	}
}

func envInt(s string, def int) int {
	if s == "" {
		return def
	}
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}
