package obs

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
	// File enables a rotating JSON sink next to stdout.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`

	App string `mapstructure:"-"`
	Env string `mapstructure:"-"`
	Ver string `mapstructure:"-"`
}

func NewLogger(c LogConfig) (*zap.Logger, error) {
	var cfg zap.Config
	if c.Pretty {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	level := new(zapcore.Level)
	if err := level.Set(c.Level); err != nil {
		*level = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(*level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var opts []zap.Option
	if c.File != "" {
		fileCore, err := rotatingCore(c, cfg.Level)
		if err != nil {
			return nil, err
		}
		opts = append(opts, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, fileCore)
		}))
	}
	// Fields go on after the tee so both sinks carry them.
	opts = append(opts, zap.Fields(
		zap.String("service", c.App),
		zap.String("env", c.Env),
		zap.String("version", c.Ver),
	))

	l, err := cfg.Build(opts...)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func rotatingCore(c LogConfig, level zap.AtomicLevel) (zapcore.Core, error) {
	if err := os.MkdirAll(filepath.Dir(c.File), 0o755); err != nil {
		return nil, err
	}
	w := zapcore.AddSync(&lumberjack.Logger{
		Filename:   c.File,
		MaxSize:    orDefault(c.MaxSizeMB, 10), // MB
		MaxBackups: orDefault(c.MaxBackups, 5),
		MaxAge:     orDefault(c.MaxAgeDays, 14), // days
		Compress:   true,
	})
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewCore(zapcore.NewJSONEncoder(enc), w, level), nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
